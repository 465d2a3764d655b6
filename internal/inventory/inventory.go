// Package inventory is the application layer of the pantry tracker: it
// validates and enriches items before they reach storage, runs product
// scans, and serves the HTTP API.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/zombor/pantry-tracker/internal/dates"
	"github.com/zombor/pantry-tracker/internal/storage"
)

// Store is the persistence the service needs. *storage.Store implements it.
type Store interface {
	Mode() storage.Mode
	SubscribeToAuth(fn func(*storage.Identity)) (unsubscribe func())
	SubscribeToInventory(ctx context.Context, userID string, fn func([]storage.InventoryItem)) (unsubscribe func(), err error)
	ListInventory(ctx context.Context, userID string) ([]storage.InventoryItem, error)
	AddInventoryItem(ctx context.Context, userID string, item storage.InventoryItem) (string, error)
	UpdateInventoryItem(ctx context.Context, userID, itemID string, update storage.ItemUpdate) error
	DeleteInventoryItem(ctx context.Context, userID, itemID string) error
	GetUserProfile(ctx context.Context, userID string) storage.UserProfile
	SaveUserProfile(ctx context.Context, userID string, profile storage.UserProfile) (storage.UserProfile, error)
}

// Owner is the user an operation runs for.
type Owner struct {
	UserID   string
	Username string
}

// NewItem is an item as entered by a user, before defaults are applied.
type NewItem struct {
	Name       string         `json:"name"`
	ExpiryDate string         `json:"expiryDate"`
	Quantity   int            `json:"quantity"`
	Source     storage.Source `json:"source"`
}

// ItemView is a stored item decorated with its expiry status. Status is nil
// when the stored date cannot be parsed.
type ItemView struct {
	storage.InventoryItem
	Status *dates.Status `json:"status,omitempty"`
}

// ScanResult is what a scan found, ready for review before saving.
type ScanResult struct {
	ProductName string        `json:"productName"`
	ExpiryDate  string        `json:"expiryDate"`
	Status      *dates.Status `json:"status,omitempty"`
}

// ErrNotFound is returned for unknown scan jobs and exports. Unknown items
// surface as storage.ErrItemNotFound.
var ErrNotFound = errors.New("not found")

// ValidationError reports input the service refuses to store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
