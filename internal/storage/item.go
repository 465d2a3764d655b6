package storage

import (
	"slices"
	"strings"

	"github.com/zombor/pantry-tracker/internal/dates"
)

// Source records how an item entered the inventory.
type Source string

const (
	SourceAI        Source = "AI"
	SourceManual    Source = "MANUAL"
	SourceQuickScan Source = "QUICK_SCAN"
	SourceImported  Source = "IMPORTED"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceAI, SourceManual, SourceQuickScan, SourceImported:
		return true
	}
	return false
}

// InventoryItem is one product in a user's inventory. ID is empty until the
// backend has persisted the item.
type InventoryItem struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	ExpiryDate string `json:"expiryDate"`
	Quantity   int    `json:"quantity"`
	AddedDate  string `json:"addedDate"`
	Source     Source `json:"source"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
}

// ItemUpdate is a partial update; nil fields are left untouched.
type ItemUpdate struct {
	Name       *string `json:"name,omitempty"`
	ExpiryDate *string `json:"expiryDate,omitempty"`
	Quantity   *int    `json:"quantity,omitempty"`
	AddedDate  *string `json:"addedDate,omitempty"`
	Source     *Source `json:"source,omitempty"`
	Username   *string `json:"username,omitempty"`
}

// Apply returns item with the update's fields merged in.
func (u ItemUpdate) Apply(item InventoryItem) InventoryItem {
	if u.Name != nil {
		item.Name = *u.Name
	}
	if u.ExpiryDate != nil {
		item.ExpiryDate = *u.ExpiryDate
	}
	if u.Quantity != nil {
		item.Quantity = *u.Quantity
	}
	if u.AddedDate != nil {
		item.AddedDate = *u.AddedDate
	}
	if u.Source != nil {
		item.Source = *u.Source
	}
	if u.Username != nil {
		item.Username = *u.Username
	}
	return item
}

// IsEmpty reports whether the update changes nothing.
func (u ItemUpdate) IsEmpty() bool {
	return u == ItemUpdate{}
}

// UserProfile is overwritten wholesale on every save.
type UserProfile struct {
	Username   string `json:"username"`
	LastUpdate string `json:"lastUpdate,omitempty"`
}

// GuestProfile is returned when no profile is stored or it cannot be read.
var GuestProfile = UserProfile{Username: "Guest"}

// Identity is the signed-in user as seen by the rest of the application.
type Identity struct {
	UID         string `json:"uid"`
	IsAnonymous bool   `json:"isAnonymous"`
	DisplayName string `json:"displayName"`
}

// LocalGuest is the synthetic identity used whenever the store runs in
// local mode.
var LocalGuest = Identity{
	UID:         "local-guest-user",
	IsAnonymous: true,
	DisplayName: "Local Guest",
}

// sortByExpiry returns a sorted copy, soonest expiry first. Unparseable dates
// fall back to string order so the sort stays total.
func sortByExpiry(items []InventoryItem) []InventoryItem {
	sorted := slices.Clone(items)
	if sorted == nil {
		sorted = []InventoryItem{}
	}
	slices.SortStableFunc(sorted, func(a, b InventoryItem) int {
		ta, errA := dates.ParseDate(a.ExpiryDate)
		tb, errB := dates.ParseDate(b.ExpiryDate)
		if errA != nil || errB != nil {
			return strings.Compare(a.ExpiryDate, b.ExpiryDate)
		}
		return ta.Compare(tb)
	})
	return sorted
}
