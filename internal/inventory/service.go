package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/pantry-tracker/internal/dates"
	"github.com/zombor/pantry-tracker/internal/scanning"
	"github.com/zombor/pantry-tracker/internal/storage"
)

// IDGenerator generates unique IDs for scan jobs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles inventory operations
type Service struct {
	store      Store
	scanner    scanning.Scanner
	archive    Archive
	timeSource TimeSource
}

// NewService creates a new Service with the default time source
func NewService(store Store, scanner scanning.Scanner, archive Archive) *Service {
	return &Service{
		store:      store,
		scanner:    scanner,
		archive:    archive,
		timeSource: &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, scanner scanning.Scanner, archive Archive, timeSrc TimeSource) *Service {
	return &Service{
		store:      store,
		scanner:    scanner,
		archive:    archive,
		timeSource: timeSrc,
	}
}

func (s *Service) today() string {
	return s.timeSource.Now().Format(dates.ISOLayout)
}

// status classifies an expiry date, returning nil when it cannot be parsed
func (s *Service) status(expiryDate string) *dates.Status {
	st, err := dates.Classify(expiryDate, s.timeSource.Now())
	if err != nil {
		return nil
	}
	return &st
}

func (s *Service) views(items []storage.InventoryItem) []ItemView {
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, ItemView{InventoryItem: item, Status: s.status(item.ExpiryDate)})
	}
	return views
}

// normalizeExpiry validates an expiry date and returns it as YYYY-MM-DD
func normalizeExpiry(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Field: "expiryDate", Message: "is required"}
	}
	t, err := dates.ParseDate(raw)
	if err != nil {
		return "", &ValidationError{Field: "expiryDate", Message: fmt.Sprintf("%q is not a date", raw)}
	}
	return t.Format(dates.ISOLayout), nil
}

// Scan analyzes product images. Nothing is stored; the caller reviews the
// result and saves it with AddItem.
func (s *Service) Scan(ctx context.Context, images []scanning.Image, prompt string) (*ScanResult, error) {
	if s.scanner == nil {
		return nil, fmt.Errorf("no scanner configured")
	}
	if strings.TrimSpace(prompt) == "" && len(images) == 2 {
		prompt = scanning.LabelAndDatePrompt
	}

	data, err := s.scanner.ScanProduct(ctx, images, prompt)
	if err != nil {
		slog.Error("Failed to scan product", "images", len(images), "error", err)
		return nil, fmt.Errorf("scanning product: %w", err)
	}

	return &ScanResult{
		ProductName: data.ProductName,
		ExpiryDate:  data.ExpiryDate,
		Status:      s.status(data.ExpiryDate),
	}, nil
}

// AddItem validates item, fills in defaults and stores it
func (s *Service) AddItem(ctx context.Context, owner Owner, item NewItem) (*ItemView, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}
	expiry, err := normalizeExpiry(item.ExpiryDate)
	if err != nil {
		return nil, err
	}
	if item.Quantity < 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	quantity := item.Quantity
	if quantity == 0 {
		quantity = 1
	}
	source := item.Source
	if source == "" {
		source = storage.SourceManual
	}
	if !source.Valid() {
		return nil, &ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", source)}
	}

	stored := storage.InventoryItem{
		Name:       name,
		ExpiryDate: expiry,
		Quantity:   quantity,
		AddedDate:  s.today(),
		Source:     source,
		UserID:     owner.UserID,
		Username:   owner.Username,
	}
	id, err := s.store.AddInventoryItem(ctx, owner.UserID, stored)
	if err != nil {
		return nil, fmt.Errorf("adding item: %w", err)
	}
	stored.ID = id

	slog.Info("Added item", "user_id", owner.UserID, "id", id, "name", name, "source", source)
	return &ItemView{InventoryItem: stored, Status: s.status(expiry)}, nil
}

// UpdateItem merges update into the item. A quantity of zero or less
// deletes the item instead.
func (s *Service) UpdateItem(ctx context.Context, owner Owner, itemID string, update storage.ItemUpdate) error {
	if update.IsEmpty() {
		return &ValidationError{Field: "update", Message: "no fields to update"}
	}
	if update.Quantity != nil && *update.Quantity <= 0 {
		return s.DeleteItem(ctx, owner, itemID)
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return &ValidationError{Field: "name", Message: "must not be empty"}
		}
		update.Name = &name
	}
	if update.ExpiryDate != nil {
		expiry, err := normalizeExpiry(*update.ExpiryDate)
		if err != nil {
			return err
		}
		update.ExpiryDate = &expiry
	}
	if update.Source != nil && !update.Source.Valid() {
		return &ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", *update.Source)}
	}

	if err := s.store.UpdateInventoryItem(ctx, owner.UserID, itemID, update); err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// AdjustQuantity adds delta to the item's quantity and returns the new
// quantity. The item is deleted when it reaches zero.
func (s *Service) AdjustQuantity(ctx context.Context, owner Owner, itemID string, delta int) (int, error) {
	items, err := s.store.ListInventory(ctx, owner.UserID)
	if err != nil {
		return 0, fmt.Errorf("listing items: %w", err)
	}

	for _, item := range items {
		if item.ID != itemID {
			continue
		}
		quantity := item.Quantity + delta
		if quantity <= 0 {
			return 0, s.DeleteItem(ctx, owner, itemID)
		}
		if err := s.store.UpdateInventoryItem(ctx, owner.UserID, itemID, storage.ItemUpdate{Quantity: &quantity}); err != nil {
			return 0, fmt.Errorf("updating quantity: %w", err)
		}
		return quantity, nil
	}
	return 0, fmt.Errorf("%w: %s", storage.ErrItemNotFound, itemID)
}

// DeleteItem removes an item
func (s *Service) DeleteItem(ctx context.Context, owner Owner, itemID string) error {
	if err := s.store.DeleteInventoryItem(ctx, owner.UserID, itemID); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	slog.Info("Deleted item", "user_id", owner.UserID, "id", itemID)
	return nil
}

// ListItems returns the owner's items, soonest expiry first, with status
func (s *Service) ListItems(ctx context.Context, owner Owner) ([]ItemView, error) {
	items, err := s.store.ListInventory(ctx, owner.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return s.views(items), nil
}

// Subscribe calls fn with the owner's decorated items on every change
func (s *Service) Subscribe(ctx context.Context, owner Owner, fn func([]ItemView)) (func(), error) {
	return s.store.SubscribeToInventory(ctx, owner.UserID, func(items []storage.InventoryItem) {
		fn(s.views(items))
	})
}

// importEntry is one element of an imported JSON array. Quantity is left raw
// because exports from other tools carry it as a string or not at all.
type importEntry struct {
	Name       string          `json:"name"`
	ExpiryDate string          `json:"expiryDate"`
	Quantity   json.RawMessage `json:"quantity"`
}

func coerceQuantity(raw json.RawMessage) int {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 1
		}
		if n, err = strconv.ParseFloat(strings.TrimSpace(str), 64); err != nil {
			return 1
		}
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

// ImportItems adds every entry of a JSON array that has a name and a valid
// expiry date, and returns how many were added.
func (s *Service) ImportItems(ctx context.Context, owner Owner, data []byte) (int, error) {
	var entries []importEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, &ValidationError{Field: "file", Message: "must be a JSON array of items"}
	}

	imported := 0
	for i, entry := range entries {
		if strings.TrimSpace(entry.Name) == "" || strings.TrimSpace(entry.ExpiryDate) == "" {
			continue
		}
		_, err := s.AddItem(ctx, owner, NewItem{
			Name:       entry.Name,
			ExpiryDate: entry.ExpiryDate,
			Quantity:   coerceQuantity(entry.Quantity),
			Source:     storage.SourceImported,
		})
		if err != nil {
			slog.Warn("Skipping imported item", "index", i, "name", entry.Name, "error", err)
			continue
		}
		imported++
	}

	slog.Info("Imported items", "user_id", owner.UserID, "imported", imported, "total", len(entries))
	return imported, nil
}

// ExportItems renders the owner's items as an indented JSON array and
// archives a copy. It returns the document and its file name.
func (s *Service) ExportItems(ctx context.Context, owner Owner) ([]byte, string, error) {
	items, err := s.store.ListInventory(ctx, owner.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("listing items: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshaling items: %w", err)
	}

	filename := fmt.Sprintf("inventory_%s.json", s.today())
	if s.archive != nil {
		if _, err := s.archive.Save(archiveName(owner, filename), data); err != nil {
			// the download still works without the archived copy
			slog.Warn("Failed to archive export", "filename", filename, "error", err)
		}
	}
	return data, filename, nil
}

// ResolveDate turns spoken or typed date text into YYYY-MM-DD
func (s *Service) ResolveDate(text string) (string, *dates.Status, error) {
	resolved, err := dates.Resolve(text, s.timeSource.Now())
	if err != nil {
		return "", nil, err
	}
	return resolved, s.status(resolved), nil
}

// Profile returns the user's profile, or the guest profile
func (s *Service) Profile(ctx context.Context, userID string) storage.UserProfile {
	return s.store.GetUserProfile(ctx, userID)
}

// SaveProfile stores a new username for the user
func (s *Service) SaveProfile(ctx context.Context, userID, username string) (storage.UserProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return storage.UserProfile{}, &ValidationError{Field: "username", Message: "is required"}
	}
	profile, err := s.store.SaveUserProfile(ctx, userID, storage.UserProfile{Username: username})
	if err != nil {
		return storage.UserProfile{}, fmt.Errorf("saving profile: %w", err)
	}
	return profile, nil
}

// SaveScanJob stores a finished quick-scan job as an item
func (s *Service) SaveScanJob(ctx context.Context, owner Owner, job ScanJob) (*ItemView, error) {
	if job.Status != JobSuccess {
		return nil, &ValidationError{Field: "job", Message: fmt.Sprintf("job is %s, not %s", job.Status, JobSuccess)}
	}
	return s.AddItem(ctx, owner, NewItem{
		Name:       job.ProductName,
		ExpiryDate: job.ExpiryDate,
		Quantity:   1,
		Source:     storage.SourceQuickScan,
	})
}

// ListExports returns the owner's archived exports, newest first
func (s *Service) ListExports(owner Owner) ([]string, error) {
	if s.archive == nil {
		return []string{}, nil
	}
	names, err := s.archive.List()
	if err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	owned := make([]string, 0, len(names))
	for _, name := range names {
		if ownsArchive(owner, name) {
			owned = append(owned, name)
		}
	}
	return owned, nil
}

// GetExport reads one of the owner's archived exports
func (s *Service) GetExport(owner Owner, name string) ([]byte, error) {
	if s.archive == nil || !ownsArchive(owner, name) {
		return nil, fmt.Errorf("%w: export %s", ErrNotFound, name)
	}
	data, err := s.archive.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: export %s: %w", ErrNotFound, name, err)
	}
	return data, nil
}
