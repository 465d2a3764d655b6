package storage

import "context"

// Remote is a real-time document store reached over the network. Every call
// is scoped to the application id the client was dialed with.
type Remote interface {
	// SignIn verifies customToken, or signs in anonymously as deviceID when
	// the token is empty.
	SignIn(ctx context.Context, customToken, deviceID string) (*Identity, error)

	// List returns the user's items in any order
	List(ctx context.Context, userID string) ([]InventoryItem, error)

	// Watch delivers the user's items now and after every change until stop
	// is called. onError is called at most once, after which nothing more is
	// delivered.
	Watch(ctx context.Context, userID string, onSnapshot func([]InventoryItem), onError func(error)) (stop func(), err error)

	// Add stores item and returns the id assigned by the backend
	Add(ctx context.Context, userID string, item InventoryItem) (string, error)

	// Update merges fields into an existing item, ErrItemNotFound if absent
	Update(ctx context.Context, userID, itemID string, update ItemUpdate) error

	// Delete removes an item; absent ids are not an error
	Delete(ctx context.Context, userID, itemID string) error

	// GetProfile returns nil when the user has no profile
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// SaveProfile replaces the user's profile
	SaveProfile(ctx context.Context, userID string, profile UserProfile) error

	Close() error
}

// DialFunc constructs a Remote client.
type DialFunc func(ctx context.Context, cfg RemoteConfig, appID string) (Remote, error)
