package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Mode is the backend a Store currently uses.
type Mode int32

const (
	ModeUninitialized Mode = iota
	ModeRemote
	ModeLocal
)

func (m Mode) String() string {
	switch m {
	case ModeRemote:
		return "remote"
	case ModeLocal:
		return "local"
	default:
		return "uninitialized"
	}
}

// Store is the single entry point for inventory and profile persistence. It
// picks remote or local mode once, at construction, and only ever moves from
// remote to local afterwards.
type Store struct {
	cfg    Config
	local  Local
	remote Remote
	mode   atomic.Int32

	// mu serializes local read-modify-write cycles and their broadcasts.
	mu        sync.Mutex
	inventory *hub

	authMu   sync.Mutex
	identity *Identity
	authSubs map[*mailbox[*Identity]]struct{}
}

// NewStore builds a Store. Any problem reaching the remote store (missing,
// malformed or placeholder configuration, dial failure) leaves the store in local mode for
// its whole lifetime; NewStore itself never fails.
func NewStore(ctx context.Context, cfg Config, local Local, dial DialFunc) *Store {
	s := &Store{
		cfg:       cfg.withDefaults(),
		local:     local,
		inventory: newHub(),
		authSubs:  make(map[*mailbox[*Identity]]struct{}),
	}

	remote, err := s.connect(ctx, dial)
	if err != nil {
		slog.Info("Using local storage mode", "reason", err)
		s.mode.Store(int32(ModeLocal))
		s.report(err)
		return s
	}

	s.remote = remote
	s.mode.Store(int32(ModeRemote))
	slog.Info("Using remote storage mode", "app_id", s.cfg.AppID)
	return s
}

func (s *Store) connect(ctx context.Context, dial DialFunc) (Remote, error) {
	if s.cfg.Remote == nil && s.cfg.RemoteJSON != "" {
		remote, err := ParseRemoteConfig(s.cfg.RemoteJSON)
		if err != nil {
			return nil, err
		}
		s.cfg.Remote = remote
	}
	if err := s.cfg.Remote.Validate(); err != nil {
		return nil, err
	}
	if dial == nil {
		return nil, fmt.Errorf("%w: no remote client available", ErrConfiguration)
	}
	remote, err := dial(ctx, *s.cfg.Remote, s.cfg.AppID)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %w", ErrConfiguration, err)
	}
	return remote, nil
}

// Mode returns the active backend.
func (s *Store) Mode() Mode {
	return Mode(s.mode.Load())
}

// IsLocal reports whether the store is using local storage.
func (s *Store) IsLocal() bool {
	return s.Mode() == ModeLocal
}

// AppID returns the namespace used for remote documents.
func (s *Store) AppID() string {
	return s.cfg.AppID
}

// fallback moves the store from remote to local mode. Only the first call
// has any effect.
func (s *Store) fallback(reason error) {
	if !s.mode.CompareAndSwap(int32(ModeRemote), int32(ModeLocal)) {
		return
	}
	slog.Error("Remote storage failed, switching to local mode", "error", reason)
	s.report(reason)

	// Listeners see the nil identity as the local guest.
	s.authMu.Lock()
	s.identity = nil
	for sub := range s.authSubs {
		sub.push(nil)
	}
	s.authMu.Unlock()
}

func (s *Store) report(reason error) {
	if s.cfg.OnFallback != nil {
		s.cfg.OnFallback(reason)
	}
}

func (s *Store) remoteClient() (Remote, error) {
	if s.remote == nil {
		return nil, fmt.Errorf("%w: remote client not initialized", ErrStorageUnavailable)
	}
	return s.remote, nil
}

// SignIn authenticates against the remote store. In local mode it is a
// no-op. A failed remote sign-in switches the store to local mode and is not
// reported as an error.
func (s *Store) SignIn(ctx context.Context) error {
	if s.IsLocal() {
		return nil
	}
	remote, err := s.remoteClient()
	if err != nil {
		return err
	}

	identity, err := remote.SignIn(ctx, s.cfg.CustomToken, s.cfg.DeviceID)
	if err != nil {
		s.fallback(fmt.Errorf("%w: %w", ErrAuthentication, err))
		return nil
	}

	slog.Info("Signed in", "uid", identity.UID, "anonymous", identity.IsAnonymous)
	s.authMu.Lock()
	s.identity = identity
	for sub := range s.authSubs {
		sub.push(copyIdentity(identity))
	}
	s.authMu.Unlock()
	return nil
}

// SubscribeToAuth calls fn with the current identity and on every change.
// In local mode fn receives LocalGuest once, after a short delay.
func (s *Store) SubscribeToAuth(fn func(*Identity)) (unsubscribe func()) {
	if s.IsLocal() {
		timer := time.AfterFunc(s.cfg.AuthLatency, func() {
			guest := LocalGuest
			fn(&guest)
		})
		return func() { timer.Stop() }
	}

	sub := newMailbox(func(identity *Identity) {
		if identity == nil && s.IsLocal() {
			guest := LocalGuest
			identity = &guest
		}
		fn(identity)
	})

	s.authMu.Lock()
	s.authSubs[sub] = struct{}{}
	switch {
	case s.identity != nil:
		sub.push(copyIdentity(s.identity))
	case s.IsLocal():
		// fell back between the mode check and registration
		sub.push(nil)
	}
	s.authMu.Unlock()

	return func() {
		s.authMu.Lock()
		delete(s.authSubs, sub)
		s.authMu.Unlock()
		sub.stop()
	}
}

func copyIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}

// SubscribeToInventory calls fn with the user's items, sorted by expiry,
// right away and after every change.
func (s *Store) SubscribeToInventory(ctx context.Context, userID string, fn func([]InventoryItem)) (unsubscribe func(), err error) {
	if s.IsLocal() {
		return s.subscribeLocal(userID, fn)
	}
	remote, err := s.remoteClient()
	if err != nil {
		return nil, err
	}

	sub := newMailbox(fn)
	stop, err := remote.Watch(ctx, userID,
		func(items []InventoryItem) { sub.push(sortByExpiry(items)) },
		func(err error) { s.fallback(fmt.Errorf("%w: %w", ErrStream, err)) },
	)
	if err != nil {
		sub.stop()
		s.fallback(fmt.Errorf("%w: %w", ErrStream, err))
		return s.subscribeLocal(userID, fn)
	}

	return func() {
		stop()
		sub.stop()
	}, nil
}

func (s *Store) subscribeLocal(userID string, fn func([]InventoryItem)) (func(), error) {
	sub := newMailbox(fn)

	s.mu.Lock()
	items, err := s.local.LoadInventory(userID)
	if err != nil {
		s.mu.Unlock()
		sub.stop()
		return nil, fmt.Errorf("loading inventory: %w", err)
	}
	s.inventory.add(userID, sub)
	sub.push(sortByExpiry(items))
	s.mu.Unlock()

	return func() {
		s.inventory.remove(userID, sub)
		sub.stop()
	}, nil
}

// ListInventory returns a fresh read of the user's items, sorted by expiry.
func (s *Store) ListInventory(ctx context.Context, userID string) ([]InventoryItem, error) {
	if s.IsLocal() {
		s.mu.Lock()
		defer s.mu.Unlock()
		items, err := s.local.LoadInventory(userID)
		if err != nil {
			return nil, fmt.Errorf("loading inventory: %w", err)
		}
		return sortByExpiry(items), nil
	}

	remote, err := s.remoteClient()
	if err != nil {
		return nil, err
	}
	var items []InventoryItem
	err = retry(ctx, s.cfg.Retry, "list", func() error {
		var err error
		items, err = remote.List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	return sortByExpiry(items), nil
}

// mutateLocal applies change to the user's stored items and broadcasts the
// result to that user's subscribers.
func (s *Store) mutateLocal(userID string, change func([]InventoryItem) ([]InventoryItem, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.local.LoadInventory(userID)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}
	items, err = change(items)
	if err != nil {
		return err
	}
	if err := s.local.SaveInventory(userID, items); err != nil {
		return fmt.Errorf("saving inventory: %w", err)
	}
	s.inventory.publish(userID, sortByExpiry(items))
	return nil
}

// AddInventoryItem stores item and returns its new id. Any id already set
// on item is replaced.
func (s *Store) AddInventoryItem(ctx context.Context, userID string, item InventoryItem) (string, error) {
	if s.IsLocal() {
		item.ID = s.cfg.IDGenerator.Generate()
		err := s.mutateLocal(userID, func(items []InventoryItem) ([]InventoryItem, error) {
			return append(items, item), nil
		})
		if err != nil {
			return "", err
		}
		return item.ID, nil
	}

	remote, err := s.remoteClient()
	if err != nil {
		return "", err
	}
	item.ID = ""
	// not retried: a lost response would insert the item twice
	id, err := remote.Add(ctx, userID, item)
	if err != nil {
		return "", fmt.Errorf("adding inventory item: %w", err)
	}
	return id, nil
}

// UpdateInventoryItem merges update into the item. It returns
// ErrItemNotFound when itemID does not exist.
func (s *Store) UpdateInventoryItem(ctx context.Context, userID, itemID string, update ItemUpdate) error {
	if s.IsLocal() {
		return s.mutateLocal(userID, func(items []InventoryItem) ([]InventoryItem, error) {
			for i := range items {
				if items[i].ID == itemID {
					items[i] = update.Apply(items[i])
					return items, nil
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		})
	}

	remote, err := s.remoteClient()
	if err != nil {
		return err
	}
	err = retry(ctx, s.cfg.Retry, "update", func() error {
		return remote.Update(ctx, userID, itemID, update)
	})
	if err != nil {
		return fmt.Errorf("updating inventory item: %w", err)
	}
	return nil
}

// DeleteInventoryItem removes the item. Deleting an absent id succeeds.
func (s *Store) DeleteInventoryItem(ctx context.Context, userID, itemID string) error {
	if s.IsLocal() {
		return s.mutateLocal(userID, func(items []InventoryItem) ([]InventoryItem, error) {
			kept := items[:0]
			for _, item := range items {
				if item.ID != itemID {
					kept = append(kept, item)
				}
			}
			return kept, nil
		})
	}

	remote, err := s.remoteClient()
	if err != nil {
		return err
	}
	err = retry(ctx, s.cfg.Retry, "delete", func() error {
		return remote.Delete(ctx, userID, itemID)
	})
	if err != nil {
		return fmt.Errorf("deleting inventory item: %w", err)
	}
	return nil
}

// GetUserProfile returns the stored profile, or GuestProfile when there is
// none or it cannot be read.
func (s *Store) GetUserProfile(ctx context.Context, userID string) UserProfile {
	var (
		profile *UserProfile
		err     error
	)
	if s.IsLocal() {
		profile, err = s.local.LoadProfile(userID)
	} else if remote, rerr := s.remoteClient(); rerr != nil {
		err = rerr
	} else {
		err = retry(ctx, s.cfg.Retry, "get profile", func() error {
			var err error
			profile, err = remote.GetProfile(ctx, userID)
			return err
		})
	}

	if err != nil {
		slog.Warn("Failed to read profile, using guest", "user_id", userID, "error", err)
		return GuestProfile
	}
	if profile == nil {
		return GuestProfile
	}
	return *profile
}

// SaveUserProfile overwrites the user's profile and stamps LastUpdate.
func (s *Store) SaveUserProfile(ctx context.Context, userID string, profile UserProfile) (UserProfile, error) {
	profile.LastUpdate = s.cfg.TimeSource.Now().UTC().Format(time.RFC3339)

	if s.IsLocal() {
		if err := s.local.SaveProfile(userID, profile); err != nil {
			return UserProfile{}, fmt.Errorf("saving profile: %w", err)
		}
		return profile, nil
	}

	remote, err := s.remoteClient()
	if err != nil {
		return UserProfile{}, err
	}
	err = retry(ctx, s.cfg.Retry, "save profile", func() error {
		return remote.SaveProfile(ctx, userID, profile)
	})
	if err != nil {
		return UserProfile{}, fmt.Errorf("saving profile: %w", err)
	}
	return profile, nil
}

// Close releases the remote client, if one was ever opened. The local store
// is owned by the caller.
func (s *Store) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}
