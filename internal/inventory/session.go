package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zombor/pantry-tracker/internal/storage"
)

// ErrNotReady is returned until the first sign-in event arrives
var ErrNotReady = errors.New("session not ready")

// Session follows the store's auth events and remembers who the server is
// acting for, along with their profile.
type Session struct {
	store Store

	mu       sync.RWMutex
	identity *storage.Identity
	profile  storage.UserProfile

	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe func()
}

// NewSession subscribes to auth events. The session is not ready until the
// first identity is delivered.
func NewSession(ctx context.Context, store Store) *Session {
	s := &Session{
		store:   store,
		profile: storage.GuestProfile,
		ready:   make(chan struct{}),
	}
	s.unsubscribe = store.SubscribeToAuth(func(identity *storage.Identity) {
		s.onAuth(ctx, identity)
	})
	return s
}

func (s *Session) onAuth(ctx context.Context, identity *storage.Identity) {
	if identity == nil {
		s.mu.Lock()
		s.identity = nil
		s.profile = storage.GuestProfile
		s.mu.Unlock()
		return
	}

	profile := s.store.GetUserProfile(ctx, identity.UID)

	s.mu.Lock()
	s.identity = identity
	s.profile = profile
	s.mu.Unlock()

	slog.Info("Session user changed", "uid", identity.UID, "username", profile.Username, "mode", s.store.Mode())
	s.readyOnce.Do(func() { close(s.ready) })
}

// Ready is closed once a user is known
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Identity returns the current user, or nil before sign-in
func (s *Session) Identity() *storage.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// Profile returns the current user's profile
func (s *Session) Profile() storage.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// SetProfile records a profile saved for the current user
func (s *Session) SetProfile(userID string, profile storage.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.identity.UID == userID {
		s.profile = profile
	}
}

// Owner returns the current user, or ErrNotReady
func (s *Session) Owner() (Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Owner{}, ErrNotReady
	}
	return Owner{UserID: s.identity.UID, Username: s.profile.Username}, nil
}

// Close stops following auth events
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
