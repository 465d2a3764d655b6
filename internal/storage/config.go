package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultAppID namespaces remote documents when no application id is set.
const DefaultAppID = "pantry-tracker-v1"

// Credentials that ship in sample configuration and must never be used.
var placeholderCredentials = []string{"PLACEHOLDER_KEY", "PLACEHOLDER", "changeme"}

// RemoteConfig holds the remote document store settings.
type RemoteConfig struct {
	// DSN is the Postgres connection string.
	DSN string `json:"dsn"`
	// TokenSecret verifies HS256 custom sign-in tokens.
	TokenSecret string `json:"tokenSecret,omitempty"`
}

// ParseRemoteConfig decodes a JSON configuration blob. An empty blob yields a
// nil config, which selects local mode.
func ParseRemoteConfig(raw string) (*RemoteConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var cfg RemoteConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: decoding remote config: %w", ErrConfiguration, err)
	}
	return &cfg, nil
}

// Validate rejects configuration that cannot reach a real remote store.
func (c *RemoteConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no remote config", ErrConfiguration)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("%w: missing dsn", ErrConfiguration)
	}
	for _, placeholder := range placeholderCredentials {
		if strings.Contains(c.DSN, placeholder) || c.TokenSecret == placeholder {
			return fmt.Errorf("%w: placeholder credential %q", ErrConfiguration, placeholder)
		}
	}
	return nil
}

// Config controls how a Store picks and uses its backends.
type Config struct {
	// Remote selects remote mode when valid; nil means local mode.
	Remote *RemoteConfig
	// RemoteJSON is a host-injected config blob, decoded when Remote is nil.
	// A malformed blob selects local mode.
	RemoteJSON string
	// AppID namespaces remote documents. Defaults to DefaultAppID.
	AppID string
	// CustomToken is a host-issued sign-in token. Empty means anonymous.
	CustomToken string
	// DeviceID keeps anonymous remote identities stable across restarts.
	DeviceID string
	// AuthLatency delays the local guest sign-in event.
	AuthLatency time.Duration
	// Retry bounds retries of idempotent remote calls.
	Retry RetryPolicy
	// OnFallback is called once when the store leaves remote mode.
	OnFallback func(reason error)

	IDGenerator IDGenerator
	TimeSource  TimeSource
}

func (c Config) withDefaults() Config {
	if c.AppID == "" {
		c.AppID = DefaultAppID
	}
	if c.AuthLatency <= 0 {
		c.AuthLatency = 100 * time.Millisecond
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.TimeSource == nil {
		c.TimeSource = &defaultTimeSource{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = &localIDGenerator{clock: c.TimeSource}
	}
	return c
}
