package storage

import "errors"

var (
	// ErrConfiguration means the remote store settings are missing, malformed
	// or still carry a placeholder. The store recovers by running locally.
	ErrConfiguration = errors.New("remote store not configured")

	// ErrAuthentication means remote sign-in failed. The store recovers by
	// switching to local mode.
	ErrAuthentication = errors.New("remote sign-in failed")

	// ErrStream means a remote inventory subscription broke. The store
	// switches to local mode; remote-only data is no longer reachable.
	ErrStream = errors.New("remote inventory stream failed")

	// ErrStorageUnavailable means remote mode is active without a client.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrItemNotFound is returned when updating an item that does not exist.
	ErrItemNotFound = errors.New("inventory item not found")
)
