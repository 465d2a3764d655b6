package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	inventoryBucketName = "inventory"
	profileBucketName   = "profiles"
)

// Local is the synchronous on-device store used in local mode. Each user has
// one key holding the whole inventory and one key holding the profile.
type Local interface {
	// LoadInventory returns the user's items, empty when none are stored
	LoadInventory(userID string) ([]InventoryItem, error)

	// SaveInventory replaces the user's items
	SaveInventory(userID string, items []InventoryItem) error

	// LoadProfile returns nil when the user has no profile
	LoadProfile(userID string) (*UserProfile, error)

	// SaveProfile replaces the user's profile
	SaveProfile(userID string, profile UserProfile) error

	// Close closes the underlying database
	Close() error
}

// BoltStore implements Local on a BoltDB file
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{inventoryBucketName, profileBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// LoadInventory reads the user's inventory array
func (b *BoltStore) LoadInventory(userID string) ([]InventoryItem, error) {
	items := make([]InventoryItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(inventoryBucketName)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("unmarshaling inventory: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SaveInventory writes the user's inventory array
func (b *BoltStore) SaveInventory(userID string, items []InventoryItem) error {
	if items == nil {
		items = []InventoryItem{}
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshaling inventory: %w", err)
		}
		return tx.Bucket([]byte(inventoryBucketName)).Put([]byte(userID), data)
	})
}

// LoadProfile reads the user's profile
func (b *BoltStore) LoadProfile(userID string) (*UserProfile, error) {
	var profile *UserProfile
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(profileBucketName)).Get([]byte(userID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &profile)
	})
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return profile, nil
}

// SaveProfile writes the user's profile
func (b *BoltStore) SaveProfile(userID string, profile UserProfile) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("marshaling profile: %w", err)
		}
		return tx.Bucket([]byte(profileBucketName)).Put([]byte(userID), data)
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
