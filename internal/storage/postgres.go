package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// inventoryChannel carries "<appID>/<userID>" payloads after every write.
const inventoryChannel = "inventory_changes"

// inventoryDocument is <appID>/users/<userID>/inventory/<itemID>.
type inventoryDocument struct {
	AppID      string         `gorm:"size:64;primaryKey"`
	UserID     string         `gorm:"size:128;primaryKey"`
	ItemID     uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ExpiryDate string         `gorm:"size:32;index"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (inventoryDocument) TableName() string {
	return "inventory_documents"
}

// profileDocument is <appID>/users/<userID>/profile/data.
type profileDocument struct {
	AppID     string         `gorm:"size:64;primaryKey"`
	UserID    string         `gorm:"size:128;primaryKey"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (profileDocument) TableName() string {
	return "profile_documents"
}

type remoteUser struct {
	AppID        string `gorm:"size:64;primaryKey"`
	UID          string `gorm:"size:128;primaryKey"`
	Anonymous    bool
	DisplayName  string `gorm:"size:255"`
	CreatedAt    time.Time
	LastSignInAt time.Time
}

func (remoteUser) TableName() string {
	return "remote_users"
}

var _ Remote = (*Postgres)(nil)

// Postgres implements Remote on PostgreSQL: gorm for documents and
// LISTEN/NOTIFY for change streams.
type Postgres struct {
	db     *gorm.DB
	dsn    string
	appID  string
	tokens tokenVerifier
}

// DialPostgres is the DialFunc for Postgres.
func DialPostgres(ctx context.Context, cfg RemoteConfig, appID string) (Remote, error) {
	p, err := NewPostgres(ctx, cfg, appID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// NewPostgres connects and migrates the document tables.
func NewPostgres(ctx context.Context, cfg RemoteConfig, appID string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&inventoryDocument{}, &profileDocument{}, &remoteUser{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating document tables: %w", err)
	}

	return &Postgres{
		db:     db,
		dsn:    cfg.DSN,
		appID:  appID,
		tokens: tokenVerifier{secret: []byte(cfg.TokenSecret), appID: appID},
	}, nil
}

func (p *Postgres) channelKey(userID string) string {
	return p.appID + "/" + userID
}

// notify queues a change event; Postgres sends it when tx commits.
func (p *Postgres) notify(tx *gorm.DB, userID string) error {
	return tx.Exec("SELECT pg_notify(?, ?)", inventoryChannel, p.channelKey(userID)).Error
}

// SignIn verifies a custom token, or signs in anonymously with a uid derived
// from the device so it survives restarts.
func (p *Postgres) SignIn(ctx context.Context, customToken, deviceID string) (*Identity, error) {
	identity, err := p.identify(customToken, deviceID)
	if err != nil {
		return nil, err
	}

	user := remoteUser{
		AppID:        p.appID,
		UID:          identity.UID,
		Anonymous:    identity.IsAnonymous,
		DisplayName:  identity.DisplayName,
		LastSignInAt: time.Now(),
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "last_sign_in_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("recording sign-in: %w", err)
	}
	return identity, nil
}

func (p *Postgres) identify(customToken, deviceID string) (*Identity, error) {
	if customToken != "" {
		claims, err := p.tokens.verify(customToken)
		if err != nil {
			return nil, fmt.Errorf("verifying custom token: %w", err)
		}
		return &Identity{UID: claims.Subject, DisplayName: claims.Name}, nil
	}

	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	uid := uuid.NewSHA1(uuid.NameSpaceURL, []byte(p.appID+"/devices/"+deviceID))
	return &Identity{UID: uid.String(), IsAnonymous: true, DisplayName: "Guest"}, nil
}

// List returns the user's items ordered by expiry.
func (p *Postgres) List(ctx context.Context, userID string) ([]InventoryItem, error) {
	var docs []inventoryDocument
	err := p.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", p.appID, userID).
		Order("expiry_date ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}

	items := make([]InventoryItem, 0, len(docs))
	for _, doc := range docs {
		item, err := decodeItem(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Watch listens for change events on a dedicated connection and reloads the
// user's items whenever one names this user.
func (p *Postgres) Watch(ctx context.Context, userID string, onSnapshot func([]InventoryItem), onError func(error)) (func(), error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{inventoryChannel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listening for changes: %w", err)
	}

	items, err := p.List(ctx, userID)
	if err != nil {
		conn.Close(context.Background())
		return nil, err
	}
	onSnapshot(items)

	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close(context.Background())

		key := p.channelKey(userID)
		for {
			n, err := conn.WaitForNotification(watchCtx)
			if err != nil {
				if watchCtx.Err() == nil {
					onError(err)
				}
				return
			}
			if n.Payload != key {
				continue
			}
			items, err := p.List(watchCtx, userID)
			if err != nil {
				if watchCtx.Err() == nil {
					onError(err)
				}
				return
			}
			onSnapshot(items)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// Add inserts item under a fresh UUID.
func (p *Postgres) Add(ctx context.Context, userID string, item InventoryItem) (string, error) {
	doc := inventoryDocument{
		AppID:      p.appID,
		UserID:     userID,
		ItemID:     uuid.New(),
		ExpiryDate: item.ExpiryDate,
	}
	if err := encodeItem(&doc, item); err != nil {
		return "", err
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return fmt.Errorf("inserting item: %w", err)
		}
		return p.notify(tx, userID)
	})
	if err != nil {
		return "", err
	}
	return doc.ItemID.String(), nil
}

// Update merges update into the stored document under a row lock.
func (p *Postgres) Update(ctx context.Context, userID, itemID string, update ItemUpdate) error {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc inventoryDocument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("app_id = ? AND user_id = ? AND item_id = ?", p.appID, userID, id).
			First(&doc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		if err != nil {
			return fmt.Errorf("loading item: %w", err)
		}

		item, err := decodeItem(doc)
		if err != nil {
			return err
		}
		item = update.Apply(item)
		if err := encodeItem(&doc, item); err != nil {
			return err
		}
		doc.ExpiryDate = item.ExpiryDate

		if err := tx.Save(&doc).Error; err != nil {
			return fmt.Errorf("saving item: %w", err)
		}
		return p.notify(tx, userID)
	})
}

// Delete removes the document if present.
func (p *Postgres) Delete(ctx context.Context, userID, itemID string) error {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return nil
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("app_id = ? AND user_id = ? AND item_id = ?", p.appID, userID, id).
			Delete(&inventoryDocument{}).Error
		if err != nil {
			return fmt.Errorf("deleting item: %w", err)
		}
		return p.notify(tx, userID)
	})
}

// GetProfile returns nil when no profile document exists.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var doc profileDocument
	err := p.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", p.appID, userID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	var profile UserProfile
	if err := json.Unmarshal(doc.Data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshaling profile: %w", err)
	}
	return &profile, nil
}

// SaveProfile overwrites the profile document.
func (p *Postgres) SaveProfile(ctx context.Context, userID string, profile UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	doc := profileDocument{AppID: p.appID, UserID: userID, Data: datatypes.JSON(data)}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&doc).Error
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// encodeItem stores item without its id; the id lives in the primary key.
func encodeItem(doc *inventoryDocument, item InventoryItem) error {
	item.ID = ""
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	doc.Data = datatypes.JSON(data)
	return nil
}

func decodeItem(doc inventoryDocument) (InventoryItem, error) {
	var item InventoryItem
	if err := json.Unmarshal(doc.Data, &item); err != nil {
		return InventoryItem{}, fmt.Errorf("unmarshaling item %s: %w", doc.ItemID, err)
	}
	item.ID = doc.ItemID.String()
	return item, nil
}
