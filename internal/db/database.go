package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a key or rate window does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a key with the same secret already exists.
	ErrDuplicateKey = errors.New("api key already exists")
)

// Service is the persistence API used by the gate, the admin API and the CLI.
type Service interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	FindAPIKeyBySecretHash(ctx context.Context, hash string) (*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) (*model.APIKey, error)

	AdmitRateWindow(ctx context.Context, keyID string, windowStart int64, limit int) (bool, error)
	GetRateWindow(ctx context.Context, keyID string) (*model.RateWindow, error)
	PurgeRateWindows(ctx context.Context, before int64) (int64, error)

	GetDB() *gorm.DB
	Close() error
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and returns a Service backed by it.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	db, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &service{db: db}, nil
}

// Init initializes the database connection based on the provided configuration.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.Type == "sqlite" {
		// A single connection serialises writers and keeps in-memory databases alive.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&model.APIKey{}, &model.RateWindow{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

func (s *service) GetDB() *gorm.DB {
	return s.db
}

func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAPIKey inserts a new key. A secret hash collision returns ErrDuplicateKey.
func (s *service) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// ListAPIKeys returns every key, revoked ones included, oldest first.
func (s *service) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}

func (s *service) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	return s.findKey(ctx, "id = ?", id)
}

func (s *service) FindAPIKeyBySecretHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return s.findKey(ctx, "secret_hash = ?", hash)
}

func (s *service) findKey(ctx context.Context, query string, arg string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.WithContext(ctx).Where(query, arg).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	return &key, nil
}

// RevokeAPIKey deactivates a key. Revoking an already revoked key keeps the original timestamp.
func (s *service) RevokeAPIKey(ctx context.Context, id string, at time.Time) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&key).Error; err != nil {
			return err
		}
		if key.IsRevoked() && !key.Active {
			return nil
		}
		revokedAt := at
		if key.RevokedAt != nil {
			revokedAt = *key.RevokedAt
		}
		if err := tx.Model(&key).Updates(map[string]any{"active": false, "revoked_at": revokedAt}).Error; err != nil {
			return err
		}
		key.Active = false
		key.RevokedAt = &revokedAt
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke api key %s: %w", id, err)
	}
	return &key, nil
}
