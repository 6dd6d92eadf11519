// Package ratewindow holds the fixed-window counter backends used by the gate.
package ratewindow

import (
	"context"
	"errors"
	"fmt"

	"lompapi/internal/config"
	"lompapi/internal/db"
	"lompapi/internal/gate"
	"lompapi/internal/model"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Window when a key has no stored window.
var ErrNotFound = errors.New("rate window not found")

// Store is a gate.WindowStore that can also report and expire windows.
type Store interface {
	gate.WindowStore
	Window(ctx context.Context, keyID string) (*model.RateWindow, error)
	// Purge removes windows that started before the given epoch second.
	Purge(ctx context.Context, before int64) (int64, error)
}

// New returns the backend selected by cfg. rdb is only used by the redis backend.
func New(cfg config.GateConfig, dbService db.Service, rdb *redis.Client) (Store, error) {
	switch cfg.WindowBackend {
	case config.BackendSQL, "":
		return NewSQLStore(dbService), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis window backend selected without a redis client")
		}
		return NewRedisStore(rdb), nil
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported window backend: %s", cfg.WindowBackend)
	}
}

// SQLStore keeps windows in the rate_windows table.
type SQLStore struct {
	db db.Service
}

func NewSQLStore(dbService db.Service) *SQLStore {
	return &SQLStore{db: dbService}
}

// Admit implements gate.WindowStore.
func (s *SQLStore) Admit(ctx context.Context, keyID string, windowStart int64, limit int) (bool, error) {
	return s.db.AdmitRateWindow(ctx, keyID, windowStart, limit)
}

func (s *SQLStore) Window(ctx context.Context, keyID string) (*model.RateWindow, error) {
	w, err := s.db.GetRateWindow(ctx, keyID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *SQLStore) Purge(ctx context.Context, before int64) (int64, error) {
	return s.db.PurgeRateWindows(ctx, before)
}

// MemoryStore keeps windows in process memory. Counters do not survive a restart and are not
// shared between replicas.
type MemoryStore struct {
	*gate.MemoryWindowStore
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryWindowStore: gate.NewMemoryWindowStore()}
}

func (s *MemoryStore) Window(_ context.Context, keyID string) (*model.RateWindow, error) {
	start, count := s.Count(keyID)
	if count == 0 {
		return nil, ErrNotFound
	}
	return &model.RateWindow{KeyID: keyID, WindowStart: start, RequestCount: count}, nil
}

func (s *MemoryStore) Purge(_ context.Context, before int64) (int64, error) {
	return int64(s.MemoryWindowStore.Purge(before)), nil
}
