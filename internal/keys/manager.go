package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lompapi/internal/db"
	"lompapi/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyName      = errors.New("key name is required and cannot be empty")
	ErrEmptySecret    = errors.New("imported key has an empty secret")
	ErrInvalidRequest = errors.New("invalid key request")
)

// Invalidator is told about revoked keys so cached lookups can be dropped early.
type Invalidator interface {
	Invalidate(keyID string)
}

// CreateRequest describes a key to issue.
type CreateRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rate_limit"`
}

// Manager implements the administrative key lifecycle: keys are created and revoked, never deleted.
type Manager struct {
	db           db.Service
	invalidator  Invalidator
	logger       zerolog.Logger
	defaultLimit int
	now          func() time.Time
}

// NewManager creates a Manager. invalidator may be nil.
func NewManager(dbService db.Service, invalidator Invalidator, defaultLimit int, logger zerolog.Logger) *Manager {
	if defaultLimit <= 0 {
		defaultLimit = model.DefaultRateLimit
	}
	return &Manager{
		db:           dbService,
		invalidator:  invalidator,
		logger:       logger.With().Str("component", "keys").Logger(),
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// Create issues a new key and returns its plaintext secret, which is not stored anywhere.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, *model.APIKey, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	key, err := m.insert(ctx, secret, req, true)
	if err != nil {
		return "", nil, err
	}
	m.logger.Info().Str("key_id", key.ID).Str("name", key.Name).Strs("permissions", key.Permissions).Msg("API key created")
	return secret, key, nil
}

func (m *Manager) insert(ctx context.Context, secret string, req CreateRequest, active bool) (*model.APIKey, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if req.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate_limit must not be negative", ErrInvalidRequest)
	}
	limit := req.RateLimit
	if limit == 0 {
		limit = m.defaultLimit
	}

	key := &model.APIKey{
		ID:          uuid.NewString(),
		Name:        name,
		SecretHash:  HashSecret(secret),
		Prefix:      DisplayPrefix(secret),
		Permissions: normalizePermissions(req.Permissions),
		RateLimit:   limit,
		Active:      active,
	}
	if !active {
		revokedAt := m.now()
		key.RevokedAt = &revokedAt
	}
	if err := m.db.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// List returns every key, revoked ones included.
func (m *Manager) List(ctx context.Context) ([]model.APIKey, error) {
	return m.db.ListAPIKeys(ctx)
}

// Get returns a key by ID.
func (m *Manager) Get(ctx context.Context, id string) (*model.APIKey, error) {
	return m.db.GetAPIKey(ctx, id)
}

// Revoke deactivates a key and drops it from the lookup cache.
func (m *Manager) Revoke(ctx context.Context, id string) (*model.APIKey, error) {
	key, err := m.db.RevokeAPIKey(ctx, id, m.now())
	if err != nil {
		return nil, err
	}
	if m.invalidator != nil {
		m.invalidator.Invalidate(id)
	}
	m.logger.Info().Str("key_id", id).Msg("API key revoked")
	return key, nil
}

// ImportFile is the legacy api_keys.json layout.
type ImportFile struct {
	APIKeys []ImportedKey `json:"api_keys"`
}

// ImportedKey is one entry of an ImportFile. The secret is the plaintext key.
type ImportedKey struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Active      bool     `json:"active"`
	Permissions []string `json:"permissions"`
	RateLimit   int      `json:"rate_limit"`
}

// ImportResult counts what an import did.
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Import loads keys from a legacy api_keys.json document. Keys whose secret already exists are
// skipped, so importing the same file twice is harmless.
func (m *Manager) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var file ImportFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return ImportResult{}, fmt.Errorf("failed to parse key file: %w", err)
	}

	var res ImportResult
	for i, k := range file.APIKeys {
		if strings.TrimSpace(k.Key) == "" {
			return res, fmt.Errorf("entry %d: %w", i, ErrEmptySecret)
		}
		name := k.Name
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("imported-%d", i+1)
		}
		_, err := m.insert(ctx, k.Key, CreateRequest{Name: name, Permissions: k.Permissions, RateLimit: k.RateLimit}, k.Active)
		if errors.Is(err, db.ErrDuplicateKey) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("entry %d: %w", i, err)
		}
		res.Created++
	}
	m.logger.Info().Int("created", res.Created).Int("skipped", res.Skipped).Msg("API keys imported")
	return res, nil
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
