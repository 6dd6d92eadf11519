package keys

import (
	"context"
	"errors"

	"lompapi/internal/db"
	"lompapi/internal/gate"
	"lompapi/internal/model"
)

// Store resolves secrets against the key table.
type Store struct {
	db db.Service
}

var _ gate.KeyStore = (*Store)(nil)

func NewStore(dbService db.Service) *Store {
	return &Store{db: dbService}
}

// Lookup implements gate.KeyStore.
func (s *Store) Lookup(ctx context.Context, secret string) (*gate.Key, error) {
	k, err := s.db.FindAPIKeyBySecretHash(ctx, HashSecret(secret))
	if errors.Is(err, db.ErrNotFound) {
		return nil, gate.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	key := ToGateKey(k)
	if !key.Active {
		return key, gate.ErrKeyInactive
	}
	return key, nil
}

// ToGateKey converts a stored key to the gate's view of it.
func ToGateKey(k *model.APIKey) *gate.Key {
	perms := make([]string, len(k.Permissions))
	copy(perms, k.Permissions)
	return &gate.Key{
		ID:          k.ID,
		Name:        k.Name,
		Permissions: perms,
		RateLimit:   k.RateLimit,
		Active:      k.Active && !k.IsRevoked(),
	}
}
