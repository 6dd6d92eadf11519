// Package gate decides whether an API request is admitted.
//
// A request is checked in a fixed order: a secret must be presented, it must resolve to an
// active key, the key must hold the route's capability, and the key's fixed-window budget must
// not be exhausted. The gate never executes side effects beyond the rate window update.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Reason explains a rejected Decision.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonMissingKey             Reason = "missing_key"
	ReasonInvalidKey             Reason = "invalid_key"
	ReasonInsufficientPermission Reason = "insufficient_permission"
	ReasonRateLimited            Reason = "rate_limited"
)

func (r Reason) String() string {
	if r == ReasonNone {
		return "allowed"
	}
	return string(r)
}

// Decision is the admission outcome of one request.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Key is set once the secret resolved to a key, also on permission and rate rejections.
	Key *Key
	// Limit is the rate limit applied to the key.
	Limit int
	// RetryAfter is set for RateLimited decisions.
	RetryAfter time.Duration
	// Err carries the internal cause when a store failure forced the rejection.
	Err error
}

// Event describes a decision for stats recorders.
type Event struct {
	KeyID      string
	Capability string
	Allowed    bool
	Reason     Reason
	At         time.Time
}

// Recorder receives one Event per decision. Errors are logged and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Gate composes the key store, permission evaluator and rate limiter.
type Gate struct {
	keys         KeyStore
	limiter      *Limiter
	clock        Clock
	recorder     Recorder
	logger       zerolog.Logger
	defaultLimit int
}

type Option func(*Gate)

// WithClock sets the clock used for rate windows.
func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithRecorder sets the stats recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithDefaultRateLimit sets the limit applied to keys without a positive rate limit.
func WithDefaultRateLimit(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.defaultLimit = n
		}
	}
}

// New builds a Gate over a key store and a window store.
func New(keys KeyStore, windows WindowStore, opts ...Option) *Gate {
	g := &Gate{
		keys:         keys,
		clock:        SystemClock{},
		logger:       zerolog.Nop(),
		defaultLimit: 100,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gate").Logger()
	g.limiter = NewLimiter(windows, g.clock)
	return g
}

// Authorize admits or rejects a request presenting secret for capability.
// An empty capability skips the permission check.
func (g *Gate) Authorize(ctx context.Context, secret, capability string) Decision {
	d := g.decide(ctx, secret, capability)
	g.record(ctx, d, capability)
	return d
}

func (g *Gate) decide(ctx context.Context, secret, capability string) Decision {
	if secret == "" {
		return Decision{Reason: ReasonMissingKey}
	}

	key, err := g.keys.Lookup(ctx, secret)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return Decision{Reason: ReasonInvalidKey}
	case errors.Is(err, ErrKeyInactive):
		g.logger.Debug().Str("key_id", keyID(key)).Msg("Rejected inactive key")
		return Decision{Reason: ReasonInvalidKey, Key: key}
	case err != nil:
		g.logger.Error().Err(err).Msg("Key lookup failed, rejecting request")
		return Decision{Reason: ReasonInvalidKey, Err: errors.Join(ErrStoreUnavailable, err)}
	case key == nil || !key.Active:
		return Decision{Reason: ReasonInvalidKey, Key: key}
	}

	limit := key.RateLimit
	if limit <= 0 {
		limit = g.defaultLimit
	}

	if capability != "" && !HasPermission(key, capability) {
		return Decision{Reason: ReasonInsufficientPermission, Key: key, Limit: limit}
	}

	adm, err := g.limiter.Admit(ctx, key.ID, limit)
	if err != nil {
		g.logger.Error().Err(err).Str("key_id", key.ID).Msg("Rate window update failed, rejecting request")
		return Decision{Reason: ReasonRateLimited, Key: key, Limit: limit, RetryAfter: adm.RetryAfter, Err: err}
	}
	if !adm.Allowed {
		return Decision{Reason: ReasonRateLimited, Key: key, Limit: limit, RetryAfter: adm.RetryAfter}
	}

	return Decision{Allowed: true, Key: key, Limit: limit}
}

func (g *Gate) record(ctx context.Context, d Decision, capability string) {
	if g.recorder == nil {
		return
	}
	ev := Event{
		KeyID:      keyID(d.Key),
		Capability: capability,
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		At:         g.clock.Now(),
	}
	if err := g.recorder.Record(ctx, ev); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to record gate decision")
	}
}

func keyID(k *Key) string {
	if k == nil {
		return ""
	}
	return k.ID
}
