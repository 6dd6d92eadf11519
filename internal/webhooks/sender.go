// Package webhooks delivers signed event notifications to configured endpoints.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"lompapi/internal/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	EventSiteCreated   = "site.created"
	EventSiteDeleted   = "site.deleted"
	EventBackupCreated = "backup.created"

	UserAgent       = "LOMP-Stack-Webhook/1.0"
	SignatureHeader = "X-Webhook-Signature"
)

// ErrClosed is reported for events published after Close.
var ErrClosed = errors.New("webhook sender is closed")

// Payload is the JSON body posted to an endpoint.
type Payload struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	WebhookID string    `json:"webhook_id"`
}

// Notifier publishes events. Implementations must not block the caller on delivery.
type Notifier interface {
	Notify(event string, data any)
}

// Observer is told about every delivery once retries are exhausted or it succeeded.
type Observer interface {
	ObserveWebhook(event string, err error)
}

// Sender posts events to every active endpoint subscribed to them.
type Sender struct {
	hooks        []config.WebhookConfig
	client       *http.Client
	logger       zerolog.Logger
	observer     Observer
	baseInterval time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Notifier = (*Sender)(nil)

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

func WithObserver(o Observer) Option {
	return func(s *Sender) { s.observer = o }
}

// WithBaseInterval sets the first retry delay; later delays double.
func WithBaseInterval(d time.Duration) Option {
	return func(s *Sender) { s.baseInterval = d }
}

func NewSender(hooks []config.WebhookConfig, logger zerolog.Logger, opts ...Option) *Sender {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sender{
		hooks:        hooks,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With().Str("component", "webhooks").Logger(),
		baseInterval: time.Second,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify delivers event in the background to each subscribed endpoint.
// Events published after Close are dropped.
func (s *Sender) Notify(event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hook := range s.hooks {
		if !Subscribed(hook, event) {
			continue
		}
		if s.closed {
			s.logger.Warn().Str("webhook", hook.ID).Str("event", event).Msg("Webhook dropped, sender is closed")
			if s.observer != nil {
				s.observer.ObserveWebhook(event, ErrClosed)
			}
			continue
		}
		s.wg.Add(1)
		go func(hook config.WebhookConfig) {
			defer s.wg.Done()
			err := s.Deliver(s.ctx, hook, event, data)
			if s.observer != nil {
				s.observer.ObserveWebhook(event, err)
			}
			if err != nil {
				s.logger.Error().Err(err).Str("webhook", hook.ID).Str("event", event).Msg("Webhook delivery failed")
				return
			}
			s.logger.Debug().Str("webhook", hook.ID).Str("event", event).Msg("Webhook delivered")
		}(hook)
	}
}

// Close waits for in-flight deliveries until ctx expires, then aborts the rest.
func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Subscribed reports whether an active endpoint wants event. An empty event list means all events.
func Subscribed(hook config.WebhookConfig, event string) bool {
	if !hook.Active {
		return false
	}
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// Deliver posts one event to one endpoint, retrying failures with exponential backoff.
func (s *Sender) Deliver(ctx context.Context, hook config.WebhookConfig, event string, data any) error {
	body, err := json.Marshal(Payload{
		Event:     event,
		Data:      data,
		Timestamp: s.now().UTC(),
		WebhookID: hook.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	attempts := hook.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.baseInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := s.post(ctx, hook, body)
		if err != nil {
			s.logger.Warn().Err(err).Str("webhook", hook.ID).Int("attempt", attempt).Msg("Webhook attempt failed")
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}

func (s *Sender) post(ctx context.Context, hook config.WebhookConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, hook.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an X-Webhook-Signature header value against body.
func Verify(body []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
