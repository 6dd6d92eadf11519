package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/db"
	"lompapi/internal/gate"
	"lompapi/internal/keys"
	"lompapi/internal/model"
	"lompapi/internal/ratewindow"
	"lompapi/internal/stats"
	"lompapi/internal/telemetry"
	"lompapi/internal/throttle"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDBService is a mock implementation of the db.Service interface for testing error paths.
type mockDBService struct {
	db.Service
	listErr   error
	createErr error
	getErr    error
	revokeErr error
}

func (m *mockDBService) ListAPIKeys(context.Context) ([]model.APIKey, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return []model.APIKey{}, nil
}

func (m *mockDBService) CreateAPIKey(context.Context, *model.APIKey) error {
	return m.createErr
}

func (m *mockDBService) GetAPIKey(_ context.Context, id string) (*model.APIKey, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &model.APIKey{ID: id}, nil
}

func (m *mockDBService) RevokeAPIKey(_ context.Context, id string, at time.Time) (*model.APIKey, error) {
	if m.revokeErr != nil {
		return nil, m.revokeErr
	}
	return &model.APIKey{ID: id, RevokedAt: &at}, nil
}

type testEnv struct {
	router  *gin.Engine
	db      db.Service
	cache   *keys.CachedStore
	windows ratewindow.Store
	stats   *stats.MemoryRecorder
}

const adminPassword = "test-password"

func setupRealDB(t *testing.T) db.Service {
	t.Helper()
	service, err := db.NewService(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  "file::memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })
	return service
}

func setupTestEnv(t *testing.T, dbService db.Service, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache := keys.NewCachedStore(keys.NewStore(dbService), time.Minute)
	windows := ratewindow.NewMemoryStore()
	recorder := stats.NewMemoryRecorder()
	manager := keys.NewManager(dbService, cache, 0, zerolog.Nop())

	router := gin.New()
	cfg := &config.Config{Admin: config.AdminConfig{Password: adminPassword}}
	SetupRoutes(router, NewHandler(manager, windows, recorder), cfg, opts)
	return &testEnv{router: router, db: dbService, cache: cache, windows: windows, stats: recorder}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.SetBasicAuth("admin", adminPassword)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestKeyLifecycle(t *testing.T) {
	env := setupTestEnv(t, setupRealDB(t), Options{})
	ctx := context.Background()

	// Without auth
	req, _ := http.NewRequest(http.MethodGet, "/admin/keys", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Create
	w = env.do(http.MethodPost, "/admin/keys", `{"name": "deployer", "permissions": ["sites:read", "sites:create"], "rate_limit": 5}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Secret string       `json:"secret"`
		Key    model.APIKey `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret)
	assert.Equal(t, 5, created.Key.RateLimit)
	assert.NotContains(t, w.Body.String(), "secret_hash")
	id := created.Key.ID

	// List and get never return the secret.
	w = env.do(http.MethodGet, "/admin/keys", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Secret)
	var list []model.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = env.do(http.MethodGet, "/admin/keys/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Secret)

	// Prime the cache, then revoke: the cached entry is dropped at once.
	k, err := env.cache.Lookup(ctx, created.Secret)
	require.NoError(t, err)
	assert.True(t, k.Active)

	w = env.do(http.MethodPost, "/admin/keys/"+id+"/revoke", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var revoked model.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revoked))
	assert.False(t, revoked.Active)
	assert.NotNil(t, revoked.RevokedAt)

	_, err = env.cache.Lookup(ctx, created.Secret)
	assert.ErrorIs(t, err, gate.ErrKeyInactive)

	// Not found
	w = env.do(http.MethodGet, "/admin/keys/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(http.MethodPost, "/admin/keys/does-not-exist/revoke", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateKeyValidation(t *testing.T) {
	env := setupTestEnv(t, setupRealDB(t), Options{})

	w := env.do(http.MethodPost, "/admin/keys", `{"permissions": ["*"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/admin/keys", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/admin/keys", `{"name": "x", "rate_limit": -3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWindowAndStats(t *testing.T) {
	env := setupTestEnv(t, setupRealDB(t), Options{})
	ctx := context.Background()

	w := env.do(http.MethodGet, "/admin/keys/k1/window", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := env.windows.Admit(ctx, "k1", 1_700_000_040, 10)
	require.NoError(t, err)
	_, err = env.windows.Admit(ctx, "k1", 1_700_000_040, 10)
	require.NoError(t, err)

	w = env.do(http.MethodGet, "/admin/keys/k1/window", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key_id":"k1","window_start":1700000040,"count":2}`, w.Body.String())

	require.NoError(t, env.stats.Record(ctx, gate.Event{KeyID: "k1", Allowed: true}))
	require.NoError(t, env.stats.Record(ctx, gate.Event{KeyID: "k1", Reason: gate.ReasonRateLimited}))

	w = env.do(http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"allowed":1,"denied":1,"reasons":{"rate_limited":1}}`, w.Body.String())

	w = env.do(http.MethodGet, "/admin/keys/k1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"allowed":1,"denied":1,"reasons":{"rate_limited":1}}`, w.Body.String())
}

func TestStatsDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dbService := setupRealDB(t)
	router := gin.New()
	cfg := &config.Config{Admin: config.AdminConfig{Password: adminPassword}}
	manager := keys.NewManager(dbService, nil, 0, zerolog.Nop())
	SetupRoutes(router, NewHandler(manager, ratewindow.NewMemoryStore(), nil), cfg, Options{})

	req, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.SetBasicAuth("admin", adminPassword)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsAndThrottle(t *testing.T) {
	metrics := telemetry.NewMetrics()
	env := setupTestEnv(t, setupRealDB(t), Options{
		Throttle: throttle.NewStore(2),
		Metrics:  metrics.Handler(),
	})
	require.NoError(t, metrics.Record(context.Background(), gate.Event{
		KeyID:      "k1",
		Capability: "sites:read",
		Reason:     gate.ReasonRateLimited,
	}))

	w := env.do(http.MethodGet, "/admin/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lompapi_gate_decisions_total{capability="sites:read",outcome="rate_limited"} 1`)

	env.do(http.MethodGet, "/admin/keys", "")
	w = env.do(http.MethodGet, "/admin/keys", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestHandlerErrors(t *testing.T) {
	boom := errors.New("db is down")
	tests := []struct {
		name   string
		mock   *mockDBService
		method string
		path   string
		body   string
		want   int
	}{
		{"list fails", &mockDBService{listErr: boom}, http.MethodGet, "/admin/keys", "", http.StatusInternalServerError},
		{"create fails", &mockDBService{createErr: boom}, http.MethodPost, "/admin/keys", `{"name":"x"}`, http.StatusInternalServerError},
		{"get fails", &mockDBService{getErr: boom}, http.MethodGet, "/admin/keys/1", "", http.StatusInternalServerError},
		{"get not found", &mockDBService{getErr: db.ErrNotFound}, http.MethodGet, "/admin/keys/1", "", http.StatusNotFound},
		{"revoke fails", &mockDBService{revokeErr: boom}, http.MethodPost, "/admin/keys/1/revoke", "", http.StatusInternalServerError},
		{"revoke ok", &mockDBService{}, http.MethodPost, "/admin/keys/1/revoke", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, tt.mock, Options{})
			w := env.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
