package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lompapi/internal/config"
	"lompapi/internal/gate"
	"lompapi/internal/keys"
	"lompapi/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomRecovery_Panic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := logger.NewWithWriter(&logBuf, false)

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic("test panic")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
	assert.Contains(t, logBuf.String(), "Panic recovered")
	assert.Contains(t, logBuf.String(), "test panic")
}

func TestCustomRecovery_AbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := logger.NewWithWriter(&logBuf, false)

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, logBuf.String(), "Client connection aborted")
	assert.NotContains(t, logBuf.String(), "Panic recovered")
}

// testSetup writes a config file with a file-backed sqlite database and a scripts directory of
// helper scripts that echo their arguments.
func testSetup(t *testing.T) (configPath string, scriptsDir string) {
	t.Helper()
	dir := t.TempDir()
	scriptsDir = filepath.Join(dir, "scripts")

	scripts := map[string]string{
		"helpers/wp/wp_helpers.sh":             "if [ \"$1\" = list_sites ]; then echo a.com; echo b.com; fi",
		"component_manager.sh":                 "echo \"$@\"",
		"helpers/utils/backup_helpers.sh":      "echo \"$@\"",
		"helpers/monitoring/system_helpers.sh": "echo ok",
	}
	for rel, body := range scripts {
		path := filepath.Join(scriptsDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
port: 0
database:
  type: "sqlite"
  dsn: %q
admin:
  password: "e2e-test-password"
gate:
  default_rate_limit: 3
  key_cache_ttl: 1m
dispatch:
  scripts_dir: %q
  shell: "sh"
  timeout: 10s
`, filepath.Join(dir, "lompapi.db"), scriptsDir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, scriptsDir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeysCLI(t *testing.T) {
	configPath, _ := testSetup(t)

	out, err := runCLI(t, "--config", configPath, "keys", "create", "--name", "bot", "-p", "sites:read", "-p", "backups:read")
	require.NoError(t, err)
	assert.Contains(t, out, "secret:      "+keys.SecretPrefix)
	assert.Contains(t, out, "rate_limit:  3/min")

	out, err = runCLI(t, "--config", configPath, "keys", "list", "--json")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "bot", list[0]["name"])
	assert.Equal(t, true, list[0]["active"])
	id := list[0]["id"].(string)

	out, err = runCLI(t, "--config", configPath, "keys", "revoke", id)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked "+id)

	out, err = runCLI(t, "--config", configPath, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "false")

	_, err = runCLI(t, "--config", configPath, "keys", "revoke", "no-such-key")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", configPath, "keys", "create")
	assert.Error(t, err)
}

func TestCLIWithConfigWarnings(t *testing.T) {
	// No admin password and no scripts_dir, so loading the config yields warnings.
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("database:\n  type: \"sqlite\"\n  dsn: %q\n", filepath.Join(t.TempDir(), "lompapi.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, warnings, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)

	out, err := runCLI(t, "--config", configPath, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
}

func TestWindowsPurgeKeepsLiveWindow(t *testing.T) {
	configPath, _ := testSetup(t)
	cfg, _, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	start := gate.WindowStart(time.Now())
	_, err = a.windows.Admit(context.Background(), "live", start, 5)
	require.NoError(t, err)
	a.Close()

	out, err := runCLI(t, "--config", configPath, "windows", "purge", "--older-than", "0s")
	require.NoError(t, err)
	if gate.WindowStart(time.Now()) != start {
		t.Skip("crossed a window boundary")
	}
	assert.Contains(t, out, "purged 0 rate windows")
}

func TestKeysImportCLI(t *testing.T) {
	configPath, _ := testSetup(t)
	file := filepath.Join(t.TempDir(), "api_keys.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"api_keys":[
		{"key":"legacy-1","name":"one","active":true,"permissions":["*"],"rate_limit":50},
		{"key":"legacy-2","name":"two","active":false,"permissions":["sites:read"]}
	]}`), 0o644))

	out, err := runCLI(t, "--config", configPath, "keys", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 keys, skipped 0 existing")

	out, err = runCLI(t, "--config", configPath, "keys", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 keys, skipped 2 existing")

	_, err = runCLI(t, "--config", configPath, "keys", "import", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWindowsPurgeCLI(t *testing.T) {
	configPath, _ := testSetup(t)
	cfg, _, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = a.windows.Admit(ctx, "old", time.Now().Add(-3*time.Hour).Unix(), 5)
	require.NoError(t, err)
	_, err = a.windows.Admit(ctx, "new", time.Now().Unix(), 5)
	require.NoError(t, err)
	a.Close()

	out, err := runCLI(t, "--config", configPath, "windows", "purge", "--older-than", "2h")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 1 rate windows")
}

func TestServerE2E(t *testing.T) {
	configPath, _ := testSetup(t)
	cfg, _, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	// Pin the gate to the start of a window so the requests below share it.
	a.gate = gate.New(a.cache, a.windows,
		gate.WithClock(gate.NewManualClock(time.Unix(1_700_000_040, 0))),
		gate.WithRecorder(a.metrics),
		gate.WithDefaultRateLimit(cfg.Gate.DefaultRateLimit),
	)
	router := a.router()

	do := func(method, path, secret, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if secret != "" {
			req.Header.Set("X-API-Key", secret)
		}
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// Issue a key through the admin API.
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", strings.NewReader(`{"name":"e2e","permissions":["sites:read","sites:create"]}`))
	req.SetBasicAuth("admin", "e2e-test-password")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Secret string `json:"secret"`
		Key    struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/api/v1/sites", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(http.MethodGet, "/api/v1/sites", created.Secret, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"sites":[{"domain":"a.com"},{"domain":"b.com"}]},"count":2}`, w.Body.String())

	w = do(http.MethodPost, "/api/v1/sites", created.Secret, `{"domain":"c.com","email":"ops@c.com"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/v1/backups", created.Secret, `{"domain":"c.com"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// default_rate_limit is 3 and the forbidden request did not count.
	w = do(http.MethodGet, "/api/v1/sites", created.Secret, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(http.MethodGet, "/api/v1/sites", created.Secret, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	req = httptest.NewRequest(http.MethodGet, "/admin/keys/"+created.Key.ID+"/window", nil)
	req.SetBasicAuth("admin", "e2e-test-password")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":3`)

	req = httptest.NewRequest(http.MethodGet, "/admin/metrics", nil)
	req.SetBasicAuth("admin", "e2e-test-password")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `lompapi_gate_decisions_total{capability="sites:read",outcome="rate_limited"} 1`)

	w = do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunServerGracefulShutdown(t *testing.T) {
	configPath, _ := testSetup(t)
	cfg, _, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	cfg.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, zerolog.Nop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServerBadConfig(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Type: "oracle", DSN: "x"}}
	err := runServer(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
