package throttle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(perMinute int, opts ...Option) (*Store, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(perMinute, opts...)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestAllowBurstThenRefill(t *testing.T) {
	s, now := newTestStore(3)

	for i := 0; i < 3; i++ {
		ok, _ := s.Allow("1.2.3.4")
		assert.True(t, ok)
	}
	ok, wait := s.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.InDelta(t, float64(20*time.Second), float64(wait), float64(time.Millisecond))

	// Another client has its own bucket.
	ok, _ = s.Allow("5.6.7.8")
	assert.True(t, ok)

	*now = now.Add(21 * time.Second)
	ok, _ = s.Allow("1.2.3.4")
	assert.True(t, ok)
}

func TestCleanupDropsIdleClients(t *testing.T) {
	s, now := newTestStore(10, WithIdleTTL(time.Minute))
	s.Allow("a")
	*now = now.Add(30 * time.Second)
	s.Allow("b")
	assert.Equal(t, 2, s.Len())

	*now = now.Add(45 * time.Second)
	s.Cleanup()
	assert.Equal(t, 1, s.Len())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestStore(1)

	r := gin.New()
	r.Use(Middleware(s))
	r.GET("/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 60, retryAfter, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, float64(retryAfter), body["retry_after"])
}
