// Package auth adapts the API key gate and the admin password check to gin middleware.
package auth

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"strings"

	"lompapi/internal/config"
	"lompapi/internal/gate"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// HeaderAPIKey is the header carrying the caller's secret.
const HeaderAPIKey = "X-API-Key"

const keyContextKey = "lompapi.key"

var rejectMessages = map[gate.Reason]string{
	gate.ReasonMissingKey:             "API key required",
	gate.ReasonInvalidKey:             "Invalid API key",
	gate.ReasonInsufficientPermission: "Insufficient permissions",
	gate.ReasonRateLimited:            "Rate limit exceeded",
}

// StatusFor returns the HTTP status of a rejection reason.
func StatusFor(r gate.Reason) int {
	switch r {
	case gate.ReasonNone:
		return http.StatusOK
	case gate.ReasonInsufficientPermission:
		return http.StatusForbidden
	case gate.ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

// ExtractSecret reads the secret from X-API-Key, falling back to an Authorization Bearer token.
func ExtractSecret(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); key != "" {
		return key
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireCapability admits the request through the gate for capability or aborts it with the
// matching status. An empty capability only requires a valid key within its rate limit.
func RequireCapability(g *gate.Gate, capability string, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "auth").Logger()
	return func(c *gin.Context) {
		d := g.Authorize(c.Request.Context(), ExtractSecret(c), capability)
		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		}
		if d.Allowed {
			c.Set(keyContextKey, d.Key)
			c.Next()
			return
		}

		event := logger.Info()
		if d.Err != nil {
			event = logger.Error().Err(d.Err)
		}
		event.Str("reason", d.Reason.String()).
			Str("capability", capability).
			Str("key_id", keyIDOf(d.Key)).
			Str("path", c.Request.URL.Path).
			Msg("Request rejected")

		body := gin.H{"error": rejectMessages[d.Reason]}
		if d.Reason == gate.ReasonRateLimited {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			body["retry_after"] = retryAfter
		}
		c.AbortWithStatusJSON(StatusFor(d.Reason), body)
	}
}

// KeyFromContext returns the key admitted by RequireCapability.
func KeyFromContext(c *gin.Context) (*gate.Key, bool) {
	v, ok := c.Get(keyContextKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*gate.Key)
	return k, ok && k != nil
}

func keyIDOf(k *gate.Key) string {
	if k == nil {
		return ""
	}
	return k.ID
}

// AdminAuthMiddleware checks HTTP basic auth for user "admin". A configured bcrypt hash takes
// precedence over the plaintext password. With neither configured every request is rejected.
func AdminAuthMiddleware(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if !hasAuth || user != "admin" || !checkAdminPassword(cfg, password) {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func checkAdminPassword(cfg config.AdminConfig, password string) bool {
	if cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(password)) == nil
	}
	if cfg.Password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.Password), []byte(password)) == 1
}
