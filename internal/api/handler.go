// Package api serves the public control panel API. Every route except health and system status
// passes through the API key gate before a helper script is dispatched.
package api

import (
	"net/http"
	"strings"
	"time"

	"lompapi/internal/auth"
	"lompapi/internal/dispatch"
	"lompapi/internal/webhooks"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

type Handler struct {
	dispatcher dispatch.Dispatcher
	notifier   webhooks.Notifier
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHandler creates a Handler. notifier may be nil.
func NewHandler(dispatcher dispatch.Dispatcher, notifier webhooks.Notifier, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger.With().Str("component", "api").Logger(),
		now:        time.Now,
	}
}

type CreateSiteRequest struct {
	Domain string `json:"domain" binding:"required,fqdn"`
	Email  string `json:"email" binding:"required,email"`
}

type siteURI struct {
	Domain string `uri:"domain" binding:"required,fqdn"`
}

type CreateBackupRequest struct {
	Domain string `json:"domain" binding:"required,fqdn"`
	Type   string `json:"type" binding:"omitempty,oneof=full files database"`
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *Handler) notify(event string, data gin.H) {
	if h.notifier != nil {
		h.notifier.Notify(event, data)
	}
}

func (h *Handler) fail(c *gin.Context, err error, capability, message string) {
	h.logger.Error().Err(err).Str("capability", capability).Msg(message)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}

func keyID(c *gin.Context) string {
	if k, ok := auth.KeyFromContext(c); ok {
		return k.ID
	}
	return ""
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   Version,
		"timestamp": h.timestamp(),
	})
}

func (h *Handler) SystemStatusHandler(c *gin.Context) {
	out, err := h.dispatcher.Run(c.Request.Context(), "system:status")
	if err != nil {
		h.fail(c, err, "system:status", "Failed to retrieve system status")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"status":      "healthy",
			"timestamp":   h.timestamp(),
			"system_info": strings.TrimSpace(out),
		},
	})
}

func (h *Handler) SystemMetricsHandler(c *gin.Context) {
	out, err := h.dispatcher.Run(c.Request.Context(), "monitoring:read")
	if err != nil {
		h.fail(c, err, "monitoring:read", "Failed to retrieve system metrics")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"metrics":   strings.TrimSpace(out),
			"timestamp": h.timestamp(),
		},
	})
}

func (h *Handler) ListSitesHandler(c *gin.Context) {
	out, err := h.dispatcher.Run(c.Request.Context(), "sites:read")
	if err != nil {
		h.fail(c, err, "sites:read", "Failed to retrieve sites")
		return
	}
	sites := make([]gin.H, 0)
	for _, line := range dispatch.Lines(out) {
		sites = append(sites, gin.H{"domain": line})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"sites": sites},
		"count":   len(sites),
	})
}

func (h *Handler) CreateSiteHandler(c *gin.Context) {
	var req CreateSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid domain and email are required"})
		return
	}
	if _, err := h.dispatcher.Run(c.Request.Context(), "sites:create", req.Domain, req.Email); err != nil {
		h.fail(c, err, "sites:create", "Failed to create site")
		return
	}
	h.notify(webhooks.EventSiteCreated, gin.H{"domain": req.Domain, "email": req.Email, "key_id": keyID(c)})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Site " + req.Domain + " created successfully",
		"data":    gin.H{"domain": req.Domain, "email": req.Email},
	})
}

func (h *Handler) DeleteSiteHandler(c *gin.Context) {
	var uri siteURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain"})
		return
	}
	if _, err := h.dispatcher.Run(c.Request.Context(), "sites:delete", uri.Domain); err != nil {
		h.fail(c, err, "sites:delete", "Failed to delete site")
		return
	}
	h.notify(webhooks.EventSiteDeleted, gin.H{"domain": uri.Domain, "key_id": keyID(c)})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Site " + uri.Domain + " deleted successfully",
	})
}

func (h *Handler) ListBackupsHandler(c *gin.Context) {
	out, err := h.dispatcher.Run(c.Request.Context(), "backups:read")
	if err != nil {
		h.fail(c, err, "backups:read", "Failed to retrieve backups")
		return
	}
	backups := make([]gin.H, 0)
	for _, line := range dispatch.Lines(out) {
		backups = append(backups, gin.H{"name": line})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"backups": backups},
		"count":   len(backups),
	})
}

func (h *Handler) CreateBackupHandler(c *gin.Context) {
	var req CreateBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid domain is required and type must be full, files or database"})
		return
	}
	if req.Type == "" {
		req.Type = "full"
	}
	if _, err := h.dispatcher.Run(c.Request.Context(), "backups:create", req.Domain, req.Type); err != nil {
		h.fail(c, err, "backups:create", "Failed to create backup")
		return
	}
	h.notify(webhooks.EventBackupCreated, gin.H{"domain": req.Domain, "type": req.Type, "key_id": keyID(c)})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Backup for " + req.Domain + " created successfully",
		"data":    gin.H{"domain": req.Domain, "type": req.Type},
	})
}

func (h *Handler) NotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
}
