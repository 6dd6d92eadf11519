package admin

import (
	"errors"
	"net/http"

	"lompapi/internal/db"
	"lompapi/internal/keys"
	"lompapi/internal/ratewindow"
	"lompapi/internal/stats"

	"github.com/gin-gonic/gin"
)

// CreateKeyResponse is returned once on key creation; the secret is never retrievable again.
type CreateKeyResponse struct {
	Secret string `json:"secret"`
	Key    any    `json:"key"`
}

type Handler struct {
	keys    *keys.Manager
	windows ratewindow.Store
	stats   stats.Reader
}

// NewHandler creates an admin Handler. statsReader may be nil when no stats backend is configured.
func NewHandler(manager *keys.Manager, windows ratewindow.Store, statsReader stats.Reader) *Handler {
	return &Handler{keys: manager, windows: windows, stats: statsReader}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	list, err := h.keys.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) CreateKeyHandler(c *gin.Context) {
	var req keys.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	secret, key, err := h.keys.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, keys.ErrEmptyName) || errors.Is(err, keys.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key"})
		return
	}
	c.JSON(http.StatusCreated, CreateKeyResponse{Secret: secret, Key: key})
}

func (h *Handler) GetKeyHandler(c *gin.Context) {
	key, err := h.keys.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get key"})
		return
	}
	c.JSON(http.StatusOK, key)
}

func (h *Handler) RevokeKeyHandler(c *gin.Context) {
	key, err := h.keys.Revoke(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, key)
}

func (h *Handler) GetWindowHandler(c *gin.Context) {
	w, err := h.windows.Window(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ratewindow.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No rate window for key"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get rate window"})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) StatsHandler(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stats are disabled"})
		return
	}
	total, err := h.stats.Totals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, total)
}

func (h *Handler) KeyStatsHandler(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Stats are disabled"})
		return
	}
	counters, err := h.stats.ForKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, counters)
}
