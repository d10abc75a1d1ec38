// Package api contains the broker's HTTP management handlers: health,
// whitelist administration, cache control and diagnostics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/navguard/navguard/internal/arbiter"
	"github.com/navguard/navguard/internal/cache"
	"github.com/navguard/navguard/internal/diagnostics"
	"github.com/navguard/navguard/internal/whitelist"
)

// Version is the broker version reported by the root endpoint.
const Version = "0.3.0"

// Handlers contains all HTTP handlers.
type Handlers struct {
	cache     *cache.Cache
	whitelist *whitelist.Whitelist
	arbiter   *arbiter.Service
	recorder  *diagnostics.Recorder
}

// NewHandlers creates a new handler set.
func NewHandlers(permCache *cache.Cache, wl *whitelist.Whitelist, arb *arbiter.Service, recorder *diagnostics.Recorder) *Handlers {
	return &Handlers{
		cache:     permCache,
		whitelist: wl,
		arbiter:   arb,
		recorder:  recorder,
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "navguard-broker",
		"version": Version,
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "healthy",
		"cache":                h.cache.Stats(),
		"pending_arbitrations": h.arbiter.Pending(),
		"whitelist_patterns":   len(h.whitelist.Patterns()),
	})
}

// ListWhitelist returns all whitelist patterns.
func (h *Handlers) ListWhitelist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": h.whitelist.Patterns()})
}

type whitelistRequest struct {
	Pattern string `json:"pattern" binding:"required"`
}

// AddWhitelist inserts a whitelist pattern.
func (h *Handlers) AddWhitelist(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.whitelist.Add(req.Pattern); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": h.whitelist.Patterns()})
}

// RemoveWhitelist deletes a whitelist pattern.
func (h *Handlers) RemoveWhitelist(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern query parameter required"})
		return
	}
	if !h.whitelist.Remove(pattern) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pattern not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": h.whitelist.Patterns()})
}

// CacheStats returns permission cache statistics.
func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"size":  h.cache.Len(),
		"stats": h.cache.Stats(),
	})
}

// FlushCache forces an immediate durable flush.
func (h *Handlers) FlushCache(c *gin.Context) {
	if err := h.cache.Flush(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": true})
}

// ClearCache drops every cached permission.
func (h *Handlers) ClearCache(c *gin.Context) {
	h.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// Diagnostics returns the broker-side risk-score distribution. Fallback
// events happen in page contexts and surface through the page engine's own
// diagnostics report, never here.
func (h *Handlers) Diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"risk_scores": h.recorder.Summary()})
}
