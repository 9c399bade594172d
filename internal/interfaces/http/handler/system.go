package handler

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/interfaces/http/dto"
)

const healthTimeout = 3 * time.Second

// DatabaseChecker is the part of the database the health check needs.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	Stats() (persistence.ConnectionStats, error)
}

// SystemHandler serves health, ping and build info.
type SystemHandler struct {
	BaseHandler
	db        DatabaseChecker
	name      string
	version   string
	startTime time.Time
}

// NewSystemHandler creates a SystemHandler. db may be nil in tests.
func NewSystemHandler(db DatabaseChecker, name, version string) *SystemHandler {
	return &SystemHandler{
		db:        db,
		name:      name,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                       `json:"status"`
	Database string                       `json:"database"`
	Pool     *persistence.ConnectionStats `json:"pool,omitempty"`
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// RegisterHealth mounts GET /health outside the versioned prefix.
func (h *SystemHandler) RegisterHealth(r gin.IRoutes) {
	r.GET("/health", h.Health)
}

// RegisterRoutes implements router.RouteRegistrar.
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ping", h.Ping)
	rg.GET("/system/info", h.GetSystemInfo)
}

// Health pings the database.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Database: "ok"}
	if h.db == nil {
		resp.Database = "not configured"
		h.Success(c, resp)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		logger.FromContext(c.Request.Context()).Warn("Health check failed", zap.Error(err))
		h.Error(c, dto.ErrCodeServiceUnavailable, "database unavailable")
		return
	}
	if stats, err := h.db.Stats(); err == nil {
		resp.Pool = &stats
	}
	h.Success(c, resp)
}

// Ping answers liveness probes.
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// GetSystemInfo returns name, version and uptime.
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	})
}
