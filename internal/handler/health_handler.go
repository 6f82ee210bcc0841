// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/utils"
)

// ManagerStatus reports the state of the device manager
type ManagerStatus interface {
	Running() bool
	DeviceCount() int
	Scanners() []string
}

// HealthChecker is an optional dependency checked by /health and /ready
type HealthChecker interface {
	HealthCheck() error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	manager   ManagerStatus
	journal   HealthChecker
	sessions  *ConnectionManager
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler. journal and sessions may be nil.
func NewHealthHandler(manager ManagerStatus, journal HealthChecker, sessions *ConnectionManager, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		manager:   manager,
		journal:   journal,
		sessions:  sessions,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including the device manager and journal
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Service is unhealthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.manager.Running() {
		health.Checks["device_manager"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"devices":  h.manager.DeviceCount(),
				"scanners": h.manager.Scanners(),
			},
		}
	} else {
		health.Status = "unhealthy"
		health.Checks["device_manager"] = CheckResult{
			Status:  "unhealthy",
			Message: "Device manager loop is not running",
		}
	}

	if h.journal != nil {
		if err := h.journal.HealthCheck(); err != nil {
			health.Status = "unhealthy"
			health.Checks["journal"] = CheckResult{Status: "unhealthy", Message: err.Error()}
		} else {
			health.Checks["journal"] = CheckResult{Status: "healthy", Message: "Journal database OK"}
		}
	}

	if h.sessions != nil {
		health.Checks["sessions"] = CheckResult{
			Status: "healthy",
			Data:   map[string]interface{}{"connected": h.sessions.Count()},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		h.logger.Warn("Health check failed", zap.Any("checks", health.Checks))
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Description Ready once the device manager loop runs
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if !h.manager.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "device manager not running",
		})
		return
	}
	if h.journal != nil {
		if err := h.journal.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "journal database not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
