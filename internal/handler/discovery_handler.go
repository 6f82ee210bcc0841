// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"actuator-hub/internal/service"
	"actuator-hub/internal/utils"
)

// DiscoveryHandler exposes the loaded device profiles
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/profiles", h.GetSupportedDevices)
}

// GetSupportedDevices returns the device profiles scanners can match
// @Summary Get supported devices
// @Description List the device profiles loaded from the profiles file
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,profiles=[]service.SupportedDevice}} "Supported devices retrieved"
// @Router /profiles [get]
func (h *DiscoveryHandler) GetSupportedDevices(c *gin.Context) {
	supported := h.discoveryService.GetSupportedDevices()
	utils.SuccessResponse(c, http.StatusOK, "Supported devices retrieved", gin.H{
		"count":    len(supported),
		"profiles": supported,
	})
}
