// internal/handler/device_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"actuator-hub/internal/message"
	"actuator-hub/internal/utils"
)

// DeviceController is the part of the device manager the admin API drives
type DeviceController interface {
	DeviceList() []message.DeviceMessageInfo
	SendMessage(ctx context.Context, msg message.Message) message.Message
	StopAllDevices(ctx context.Context, id uint32) message.Message
	StartScanning(ctx context.Context) error
	StopScanning()
	Scanners() []string
}

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	manager DeviceController
	nextID  atomic.Uint32
	logger  *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(manager DeviceController, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		manager: manager,
		logger:  utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)
		devices.POST("/stop", h.StopAllDevices)

		deviceRoutes := devices.Group("/:index")
		{
			deviceRoutes.POST("/stop", h.StopDevice)
			deviceRoutes.POST("/vibrate", h.VibrateDevice)
		}
	}

	scanning := router.Group("/scanning")
	{
		scanning.GET("", h.ListScanners)
		scanning.POST("/start", h.StartScanning)
		scanning.POST("/stop", h.StopScanning)
	}
}

// VibrateRequest sets every vibrator of a device to one speed
type VibrateRequest struct {
	Speed *float64 `json:"speed" binding:"required,gte=0,lte=1"`
}

// messageID numbers admin requests so their log lines can be told apart
func (h *DeviceHandler) messageID() uint32 {
	return h.nextID.Add(1)
}

// ListDevices lists connected devices
// @Summary List devices
// @Description Get the devices currently held by the device manager
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,devices=[]message.DeviceMessageInfo}} "Devices retrieved successfully"
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.manager.DeviceList()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"count":   len(devices),
		"devices": devices,
	})
}

// StopAllDevices stops every device
// @Summary Stop all devices
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse "All devices stopped"
// @Failure 409 {object} utils.APIResponse "A device failed to stop"
// @Router /devices/stop [post]
func (h *DeviceHandler) StopAllDevices(c *gin.Context) {
	reply := h.manager.StopAllDevices(c.Request.Context(), h.messageID())
	if failed, ok := reply.(*message.Error); ok {
		h.logger.Warn("Failed to stop all devices", zap.String("error", failed.ErrorMessage))
		utils.ProtocolErrorResponse(c, failed)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "All devices stopped", nil)
}

// StopDevice stops one device
// @Summary Stop a device
// @Tags Devices
// @Produce json
// @Param index path int true "Device index"
// @Success 200 {object} utils.APIResponse "Device stopped"
// @Failure 400 {object} utils.APIResponse "Invalid device index"
// @Failure 409 {object} utils.APIResponse "Unknown device or device failure"
// @Router /devices/{index}/stop [post]
func (h *DeviceHandler) StopDevice(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	h.send(c, message.NewStopDeviceCmd(h.messageID(), index), "Device stopped", index)
}

// VibrateDevice sets every vibrator of a device to one speed
// @Summary Vibrate a device
// @Tags Devices
// @Accept json
// @Produce json
// @Param index path int true "Device index"
// @Param request body VibrateRequest true "Vibration speed"
// @Success 200 {object} utils.APIResponse "Speed set"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Unknown device or device failure"
// @Router /devices/{index}/vibrate [post]
func (h *DeviceHandler) VibrateDevice(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	var req VibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	cmd := &message.SingleMotorVibrateCmd{Speed: *req.Speed}
	cmd.Index = index
	cmd.MsgID = h.messageID()
	h.send(c, cmd, "Speed set", index)
}

func (h *DeviceHandler) send(c *gin.Context, msg message.DeviceMessage, success string, index uint32) {
	reply := h.manager.SendMessage(c.Request.Context(), msg)
	if failed, ok := reply.(*message.Error); ok {
		h.logger.Warn("Device command failed",
			zap.Uint32("device_index", index),
			zap.String("kind", msg.Kind().String()),
			zap.String("error", failed.ErrorMessage),
		)
		utils.ProtocolErrorResponse(c, failed)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, success, gin.H{"device_index": index})
}

// ListScanners lists the registered scanners
// @Summary List scanners
// @Tags Scanning
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{scanners=[]string}} "Scanners retrieved"
// @Router /scanning [get]
func (h *DeviceHandler) ListScanners(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Scanners retrieved", gin.H{"scanners": h.manager.Scanners()})
}

// StartScanning starts every scanner
// @Summary Start scanning
// @Tags Scanning
// @Produce json
// @Success 200 {object} utils.APIResponse "Scanning started"
// @Failure 409 {object} utils.APIResponse "Device manager stopped"
// @Router /scanning/start [post]
func (h *DeviceHandler) StartScanning(c *gin.Context) {
	if err := h.manager.StartScanning(c.Request.Context()); err != nil {
		h.logger.Error("Failed to start scanning", zap.Error(err))
		utils.ErrorResponse(c, http.StatusConflict, "Failed to start scanning", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Scanning started", nil)
}

// StopScanning stops every scanner
// @Summary Stop scanning
// @Tags Scanning
// @Produce json
// @Success 200 {object} utils.APIResponse "Scanning stopped"
// @Router /scanning/stop [post]
func (h *DeviceHandler) StopScanning(c *gin.Context) {
	h.manager.StopScanning()
	utils.SuccessResponse(c, http.StatusOK, "Scanning stopped", nil)
}

var errInvalidIndex = errors.New("device index must be a positive integer")

func parseIndex(c *gin.Context) (uint32, bool) {
	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil || index == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid device index", errInvalidIndex)
		return 0, false
	}
	return uint32(index), true
}
