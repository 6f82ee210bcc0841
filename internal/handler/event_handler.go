// internal/handler/event_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"actuator-hub/internal/model"
	"actuator-hub/internal/repository"
	"actuator-hub/internal/utils"
)

// EventLister reads the device event journal
type EventLister interface {
	List(ctx context.Context, filter *repository.EventFilter) ([]*model.DeviceEvent, error)
}

// EventHandler exposes the device event journal
type EventHandler struct {
	events EventLister
	logger *utils.ServiceLogger
}

// EventQuery is the query string accepted by ListEvents
type EventQuery struct {
	Type   string     `form:"type" binding:"omitempty,oneof=DEVICE_ADDED DEVICE_REMOVED SCANNING_FINISHED"`
	Device *uint32    `form:"device"`
	Since  *time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int        `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

// NewEventHandler creates a new event handler
func NewEventHandler(events EventLister, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: utils.NewServiceLogger(logger, "event-handler"),
	}
}

// RegisterRoutes registers event routes
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.ListEvents)
}

// ListEvents returns the newest journal entries
// @Summary List device events
// @Description List journaled DeviceAdded, DeviceRemoved and ScanningFinished events, newest first
// @Tags Events
// @Produce json
// @Param type query string false "Event type"
// @Param device query int false "Device index"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "Maximum number of events"
// @Success 200 {object} utils.APIResponse{data=object{count=int,events=[]model.DeviceEvent}} "Events retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid query"
// @Router /events [get]
func (h *EventHandler) ListEvents(c *gin.Context) {
	var query EventQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.ValidationErrorResponse(c, err)
		return
	}

	filter := &repository.EventFilter{
		DeviceIndex: query.Device,
		Since:       query.Since,
		Limit:       query.Limit,
	}
	if query.Type != "" {
		eventType := model.EventType(query.Type)
		filter.EventType = &eventType
	}

	events, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	if events == nil {
		events = []*model.DeviceEvent{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Events retrieved", gin.H{
		"count":  len(events),
		"events": events,
	})
}
