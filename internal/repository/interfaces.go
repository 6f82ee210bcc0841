// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"actuator-hub/internal/model"
)

// EventRepository defines device event journal access
type EventRepository interface {
	Create(ctx context.Context, event *model.DeviceEvent) error
	List(ctx context.Context, filter *EventFilter) ([]*model.DeviceEvent, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// EventFilter represents filtering options for journal listing
type EventFilter struct {
	EventType   *model.EventType
	DeviceIndex *uint32
	Since       *time.Time
	Limit       int
}
