// internal/repository/event_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"actuator-hub/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// querier is the part of *database.DB the repository uses
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// eventRepository implements EventRepository on postgres
type eventRepository struct {
	db     querier
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db querier, logger *zap.Logger) EventRepository {
	return &eventRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an event to the journal
func (r *eventRepository) Create(ctx context.Context, event *model.DeviceEvent) error {
	query := `
		INSERT INTO device_events (
			id, event_type, device_index, device_name, data, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.EventType, event.DeviceIndex, event.DeviceName,
		event.Data, event.Source, event.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to journal event", zap.Error(err), zap.String("event_type", string(event.EventType)))
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// List returns the newest events matching filter
func (r *eventRepository) List(ctx context.Context, filter *EventFilter) ([]*model.DeviceEvent, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list events", zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.DeviceEvent
	for rows.Next() {
		ev := &model.DeviceEvent{}
		var index sql.NullInt64
		var name sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EventType, &index, &name, &ev.Data, &ev.Source, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if index.Valid {
			i := uint32(index.Int64)
			ev.DeviceIndex = &i
		}
		if name.Valid {
			ev.DeviceName = &name.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// DeleteOlderThan removes events created before the given time
func (r *eventRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	if n > 0 {
		r.logger.Info("Pruned journal events", zap.Int64("deleted", n), zap.Time("before", before))
	}
	return n, nil
}

func buildListQuery(filter *EventFilter) (string, []any) {
	if filter == nil {
		filter = &EventFilter{}
	}

	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.EventType != nil {
		add("event_type = $%d", string(*filter.EventType))
	}
	if filter.DeviceIndex != nil {
		add("device_index = $%d", *filter.DeviceIndex)
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, event_type, device_index, device_name, data, source, created_at FROM device_events")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC LIMIT $%d", len(args))

	return sb.String(), args
}
