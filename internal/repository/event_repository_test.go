package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"actuator-hub/internal/model"
)

func TestBuildListQuery(t *testing.T) {
	const selectAll = "SELECT id, event_type, device_index, device_name, data, source, created_at FROM device_events"

	added := model.EventDeviceAdded
	index := uint32(3)
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		filter    *EventFilter
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "nil filter uses the default limit",
			filter:    nil,
			wantQuery: selectAll + " ORDER BY created_at DESC LIMIT $1",
			wantArgs:  []any{defaultListLimit},
		},
		{
			name:      "limit is capped",
			filter:    &EventFilter{Limit: 5000},
			wantQuery: selectAll + " ORDER BY created_at DESC LIMIT $1",
			wantArgs:  []any{maxListLimit},
		},
		{
			name:      "every filter",
			filter:    &EventFilter{EventType: &added, DeviceIndex: &index, Since: &since, Limit: 10},
			wantQuery: selectAll + " WHERE event_type = $1 AND device_index = $2 AND created_at >= $3 ORDER BY created_at DESC LIMIT $4",
			wantArgs:  []any{"DEVICE_ADDED", uint32(3), since, 10},
		},
		{
			name:      "device only",
			filter:    &EventFilter{DeviceIndex: &index},
			wantQuery: selectAll + " WHERE device_index = $1 ORDER BY created_at DESC LIMIT $2",
			wantArgs:  []any{uint32(3), defaultListLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
