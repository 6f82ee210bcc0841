package routes

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actuator-hub/internal/model"
	"actuator-hub/internal/repository"
)

type stubEventLister struct {
	filter *repository.EventFilter
	events []*model.DeviceEvent
	err    error
}

func (s *stubEventLister) List(_ context.Context, filter *repository.EventFilter) ([]*model.DeviceEvent, error) {
	s.filter = filter
	return s.events, s.err
}

func TestEventsEndpoint(t *testing.T) {
	index := uint32(2)
	name := "Vibe"
	lister := &stubEventLister{events: []*model.DeviceEvent{{
		EventType:   model.EventDeviceAdded,
		DeviceIndex: &index,
		DeviceName:  &name,
		Source:      "hub-1",
		Timestamp:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}}}
	h := newHarnessWith(t, func(d *Dependencies) { d.Events = lister })

	resp := h.get("/api/v1/events?type=DEVICE_ADDED&device=2&since=2024-06-01T00:00:00Z&limit=10")
	require.Equal(t, http.StatusOK, resp.Code)
	data := resp.Body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["count"])
	events := data["events"].([]interface{})
	assert.Equal(t, "Vibe", events[0].(map[string]interface{})["device_name"])

	require.NotNil(t, lister.filter)
	assert.Equal(t, model.EventDeviceAdded, *lister.filter.EventType)
	assert.Equal(t, uint32(2), *lister.filter.DeviceIndex)
	assert.True(t, lister.filter.Since.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 10, lister.filter.Limit)
}

func TestEventsEndpointValidation(t *testing.T) {
	lister := &stubEventLister{}
	h := newHarnessWith(t, func(d *Dependencies) { d.Events = lister })

	resp := h.get("/api/v1/events?type=PRINTED")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, lister.filter)

	resp = h.get("/api/v1/events")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(0), resp.Body["data"].(map[string]interface{})["count"])

	lister.err = errors.New("database is down")
	resp = h.get("/api/v1/events")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestEventsEndpointDisabledWithoutJournal(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
