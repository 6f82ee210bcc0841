// internal/service/event_journal.go
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"actuator-hub/internal/model"
	"actuator-hub/internal/repository"
)

const journalWriteTimeout = 5 * time.Second

// EventJournal appends device manager events to the event repository.
// It is an audit trail only.
type EventJournal struct {
	repo   repository.EventRepository
	source string
	buffer int
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewEventJournal creates a journal writing events tagged with source
func NewEventJournal(repo repository.EventRepository, source string, buffer int, logger *zap.Logger) *EventJournal {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventJournal{
		repo:   repo,
		source: source,
		buffer: buffer,
		logger: logger.With(zap.String("component", "event_journal")),
		now:    time.Now,
	}
}

// Start subscribes to the bus and writes events until Stop
func (j *EventJournal) Start(bus *EventBus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	events, cancel := bus.Subscribe("journal", j.buffer)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for ev := range events {
			record, ok := model.NewDeviceEvent(ev, j.source, j.now())
			if !ok {
				continue
			}
			j.write(record)
		}
	}(j.done)

	j.logger.Info("Event journal started")
}

func (j *EventJournal) write(ev *model.DeviceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.repo.Create(ctx, ev); err != nil {
		j.logger.Warn("Failed to journal event",
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err),
		)
	}
}

// Stop unsubscribes and waits for queued events to be written
func (j *EventJournal) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	j.logger.Info("Event journal stopped")
}
