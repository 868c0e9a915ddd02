package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventService serves the committed event journal.
type EventService struct {
	events domain.EventStore
	logger *slog.Logger
}

func NewEventService(events domain.EventStore, logger *slog.Logger) *EventService {
	return &EventService{events: events, logger: logger.With(slog.String("component", "event_service"))}
}

// ListEvents returns events matching f in commit order.
func (s *EventService) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.EventRecord, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultEventLimit
	case f.Limit > maxEventLimit:
		f.Limit = maxEventLimit
	}
	evs, err := s.events.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("event_service: list: %w", err)
	}
	return evs, nil
}
