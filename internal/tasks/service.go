package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
)

type EventSource interface {
	EventsIn(calendarID string) []model.CalendarEvent
}

type SummarySource interface {
	ListSummaries(ctx context.Context) ([]model.CaseFileSummary, error)
}

// CompletionSource answers from the local completion cache.
type CompletionSource interface {
	LocalState(eventID string) bool
}

// Service gathers the inputs of Project from the running collaborators.
type Service struct {
	events     EventSource
	summaries  SummarySource
	completion CompletionSource
	primary    string
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(events EventSource, summaries SummarySource, completion CompletionSource, primaryCalendarID string, logger *slog.Logger) *Service {
	return &Service{
		events:     events,
		summaries:  summaries,
		completion: completion,
		primary:    primaryCalendarID,
		logger:     logger,
		now:        time.Now,
	}
}

// List projects, filters and sorts the task view. A failing case-file read
// degrades to empty summaries instead of dropping rows.
func (s *Service) List(ctx context.Context, f Filter) []model.TaskViewItem {
	byID := make(map[string]model.CaseFileSummary)
	summaries, err := s.summaries.ListSummaries(ctx)
	if err != nil {
		s.logger.Warn("case-file summaries unavailable, showing tasks without them", "error", err)
	}
	for _, cf := range summaries {
		byID[cf.ID] = cf
	}

	now := s.now()
	items := Project(s.events.EventsIn(s.primary), byID, s.completion.LocalState, s.primary, now)
	return Apply(items, f, now)
}
