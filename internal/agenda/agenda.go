// Package agenda sequences a user action across the calendar, the case-file
// mirror and the completion cache, then tells open clients what changed.
package agenda

import (
	"context"
	"log/slog"

	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/dukerupert/pratiche/internal/mirror"
	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/tasks"
)

type Gateway interface {
	Create(ctx context.Context, calendarID string, in model.EventInput) (model.CalendarEvent, error)
	Update(ctx context.Context, calendarID, eventID string, in model.EventInput) (model.CalendarEvent, error)
	Delete(ctx context.Context, calendarID, eventID string) error
	Find(eventID string) (model.CalendarEvent, bool)
	Refresh(ctx context.Context) error
}

type Mirror interface {
	Upsert(ctx context.Context, req mirror.UpsertRequest) (mirror.Result, error)
	Remove(ctx context.Context, caseFileID, stepID, eventID string) (mirror.Result, error)
}

type Completion interface {
	SetState(ctx context.Context, userID, eventID string, completed bool) (completion.Result, error)
	MigrateFromLegacy(ctx context.Context, userID string) (completion.MigrationReport, error)
	SyncAllFromRemote(ctx context.Context, userID string) error
}

type TaskLister interface {
	List(ctx context.Context, f tasks.Filter) []model.TaskViewItem
}

// Account reports who is signed in to the calendar.
type Account interface {
	AccountEmail() string
	Authenticated() bool
}

type Notifier interface {
	Notify(entity, action, id string, extra map[string]any)
}

const (
	entityEvent = "calendar_event"
	entityTask  = "task"
)

type SaveRequest struct {
	CalendarID string           `json:"calendar_id"`
	EventID    string           `json:"event_id,omitempty"`
	Input      model.EventInput `json:"event"`
	StepID     string           `json:"step_id,omitempty"`
	Priority   string           `json:"priority,omitempty"`
	Reminder   string           `json:"reminder,omitempty"`
}

type DeleteRequest struct {
	CalendarID string `json:"calendar_id"`
	EventID    string `json:"event_id"`
	CaseFileID string `json:"case_file_id,omitempty"`
	StepID     string `json:"step_id,omitempty"`
}

type Service struct {
	gateway    Gateway
	mirror     Mirror
	completion Completion
	tasks      TaskLister
	account    Account
	notifier   Notifier
	logger     *slog.Logger
}

func NewService(gateway Gateway, m Mirror, c Completion, t TaskLister, account Account, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		gateway:    gateway,
		mirror:     m,
		completion: c,
		tasks:      t,
		account:    account,
		notifier:   notifier,
		logger:     logger,
	}
}

// SaveEvent creates the event, or updates it when req.EventID is set. The
// gateway has refreshed its cache by the time it returns, so the mirror only
// ever sees saved events. Mirror failures are logged, never returned.
func (s *Service) SaveEvent(ctx context.Context, req SaveRequest) (model.CalendarEvent, error) {
	var (
		ev     model.CalendarEvent
		err    error
		action = "created"
	)
	if req.EventID == "" {
		ev, err = s.gateway.Create(ctx, req.CalendarID, req.Input)
	} else {
		action = "updated"
		ev, err = s.gateway.Update(ctx, req.CalendarID, req.EventID, req.Input)
	}
	if err != nil {
		return model.CalendarEvent{}, err
	}

	if ev.RelatedCaseFileID != "" {
		_, err := s.mirror.Upsert(ctx, mirror.UpsertRequest{
			Event:                ev,
			StepID:               req.StepID,
			SaveTargetCalendarID: req.CalendarID,
			AccountEmail:         s.account.AccountEmail(),
			Priority:             req.Priority,
			Reminder:             req.Reminder,
		})
		if err != nil {
			s.logger.Error("mirror task failed", "event_id", ev.ID, "case_file_id", ev.RelatedCaseFileID, "error", err)
		}
	}

	s.notifier.Notify(entityEvent, action, ev.ID, map[string]any{"calendar_id": req.CalendarID})
	return ev, nil
}

// DeleteEvent removes the event and then its mirrored task entry. The case
// file is taken from the request or, failing that, from the cached event; the
// mirror finds the owning step when the request names none.
func (s *Service) DeleteEvent(ctx context.Context, req DeleteRequest) error {
	caseFileID := req.CaseFileID
	if caseFileID == "" {
		if ev, ok := s.gateway.Find(req.EventID); ok {
			caseFileID = ev.RelatedCaseFileID
		}
	}

	if err := s.gateway.Delete(ctx, req.CalendarID, req.EventID); err != nil {
		return err
	}

	if caseFileID != "" {
		if _, err := s.mirror.Remove(ctx, caseFileID, req.StepID, req.EventID); err != nil {
			s.logger.Error("remove mirrored task failed", "event_id", req.EventID, "case_file_id", caseFileID, "error", err)
		}
	}

	s.notifier.Notify(entityEvent, "deleted", req.EventID, map[string]any{"calendar_id": req.CalendarID})
	return nil
}

func (s *Service) SetCompleted(ctx context.Context, userID, eventID string, completed bool) (completion.Result, error) {
	res, err := s.completion.SetState(ctx, userID, eventID, completed)
	if err != nil {
		return res, err
	}
	if !res.Superseded {
		s.notifier.Notify(entityTask, "completed", eventID, map[string]any{
			"completed": completed,
			"queued":    res.Queued,
		})
	}
	return res, nil
}

func (s *Service) Tasks(ctx context.Context, f tasks.Filter) []model.TaskViewItem {
	return s.tasks.List(ctx, f)
}

// Bootstrap brings a freshly started process up to date. Every step is best
// effort: the app runs on cached state when any of them fails.
func (s *Service) Bootstrap(ctx context.Context, userID string) {
	if report, err := s.completion.MigrateFromLegacy(ctx, userID); err != nil {
		s.logger.Warn("legacy completion import deferred", "user_id", userID, "error", err)
	} else if !report.AlreadyDone {
		s.logger.Info("legacy completions imported", "user_id", userID, "imported", report.Imported, "skipped", report.Skipped)
	}

	if err := s.completion.SyncAllFromRemote(ctx, userID); err != nil {
		s.logger.Warn("completion pull skipped", "user_id", userID, "error", err)
	}

	if !s.account.Authenticated() {
		s.logger.Info("calendar not connected, skipping event fetch")
		return
	}
	if err := s.gateway.Refresh(ctx); err != nil {
		s.logger.Warn("calendar fetch failed", "error", err)
	}
}
