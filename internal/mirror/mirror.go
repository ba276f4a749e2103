// Package mirror keeps a task entry inside a case file's workflow step in
// step with the calendar event it was created from.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/store"
	"github.com/sethvargo/go-retry"
)

// DefaultStep owns tasks created straight from the calendar view.
const DefaultStep = "calendar"

// ErrMirrorSkipped marks a mirror write that had no case file to land in.
var ErrMirrorSkipped = errors.New("mirror write skipped")

// CaseFiles is the document store slice the mirror writes through.
type CaseFiles interface {
	GetByID(ctx context.Context, id string) (*model.CaseFile, error)
	ReplaceWorkflow(ctx context.Context, id string, wf model.Workflow, expectedVersion int64) (int64, error)
}

type Config struct {
	DefaultStep       string
	PrimaryCalendarID string
	MaxRetries        uint64
	RetryDelay        time.Duration
}

type UpsertRequest struct {
	Event model.CalendarEvent
	// StepID is the originating step; empty means the default step.
	StepID               string
	SaveTargetCalendarID string
	AccountEmail         string
	Priority             string
	Reminder             string
}

type Result struct {
	Skipped bool
	StepID  string
	Version int64
}

type Mirror struct {
	caseFiles CaseFiles
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func New(caseFiles CaseFiles, cfg Config, logger *slog.Logger) *Mirror {
	if cfg.DefaultStep == "" {
		cfg.DefaultStep = DefaultStep
	}
	if cfg.PrimaryCalendarID == "" {
		cfg.PrimaryCalendarID = "primary"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	return &Mirror{
		caseFiles: caseFiles,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// ResolveSourceCalendar names the calendar a mirrored task claims to live in.
// Order: an event organized by the signed-in account belongs to the primary
// calendar; otherwise the event's own calendar id; otherwise the save target.
func ResolveSourceCalendar(ev model.CalendarEvent, accountEmail, saveTargetCalendarID, primaryCalendarID string) string {
	if accountEmail != "" && strings.EqualFold(ev.OrganizerEmail, accountEmail) {
		return primaryCalendarID
	}
	if ev.CalendarID != "" {
		return ev.CalendarID
	}
	return saveTargetCalendarID
}

// Upsert writes the task entry for req.Event into its case file. An entry with
// the same event id is updated in place, keeping its completed flag and
// creation date, wherever it lives: without req.StepID it stays in its step,
// with a different req.StepID it moves there. Only a new entry without a step
// goes to the default step. A missing case file yields Result.Skipped and no
// error.
func (m *Mirror) Upsert(ctx context.Context, req UpsertRequest) (Result, error) {
	ev := req.Event
	if ev.RelatedCaseFileID == "" || ev.ID == "" {
		return Result{Skipped: true}, nil
	}
	source := ResolveSourceCalendar(ev, req.AccountEmail, req.SaveTargetCalendarID, m.cfg.PrimaryCalendarID)

	var stepID string
	res, err := m.modify(ctx, ev.RelatedCaseFileID, func(wf model.Workflow) bool {
		now := m.now().UTC()
		found, i := findTask(wf, req.StepID, ev.ID)

		stepID = req.StepID
		if stepID == "" {
			stepID = found
		}
		stepID = m.step(stepID)

		entry := model.WorkflowTask{
			Text:                  ev.Title,
			Description:           ev.Description,
			Location:              ev.Location,
			DueDate:               ev.Start,
			EndDate:               ev.End,
			GoogleCalendarEventID: ev.ID,
			SourceCalendarID:      source,
			RelatedCaseFileID:     ev.RelatedCaseFileID,
			StepID:                stepID,
			Priority:              req.Priority,
			Reminder:              req.Reminder,
			IsPrivate:             ev.IsPrivate,
		}

		if i < 0 {
			entry.CreatedDate = now
			step := wf[stepID]
			step.Tasks = append(step.Tasks, entry)
			wf[stepID] = step
			return true
		}

		prev := wf[found].Tasks[i]
		entry.Completed = prev.Completed
		entry.CreatedDate = prev.CreatedDate
		if entry.Priority == "" {
			entry.Priority = prev.Priority
		}
		if entry.Reminder == "" {
			entry.Reminder = prev.Reminder
		}
		entry.UpdatedAt = &now

		if found == stepID {
			wf[stepID].Tasks[i] = entry
			return true
		}
		removeAt(wf, found, i)
		step := wf[stepID]
		step.Tasks = append(step.Tasks, entry)
		wf[stepID] = step
		return true
	})
	res.StepID = stepID
	if err != nil {
		return res, fmt.Errorf("mirror event %s into %s: %w", ev.ID, ev.RelatedCaseFileID, err)
	}
	if !res.Skipped {
		m.logger.Debug("task mirrored", "case_file_id", ev.RelatedCaseFileID, "step_id", stepID, "event_id", ev.ID)
	}
	return res, nil
}

// Remove deletes the entry for eventID, leaving the rest alone. stepID is
// tried first; without it, or when the entry is not there, every step is
// searched.
func (m *Mirror) Remove(ctx context.Context, caseFileID, stepID, eventID string) (Result, error) {
	if caseFileID == "" || eventID == "" {
		return Result{Skipped: true}, nil
	}

	var removedFrom string
	res, err := m.modify(ctx, caseFileID, func(wf model.Workflow) bool {
		removedFrom = ""
		found, i := findTask(wf, stepID, eventID)
		if i < 0 {
			return false
		}
		removeAt(wf, found, i)
		removedFrom = found
		return true
	})
	res.StepID = removedFrom
	if res.StepID == "" {
		res.StepID = m.step(stepID)
	}
	if err != nil {
		return res, fmt.Errorf("remove mirrored event %s from %s: %w", eventID, caseFileID, err)
	}
	return res, nil
}

// modify runs one read, deep-copy, mutate, whole-workflow write cycle and
// retries it when another writer bumped the version in between. mutate
// reports whether it changed anything.
func (m *Mirror) modify(ctx context.Context, caseFileID string, mutate func(model.Workflow) bool) (Result, error) {
	var res Result
	b := retry.WithMaxRetries(m.cfg.MaxRetries, retry.NewConstant(m.cfg.RetryDelay))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res = Result{}

		cf, err := m.caseFiles.GetByID(ctx, caseFileID)
		if err != nil {
			return err
		}
		if cf == nil {
			res.Skipped = true
			return nil
		}

		wf := cf.Workflow.Clone()
		if !mutate(wf) {
			res.Version = cf.Version
			return nil
		}

		v, err := m.caseFiles.ReplaceWorkflow(ctx, caseFileID, wf, cf.Version)
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			m.logger.Debug("case file changed underneath, retrying", "case_file_id", caseFileID)
			return retry.RetryableError(err)
		case errors.Is(err, store.ErrNotFound):
			res.Skipped = true
			return nil
		case err != nil:
			return err
		}
		res.Version = v
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Skipped {
		m.logger.Warn("mirror write skipped", "case_file_id", caseFileID, "reason", ErrMirrorSkipped)
	}
	return res, nil
}

func (m *Mirror) step(stepID string) string {
	if stepID == "" {
		return m.cfg.DefaultStep
	}
	return stepID
}

// findTask locates the entry for eventID, looking in preferred first and then
// in every step in name order. Event ids are unique across a workflow.
func findTask(wf model.Workflow, preferred, eventID string) (string, int) {
	if preferred != "" {
		if i := indexOf(wf[preferred].Tasks, eventID); i >= 0 {
			return preferred, i
		}
	}
	ids := make([]string, 0, len(wf))
	for id := range wf {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if i := indexOf(wf[id].Tasks, eventID); i >= 0 {
			return id, i
		}
	}
	return "", -1
}

func removeAt(wf model.Workflow, stepID string, i int) {
	step := wf[stepID]
	step.Tasks = append(step.Tasks[:i], step.Tasks[i+1:]...)
	wf[stepID] = step
}

func indexOf(tasks []model.WorkflowTask, eventID string) int {
	for i, t := range tasks {
		if t.GoogleCalendarEventID == eventID {
			return i
		}
	}
	return -1
}
