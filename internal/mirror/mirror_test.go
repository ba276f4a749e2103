package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/pratiche/internal/database"
	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestMirror(t *testing.T) (*Mirror, *store.CaseFileStore) {
	t.Helper()
	db, err := database.OpenDocuments(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cases := store.NewCaseFileStore(db)
	m := New(cases, Config{RetryDelay: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, cases
}

func sampleEvent(id string) model.CalendarEvent {
	return model.CalendarEvent{
		ID:                id,
		CalendarID:        "primary",
		Title:             "Rogito notaio",
		Start:             time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		End:               time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC),
		Category:          model.CategoryDeed,
		RelatedCaseFileID: "cf-1",
	}
}

func TestUpsertTwiceKeepsOneEntry(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1", Address: "Via Roma 12"})
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return created }

	ev := sampleEvent("evt-1")
	res, err := m.Upsert(ctx, UpsertRequest{Event: ev, SaveTargetCalendarID: "primary"})
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, DefaultStep, res.StepID)

	// Mark it completed out of band; an edit must keep the flag.
	cf, err := cases.GetByID(ctx, "cf-1")
	require.NoError(t, err)
	wf := cf.Workflow.Clone()
	step := wf[DefaultStep]
	step.Tasks[0].Completed = true
	wf[DefaultStep] = step
	_, err = cases.ReplaceWorkflow(ctx, "cf-1", wf, cf.Version)
	require.NoError(t, err)

	edited := created.Add(time.Hour)
	m.now = func() time.Time { return edited }
	ev.Title = "Rogito spostato"
	_, err = m.Upsert(ctx, UpsertRequest{Event: ev, SaveTargetCalendarID: "primary"})
	require.NoError(t, err)

	cf, err = cases.GetByID(ctx, "cf-1")
	require.NoError(t, err)
	tasks := cf.Workflow[DefaultStep].Tasks
	require.Len(t, tasks, 1)
	require.Equal(t, "Rogito spostato", tasks[0].Text)
	require.True(t, tasks[0].Completed)
	require.True(t, tasks[0].CreatedDate.Equal(created))
	require.NotNil(t, tasks[0].UpdatedAt)
	require.True(t, tasks[0].UpdatedAt.Equal(edited))
}

func TestUpsertUsesOriginatingStep(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1", Workflow: model.Workflow{
		"survey": {Notes: []model.WorkflowNote{{Text: "call surveyor"}}},
	}})
	require.NoError(t, err)

	_, err = m.Upsert(ctx, UpsertRequest{Event: sampleEvent("evt-1"), StepID: "survey", Priority: "high"})
	require.NoError(t, err)

	cf, _ := cases.GetByID(ctx, "cf-1")
	require.Len(t, cf.Workflow["survey"].Tasks, 1)
	require.Len(t, cf.Workflow["survey"].Notes, 1)
	require.Equal(t, "high", cf.Workflow["survey"].Tasks[0].Priority)
	require.NotContains(t, cf.Workflow, DefaultStep)
}

func TestEditWithoutStepStaysInOwningStep(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	ev := sampleEvent("evt-1")
	_, err = m.Upsert(ctx, UpsertRequest{Event: ev, StepID: "rogito", Priority: "high"})
	require.NoError(t, err)

	ev.Title = "Rogito spostato"
	res, err := m.Upsert(ctx, UpsertRequest{Event: ev})
	require.NoError(t, err)
	require.Equal(t, "rogito", res.StepID)

	cf, _ := cases.GetByID(ctx, "cf-1")
	require.NotContains(t, cf.Workflow, DefaultStep)
	tasks := cf.Workflow["rogito"].Tasks
	require.Len(t, tasks, 1)
	require.Equal(t, "Rogito spostato", tasks[0].Text)
	require.Equal(t, "high", tasks[0].Priority)
	require.NotNil(t, tasks[0].UpdatedAt)
}

func TestUpsertWithNewStepMovesEntry(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	ev := sampleEvent("evt-1")
	_, err = m.Upsert(ctx, UpsertRequest{Event: ev})
	require.NoError(t, err)
	_, err = m.Upsert(ctx, UpsertRequest{Event: ev, StepID: "survey"})
	require.NoError(t, err)

	cf, _ := cases.GetByID(ctx, "cf-1")
	require.Empty(t, cf.Workflow[DefaultStep].Tasks)
	require.Len(t, cf.Workflow["survey"].Tasks, 1)
	require.Equal(t, "survey", cf.Workflow["survey"].Tasks[0].StepID)
}

func TestRemoveWithoutStepFindsOwningStep(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	_, err = m.Upsert(ctx, UpsertRequest{Event: sampleEvent("evt-1"), StepID: "rogito"})
	require.NoError(t, err)
	_, err = m.Upsert(ctx, UpsertRequest{Event: sampleEvent("evt-2"), StepID: "rogito"})
	require.NoError(t, err)

	res, err := m.Remove(ctx, "cf-1", "", "evt-1")
	require.NoError(t, err)
	require.Equal(t, "rogito", res.StepID)

	cf, _ := cases.GetByID(ctx, "cf-1")
	tasks := cf.Workflow["rogito"].Tasks
	require.Len(t, tasks, 1)
	require.Equal(t, "evt-2", tasks[0].GoogleCalendarEventID)

	// A wrong step hint still finds the entry.
	_, err = m.Remove(ctx, "cf-1", "survey", "evt-2")
	require.NoError(t, err)
	cf, _ = cases.GetByID(ctx, "cf-1")
	require.Empty(t, cf.Workflow["rogito"].Tasks)
}

func TestRemoveLeavesOtherEntries(t *testing.T) {
	m, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		_, err := m.Upsert(ctx, UpsertRequest{Event: sampleEvent(id)})
		require.NoError(t, err)
	}

	_, err = m.Remove(ctx, "cf-1", "", "evt-2")
	require.NoError(t, err)

	cf, _ := cases.GetByID(ctx, "cf-1")
	tasks := cf.Workflow[DefaultStep].Tasks
	require.Len(t, tasks, 2)
	require.Equal(t, "evt-1", tasks[0].GoogleCalendarEventID)
	require.Equal(t, "evt-3", tasks[1].GoogleCalendarEventID)

	// Removing an entry that is not there writes nothing.
	before := cf.Version
	res, err := m.Remove(ctx, "cf-1", "", "evt-9")
	require.NoError(t, err)
	require.Equal(t, before, res.Version)
}

func TestUpsertMissingCaseFileIsSkipped(t *testing.T) {
	m, _ := newTestMirror(t)

	res, err := m.Upsert(context.Background(), UpsertRequest{Event: sampleEvent("evt-1")})
	require.NoError(t, err)
	require.True(t, res.Skipped)

	ev := sampleEvent("evt-2")
	ev.RelatedCaseFileID = ""
	res, err = m.Upsert(context.Background(), UpsertRequest{Event: ev})
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestResolveSourceCalendar(t *testing.T) {
	ev := model.CalendarEvent{CalendarID: "team@group.calendar.google.com", OrganizerEmail: "Studio@Example.it"}

	require.Equal(t, "primary", ResolveSourceCalendar(ev, "studio@example.it", "target", "primary"))
	require.Equal(t, "team@group.calendar.google.com", ResolveSourceCalendar(ev, "other@example.it", "target", "primary"))

	ev.CalendarID = ""
	require.Equal(t, "target", ResolveSourceCalendar(ev, "other@example.it", "target", "primary"))
	require.Equal(t, "target", ResolveSourceCalendar(model.CalendarEvent{}, "", "target", "primary"))
}

// racingCaseFiles bumps the stored version right before the first write,
// standing in for a concurrent edit to another step.
type racingCaseFiles struct {
	*store.CaseFileStore
	raced  atomic.Bool
	writes atomic.Int32
}

func (r *racingCaseFiles) ReplaceWorkflow(ctx context.Context, id string, wf model.Workflow, expected int64) (int64, error) {
	r.writes.Add(1)
	if r.raced.CompareAndSwap(false, true) {
		cf, err := r.CaseFileStore.GetByID(ctx, id)
		if err != nil {
			return 0, err
		}
		other := cf.Workflow.Clone()
		other["survey"] = model.WorkflowStep{Notes: []model.WorkflowNote{{Text: "concurrent note"}}}
		if _, err := r.CaseFileStore.ReplaceWorkflow(ctx, id, other, cf.Version); err != nil {
			return 0, err
		}
	}
	return r.CaseFileStore.ReplaceWorkflow(ctx, id, wf, expected)
}

func TestUpsertRetriesOnVersionConflict(t *testing.T) {
	_, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	racing := &racingCaseFiles{CaseFileStore: cases}
	m := New(racing, Config{RetryDelay: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := m.Upsert(ctx, UpsertRequest{Event: sampleEvent("evt-1")})
	require.NoError(t, err)
	require.Equal(t, int32(2), racing.writes.Load())
	require.Equal(t, int64(3), res.Version)

	cf, _ := cases.GetByID(ctx, "cf-1")
	require.Len(t, cf.Workflow[DefaultStep].Tasks, 1)
	require.Len(t, cf.Workflow["survey"].Notes, 1, "concurrent edit to another step must survive")
}

type alwaysConflict struct{ *store.CaseFileStore }

func (alwaysConflict) ReplaceWorkflow(ctx context.Context, id string, wf model.Workflow, expected int64) (int64, error) {
	return 0, store.ErrVersionConflict
}

func TestUpsertGivesUpAfterMaxRetries(t *testing.T) {
	_, cases := newTestMirror(t)
	ctx := context.Background()
	_, err := cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	m := New(alwaysConflict{cases}, Config{RetryDelay: time.Millisecond, MaxRetries: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err = m.Upsert(ctx, UpsertRequest{Event: sampleEvent("evt-1")})
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrVersionConflict))
}
