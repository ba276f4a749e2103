package agenda

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pratiche/internal/completion"
	"github.com/dukerupert/pratiche/internal/database"
	"github.com/dukerupert/pratiche/internal/mirror"
	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/store"
	"github.com/dukerupert/pratiche/internal/tasks"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	events    map[string]model.CalendarEvent
	failWith  error
	refreshes int
	calls     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(map[string]model.CalendarEvent)}
}

func (g *fakeGateway) Create(ctx context.Context, calendarID string, in model.EventInput) (model.CalendarEvent, error) {
	g.calls = append(g.calls, "create")
	if g.failWith != nil {
		return model.CalendarEvent{}, g.failWith
	}
	ev := toEvent("evt-new", calendarID, in)
	g.events[ev.ID] = ev
	return ev, nil
}

func (g *fakeGateway) Update(ctx context.Context, calendarID, eventID string, in model.EventInput) (model.CalendarEvent, error) {
	g.calls = append(g.calls, "update")
	if g.failWith != nil {
		return model.CalendarEvent{}, g.failWith
	}
	ev := toEvent(eventID, calendarID, in)
	g.events[eventID] = ev
	return ev, nil
}

func (g *fakeGateway) Delete(ctx context.Context, calendarID, eventID string) error {
	g.calls = append(g.calls, "delete")
	if g.failWith != nil {
		return g.failWith
	}
	delete(g.events, eventID)
	return nil
}

func (g *fakeGateway) Find(eventID string) (model.CalendarEvent, bool) {
	ev, ok := g.events[eventID]
	return ev, ok
}

func (g *fakeGateway) Refresh(ctx context.Context) error {
	g.refreshes++
	return g.failWith
}

func toEvent(id, calendarID string, in model.EventInput) model.CalendarEvent {
	return model.CalendarEvent{
		ID:                id,
		CalendarID:        calendarID,
		Title:             in.Title,
		Start:             in.Start,
		End:               in.End,
		Category:          in.Category,
		RelatedCaseFileID: in.RelatedCaseFileID,
	}
}

type fakeCompletion struct {
	set       map[string]bool
	result    completion.Result
	migrated  int
	pulled    int
	pullError error
}

func (f *fakeCompletion) SetState(ctx context.Context, userID, eventID string, completed bool) (completion.Result, error) {
	if f.set == nil {
		f.set = make(map[string]bool)
	}
	f.set[eventID] = completed
	return f.result, nil
}

func (f *fakeCompletion) MigrateFromLegacy(ctx context.Context, userID string) (completion.MigrationReport, error) {
	f.migrated++
	return completion.MigrationReport{Imported: 2}, nil
}

func (f *fakeCompletion) SyncAllFromRemote(ctx context.Context, userID string) error {
	f.pulled++
	return f.pullError
}

type fakeAccount struct {
	email string
}

func (a fakeAccount) AccountEmail() string { return a.email }
func (a fakeAccount) Authenticated() bool  { return a.email != "" }

type notification struct {
	entity, action, id string
}

type recorder struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recorder) Notify(entity, action, id string, extra map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{entity, action, id})
}

type staticTasks []model.TaskViewItem

func (s staticTasks) List(ctx context.Context, f tasks.Filter) []model.TaskViewItem { return s }

type harness struct {
	svc        *Service
	gateway    *fakeGateway
	completion *fakeCompletion
	notes      *recorder
	cases      *store.CaseFileStore
}

func newHarness(t *testing.T, account fakeAccount) *harness {
	t.Helper()
	db, err := database.OpenDocuments(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := store.NewCaseFileStore(db)
	h := &harness{
		gateway:    newFakeGateway(),
		completion: &fakeCompletion{},
		notes:      &recorder{},
		cases:      cases,
	}
	m := mirror.New(cases, mirror.Config{RetryDelay: time.Millisecond}, logger)
	h.svc = NewService(h.gateway, m, h.completion, staticTasks{{EventID: "evt-1"}}, account, h.notes, logger)
	return h
}

func input(caseFileID string) model.EventInput {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return model.EventInput{
		Title:             "Sopralluogo",
		Start:             start,
		End:               start.Add(time.Hour),
		Category:          model.CategoryInspection,
		RelatedCaseFileID: caseFileID,
	}
}

func TestSaveEventCreateThenEditMirrorsOnce(t *testing.T) {
	h := newHarness(t, fakeAccount{email: "studio@example.it"})
	ctx := context.Background()
	_, err := h.cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	ev, err := h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", Input: input("cf-1")})
	require.NoError(t, err)

	edit := input("cf-1")
	edit.Title = "Sopralluogo rinviato"
	_, err = h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", EventID: ev.ID, Input: edit})
	require.NoError(t, err)

	cf, err := h.cases.GetByID(ctx, "cf-1")
	require.NoError(t, err)
	tasks := cf.Workflow[mirror.DefaultStep].Tasks
	require.Len(t, tasks, 1)
	require.Equal(t, "Sopralluogo rinviato", tasks[0].Text)
	require.Equal(t, "primary", tasks[0].SourceCalendarID)

	require.Equal(t, []notification{
		{"calendar_event", "created", ev.ID},
		{"calendar_event", "updated", ev.ID},
	}, h.notes.sent)
}

func TestSaveEventGatewayFailurePropagates(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	h.gateway.failWith = errors.New("calendar unavailable")

	_, err := h.svc.SaveEvent(context.Background(), SaveRequest{CalendarID: "primary", Input: input("cf-1")})
	require.Error(t, err)
	require.Empty(t, h.notes.sent)
}

func TestSaveEventMissingCaseFileStillSucceeds(t *testing.T) {
	h := newHarness(t, fakeAccount{})

	ev, err := h.svc.SaveEvent(context.Background(), SaveRequest{CalendarID: "primary", Input: input("cf-gone")})
	require.NoError(t, err)
	require.Equal(t, "evt-new", ev.ID)
	require.Len(t, h.notes.sent, 1)
}

func TestDeleteEventResolvesCaseFileFromCache(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	ctx := context.Background()
	_, err := h.cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	ev, err := h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", Input: input("cf-1")})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteEvent(ctx, DeleteRequest{CalendarID: "primary", EventID: ev.ID}))

	cf, _ := h.cases.GetByID(ctx, "cf-1")
	require.Empty(t, cf.Workflow[mirror.DefaultStep].Tasks)
	require.Equal(t, []string{"create", "delete"}, h.gateway.calls)
	require.Equal(t, notification{"calendar_event", "deleted", ev.ID}, h.notes.sent[len(h.notes.sent)-1])
}

func TestCalendarViewEditAndDeleteOfStepTask(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	ctx := context.Background()
	_, err := h.cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)

	// Created from the workflow step, then edited and deleted from the calendar.
	ev, err := h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", Input: input("cf-1"), StepID: "rogito"})
	require.NoError(t, err)

	in := input("cf-1")
	in.Title = "Rogito spostato"
	_, err = h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", EventID: ev.ID, Input: in})
	require.NoError(t, err)

	cf, _ := h.cases.GetByID(ctx, "cf-1")
	require.NotContains(t, cf.Workflow, mirror.DefaultStep)
	require.Len(t, cf.Workflow["rogito"].Tasks, 1)
	require.Equal(t, "Rogito spostato", cf.Workflow["rogito"].Tasks[0].Text)

	require.NoError(t, h.svc.DeleteEvent(ctx, DeleteRequest{CalendarID: "primary", EventID: ev.ID}))

	cf, _ = h.cases.GetByID(ctx, "cf-1")
	require.Empty(t, cf.Workflow["rogito"].Tasks)
}

func TestDeleteEventFailureKeepsMirror(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	ctx := context.Background()
	_, err := h.cases.Create(ctx, model.CaseFile{ID: "cf-1"})
	require.NoError(t, err)
	ev, err := h.svc.SaveEvent(ctx, SaveRequest{CalendarID: "primary", Input: input("cf-1")})
	require.NoError(t, err)

	h.gateway.failWith = errors.New("boom")
	require.Error(t, h.svc.DeleteEvent(ctx, DeleteRequest{CalendarID: "primary", EventID: ev.ID}))

	cf, _ := h.cases.GetByID(ctx, "cf-1")
	require.Len(t, cf.Workflow[mirror.DefaultStep].Tasks, 1)
}

func TestSetCompletedNotifiesUnlessSuperseded(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	ctx := context.Background()

	_, err := h.svc.SetCompleted(ctx, "u1", "evt-1", true)
	require.NoError(t, err)
	require.True(t, h.completion.set["evt-1"])
	require.Len(t, h.notes.sent, 1)

	h.completion.result = completion.Result{Superseded: true}
	_, err = h.svc.SetCompleted(ctx, "u1", "evt-1", false)
	require.NoError(t, err)
	require.Len(t, h.notes.sent, 1)
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t, fakeAccount{})
	h.completion.pullError = errors.New("offline")

	h.svc.Bootstrap(context.Background(), "u1")
	require.Equal(t, 1, h.completion.migrated)
	require.Equal(t, 1, h.completion.pulled)
	require.Equal(t, 0, h.gateway.refreshes, "logged-out bootstrap must not hit the calendar")

	signedIn := newHarness(t, fakeAccount{email: "studio@example.it"})
	signedIn.svc.Bootstrap(context.Background(), "u1")
	require.Equal(t, 1, signedIn.gateway.refreshes)

	require.Len(t, signedIn.svc.Tasks(context.Background(), tasks.Filter{}), 1)
}
