package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

var (
	ErrEventNotFound = errors.New("calendar event not found")
	ErrInvalidEvent  = model.ErrInvalidEvent
)

// Window bounds a list request.
type Window struct {
	From time.Time
	To   time.Time
}

// DefaultWindow covers two months back and three months ahead of now.
func DefaultWindow(now time.Time) Window {
	return Window{From: now.AddDate(0, -2, 0), To: now.AddDate(0, 3, 0)}
}

// EventsAPI is the remote calendar event collection.
type EventsAPI interface {
	List(ctx context.Context, calendarID string, w Window) ([]*gcal.Event, error)
	Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error)
	Update(ctx context.Context, calendarID, eventID string, ev *gcal.Event) (*gcal.Event, error)
	Delete(ctx context.Context, calendarID, eventID string) error
}

// Auth is the slice of Session the gateway depends on.
type Auth interface {
	HandleAPIError(err error) error
	CompleteLogin(ctx context.Context, state, code string) error
	Subscribe(fn func(Status))
}

// Gateway fronts the remote calendars and caches the last full listing of
// each configured calendar. Every successful mutation re-lists everything.
type Gateway struct {
	api       EventsAPI
	auth      Auth
	calendars []string
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	cache       map[string][]model.CalendarEvent
	refreshedAt time.Time
}

func NewGateway(api EventsAPI, auth Auth, calendarIDs []string, logger *slog.Logger) *Gateway {
	g := &Gateway{
		api:       api,
		auth:      auth,
		calendars: calendarIDs,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string][]model.CalendarEvent),
	}
	auth.Subscribe(func(st Status) {
		if st.Auth != Authenticated.String() {
			g.Clear()
		}
	})
	return g
}

// List fetches and normalizes the events of one calendar inside w.
func (g *Gateway) List(ctx context.Context, calendarID string, w Window) ([]model.CalendarEvent, error) {
	items, err := g.api.List(ctx, calendarID, w)
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", calendarID, g.auth.HandleAPIError(err))
	}

	events := make([]model.CalendarEvent, 0, len(items))
	for _, it := range items {
		if it == nil || it.Status == "cancelled" {
			continue
		}
		events = append(events, normalize(calendarID, it))
	}
	return events, nil
}

// Refresh re-lists every configured calendar over the default window. The
// cache is replaced only when all calendars were listed.
func (g *Gateway) Refresh(ctx context.Context) error {
	w := DefaultWindow(g.now())
	fresh := make(map[string][]model.CalendarEvent, len(g.calendars))

	for _, id := range g.calendars {
		events, err := g.List(ctx, id, w)
		if err != nil {
			return err
		}
		fresh[id] = events
	}

	g.mu.Lock()
	g.cache = fresh
	g.refreshedAt = g.now()
	g.mu.Unlock()

	g.logger.Debug("calendar cache refreshed", "calendars", len(fresh))
	return nil
}

func (g *Gateway) Create(ctx context.Context, calendarID string, in model.EventInput) (model.CalendarEvent, error) {
	if err := in.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	created, err := g.api.Insert(ctx, calendarID, toGoogle(in))
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("create event: %w", g.auth.HandleAPIError(err))
	}

	ev := normalize(calendarID, created)
	g.refreshAfter(ctx, "create")
	return ev, nil
}

// Update replaces the event. A remote event that no longer exists still
// refreshes the cache and yields ErrEventNotFound.
func (g *Gateway) Update(ctx context.Context, calendarID, eventID string, in model.EventInput) (model.CalendarEvent, error) {
	if err := in.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	updated, err := g.api.Update(ctx, calendarID, eventID, toGoogle(in))
	if err != nil {
		if isGone(err) {
			g.refreshAfter(ctx, "update")
			return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", eventID, ErrEventNotFound)
		}
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", eventID, g.auth.HandleAPIError(err))
	}

	ev := normalize(calendarID, updated)
	g.refreshAfter(ctx, "update")
	return ev, nil
}

// Delete removes the event. An event already gone counts as deleted.
func (g *Gateway) Delete(ctx context.Context, calendarID, eventID string) error {
	if err := g.api.Delete(ctx, calendarID, eventID); err != nil {
		if !isGone(err) {
			return fmt.Errorf("delete event %s: %w", eventID, g.auth.HandleAPIError(err))
		}
		g.logger.Info("event already deleted remotely", "calendar_id", calendarID, "event_id", eventID)
	}
	g.refreshAfter(ctx, "delete")
	return nil
}

// Login completes the OAuth flow and loads the calendars right away.
func (g *Gateway) Login(ctx context.Context, state, code string) error {
	if err := g.auth.CompleteLogin(ctx, state, code); err != nil {
		return err
	}
	if err := g.Refresh(ctx); err != nil {
		g.logger.Warn("initial calendar fetch failed", "error", err)
	}
	return nil
}

func (g *Gateway) refreshAfter(ctx context.Context, op string) {
	if err := g.Refresh(ctx); err != nil {
		g.logger.Warn("refresh after mutation failed", "op", op, "error", err)
	}
}

// Events returns every cached event ordered by start.
func (g *Gateway) Events() []model.CalendarEvent {
	g.mu.RLock()
	var out []model.CalendarEvent
	for _, events := range g.cache {
		out = append(out, events...)
	}
	g.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// EventsIn returns the cached events of one calendar.
func (g *Gateway) EventsIn(calendarID string) []model.CalendarEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]model.CalendarEvent(nil), g.cache[calendarID]...)
}

func (g *Gateway) Find(eventID string) (model.CalendarEvent, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, events := range g.cache {
		for _, ev := range events {
			if ev.ID == eventID {
				return ev, true
			}
		}
	}
	return model.CalendarEvent{}, false
}

// RefreshedAt is the time of the last successful Refresh, zero after Clear.
func (g *Gateway) RefreshedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.refreshedAt
}

// Clear drops the cached events.
func (g *Gateway) Clear() {
	g.mu.Lock()
	g.cache = make(map[string][]model.CalendarEvent)
	g.refreshedAt = time.Time{}
	g.mu.Unlock()
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
}
