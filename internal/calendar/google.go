package calendar

import (
	"context"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

// GoogleEvents is the EventsAPI backed by the Calendar v3 REST API.
type GoogleEvents struct {
	session *Session
}

func NewGoogleEvents(session *Session) *GoogleEvents {
	return &GoogleEvents{session: session}
}

func (g *GoogleEvents) List(ctx context.Context, calendarID string, w Window) ([]*gcal.Event, error) {
	svc, err := g.session.Service(ctx)
	if err != nil {
		return nil, err
	}

	var items []*gcal.Event
	err = svc.Events.List(calendarID).
		TimeMin(w.From.Format(time.RFC3339)).
		TimeMax(w.To.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250).
		Pages(ctx, func(page *gcal.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (g *GoogleEvents) Insert(ctx context.Context, calendarID string, ev *gcal.Event) (*gcal.Event, error) {
	svc, err := g.session.Service(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Events.Insert(calendarID, ev).Context(ctx).Do()
}

func (g *GoogleEvents) Update(ctx context.Context, calendarID, eventID string, ev *gcal.Event) (*gcal.Event, error) {
	svc, err := g.session.Service(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Events.Update(calendarID, eventID, ev).Context(ctx).Do()
}

func (g *GoogleEvents) Delete(ctx context.Context, calendarID, eventID string) error {
	svc, err := g.session.Service(ctx)
	if err != nil {
		return err
	}
	return svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}
