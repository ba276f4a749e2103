package calendar

import (
	"strconv"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
	gcal "google.golang.org/api/calendar/v3"
)

// Private extended properties carried on every event we write.
const (
	propCategory          = "category"
	propIsPrivate         = "isPrivate"
	propRelatedCaseFileID = "relatedCaseFileId"
)

const dateLayout = "2006-01-02"

// normalize converts a Google event into the internal shape. The category
// comes from the private property, else from the Google colorId.
func normalize(calendarID string, e *gcal.Event) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:          e.Id,
		CalendarID:  calendarID,
		Title:       e.Summary,
		Description: e.Description,
		Location:    e.Location,
	}
	ev.Start, ev.AllDay = parseEventTime(e.Start)
	ev.End, _ = parseEventTime(e.End)

	var props map[string]string
	if e.ExtendedProperties != nil {
		props = e.ExtendedProperties.Private
	}

	if c, ok := props[propCategory]; ok && c != "" {
		ev.Category = model.ParseCategory(c)
	} else if c, ok := model.CategoryFromColorID(e.ColorId); ok {
		ev.Category = c
	} else {
		ev.Category = model.CategoryOther
	}
	ev.Color = ev.Category.Color()

	ev.IsPrivate = props[propIsPrivate] == "true"
	ev.RelatedCaseFileID = props[propRelatedCaseFileID]

	if e.Organizer != nil {
		ev.OrganizerEmail = e.Organizer.Email
	}
	return ev
}

// parseEventTime reads dateTime, or date for all-day events. An unparseable
// value yields the zero time.
func parseEventTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, false
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, time.Local)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	return time.Time{}, false
}

func toGoogle(in model.EventInput) *gcal.Event {
	cat := model.ParseCategory(string(in.Category))

	props := map[string]string{
		propCategory:  string(cat),
		propIsPrivate: strconv.FormatBool(in.IsPrivate),
	}
	if in.RelatedCaseFileID != "" {
		props[propRelatedCaseFileID] = in.RelatedCaseFileID
	}

	e := &gcal.Event{
		Summary:            in.Title,
		Description:        in.Description,
		Location:           in.Location,
		ColorId:            cat.ColorID(),
		ExtendedProperties: &gcal.EventExtendedProperties{Private: props},
	}
	if in.IsPrivate {
		e.Visibility = "private"
	}

	if in.AllDay {
		e.Start = &gcal.EventDateTime{Date: in.Start.Format(dateLayout)}
		e.End = &gcal.EventDateTime{Date: in.End.Format(dateLayout)}
	} else {
		e.Start = &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339)}
		e.End = &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339)}
	}
	return e
}
