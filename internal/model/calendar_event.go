package model

import (
	"errors"
	"strings"
	"time"
)

type Category string

const (
	CategoryMeeting    Category = "meeting"
	CategoryDeadline   Category = "deadline"
	CategoryInspection Category = "inspection"
	CategoryDeed       Category = "deed"
	CategoryPersonal   Category = "personal"
	CategoryOther      Category = "other"
)

type categoryStyle struct {
	colorID string
	color   string
}

// Google Calendar exposes eleven fixed event colors; each category owns one.
var categoryStyles = map[Category]categoryStyle{
	CategoryMeeting:    {colorID: "9", color: "#3f51b5"},
	CategoryDeadline:   {colorID: "11", color: "#d50000"},
	CategoryInspection: {colorID: "5", color: "#f6bf26"},
	CategoryDeed:       {colorID: "10", color: "#0b8043"},
	CategoryPersonal:   {colorID: "3", color: "#8e24aa"},
	CategoryOther:      {colorID: "8", color: "#616161"},
}

// ParseCategory maps a stored label onto a known category, falling back to other.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := categoryStyles[c]; ok {
		return c
	}
	return CategoryOther
}

// CategoryFromColorID reverses the Google colorId mapping.
func CategoryFromColorID(colorID string) (Category, bool) {
	for c, st := range categoryStyles {
		if st.colorID == colorID {
			return c, true
		}
	}
	return "", false
}

func (c Category) ColorID() string {
	return categoryStyles[ParseCategory(string(c))].colorID
}

func (c Category) Color() string {
	return categoryStyles[ParseCategory(string(c))].color
}

type CalendarEvent struct {
	ID                string    `json:"id"`
	CalendarID        string    `json:"calendar_id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Location          string    `json:"location"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	AllDay            bool      `json:"all_day"`
	Category          Category  `json:"category"`
	Color             string    `json:"color"`
	IsPrivate         bool      `json:"is_private"`
	RelatedCaseFileID string    `json:"related_case_file_id,omitempty"`
	OrganizerEmail    string    `json:"organizer_email,omitempty"`
}

var ErrInvalidEvent = errors.New("invalid event")

// EventInput carries the caller-editable fields of an event on create or update.
type EventInput struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Location          string    `json:"location"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	AllDay            bool      `json:"all_day"`
	Category          Category  `json:"category"`
	IsPrivate         bool      `json:"is_private"`
	RelatedCaseFileID string    `json:"related_case_file_id,omitempty"`
}

func (in EventInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.Join(ErrInvalidEvent, errors.New("title is required"))
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return errors.Join(ErrInvalidEvent, errors.New("start and end are required"))
	}
	if !in.End.After(in.Start) {
		return errors.Join(ErrInvalidEvent, errors.New("end must be after start"))
	}
	return nil
}
