// Package tasks derives the to-do view from calendar events, case-file
// summaries and completion flags.
package tasks

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
)

type Status string

const (
	StatusAll     Status = "all"
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusOverdue Status = "overdue"
)

type DueBucket string

const (
	DueAll      DueBucket = "all"
	DueToday    DueBucket = "today"
	DueTomorrow DueBucket = "tomorrow"
	DueThisWeek DueBucket = "this-week"
)

// Filter dimensions compose: an item must match every non-empty one.
type Filter struct {
	Status     Status    `json:"status"`
	Due        DueBucket `json:"due"`
	Agency     string    `json:"agency,omitempty"`
	CaseFileID string    `json:"case_file_id,omitempty"`
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusAll:
		return StatusAll, nil
	case StatusPending, StatusDone, StatusOverdue:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

func ParseDueBucket(s string) (DueBucket, error) {
	switch b := DueBucket(strings.ToLower(strings.TrimSpace(s))); b {
	case "", DueAll:
		return DueAll, nil
	case DueToday, DueTomorrow, DueThisWeek:
		return b, nil
	default:
		return "", fmt.Errorf("unknown due filter %q", s)
	}
}

// Project builds one item per event of the primary calendar. Events of any
// other calendar are not tasks. A missing summary leaves the case file empty.
func Project(events []model.CalendarEvent, summaries map[string]model.CaseFileSummary, completed func(eventID string) bool, primaryCalendarID string, now time.Time) []model.TaskViewItem {
	items := make([]model.TaskViewItem, 0, len(events))
	for _, ev := range events {
		if ev.CalendarID != primaryCalendarID {
			continue
		}

		item := model.TaskViewItem{
			EventID:     ev.ID,
			CalendarID:  ev.CalendarID,
			Title:       ev.Title,
			Description: ev.Description,
			Location:    ev.Location,
			AllDay:      ev.AllDay,
			Category:    ev.Category,
			Color:       ev.Color,
			IsPrivate:   ev.IsPrivate,
			CaseFileID:  ev.RelatedCaseFileID,
		}
		if !ev.Start.IsZero() {
			due := ev.Start
			item.Due = &due
		}
		if !ev.End.IsZero() {
			end := ev.End
			item.End = &end
		}
		if ev.RelatedCaseFileID != "" {
			item.CaseFile = summaries[ev.RelatedCaseFileID]
		}
		if completed != nil {
			item.Completed = completed(ev.ID)
		}
		item.Overdue = IsOverdue(item, now)

		items = append(items, item)
	}
	return items
}

// IsOverdue is true for an incomplete item due on a day before today's.
// Something due earlier today is not overdue yet.
func IsOverdue(item model.TaskViewItem, now time.Time) bool {
	if item.Due == nil || item.Completed {
		return false
	}
	return dayOf(*item.Due, now.Location()).Before(startOfDay(now))
}

// Apply filters items and returns them sorted by due date.
func Apply(items []model.TaskViewItem, f Filter, now time.Time) []model.TaskViewItem {
	out := make([]model.TaskViewItem, 0, len(items))
	for _, it := range items {
		if matches(it, f, now) {
			out = append(out, it)
		}
	}
	Sort(out)
	return out
}

func matches(it model.TaskViewItem, f Filter, now time.Time) bool {
	switch f.Status {
	case StatusPending:
		if it.Completed {
			return false
		}
	case StatusDone:
		if !it.Completed {
			return false
		}
	case StatusOverdue:
		if !IsOverdue(it, now) {
			return false
		}
	}

	if f.Due != "" && f.Due != DueAll {
		if it.Due == nil {
			return false
		}
		today := startOfDay(now)
		day := dayOf(*it.Due, now.Location())
		switch f.Due {
		case DueToday:
			if !day.Equal(today) {
				return false
			}
		case DueTomorrow:
			if !day.Equal(today.AddDate(0, 0, 1)) {
				return false
			}
		case DueThisWeek:
			start := weekStart(today)
			if day.Before(start) || !day.Before(start.AddDate(0, 0, 7)) {
				return false
			}
		}
	}

	if f.Agency != "" && !strings.EqualFold(it.CaseFile.Agency, f.Agency) {
		return false
	}
	if f.CaseFileID != "" && it.CaseFileID != f.CaseFileID {
		return false
	}
	return true
}

// Sort orders by due date ascending. Items without a date go last and keep
// their relative order.
func Sort(items []model.TaskViewItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Due, items[j].Due
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	return startOfDay(t.In(loc))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekStart is the Monday of day's week.
func weekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
