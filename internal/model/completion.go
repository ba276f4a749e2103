package model

import "time"

type CompletionState struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingSyncEntry is a local completion change not yet confirmed remotely.
// There is at most one per event id; UserID is the user whose document the
// change belongs to.
type PendingSyncEntry struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	DesiredState  bool      `json:"desired_state"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Due reports whether the entry may be retried at now.
func (e PendingSyncEntry) Due(now time.Time) bool {
	return e.NextAttemptAt.IsZero() || !now.Before(e.NextAttemptAt)
}

type TaskViewItem struct {
	EventID     string          `json:"event_id"`
	CalendarID  string          `json:"calendar_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Due         *time.Time      `json:"due,omitempty"`
	End         *time.Time      `json:"end,omitempty"`
	AllDay      bool            `json:"all_day"`
	Category    Category        `json:"category"`
	Color       string          `json:"color"`
	IsPrivate   bool            `json:"is_private"`
	CaseFileID  string          `json:"case_file_id,omitempty"`
	CaseFile    CaseFileSummary `json:"case_file"`
	Completed   bool            `json:"completed"`
	Overdue     bool            `json:"overdue"`
}
