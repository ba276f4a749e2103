package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
)

// LocalStore is the device-local durable cache. All calls are synchronous and
// never touch the network.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{db: db}
}

func (s *LocalStore) CachedState(eventID string) (bool, bool, error) {
	var completed int
	err := s.db.QueryRow(`SELECT completed FROM completion_cache WHERE event_id = ?`, eventID).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("query cached state: %w", err)
	}
	return completed != 0, true, nil
}

func (s *LocalStore) SetCachedState(eventID string, completed bool) error {
	_, err := s.db.Exec(
		`INSERT INTO completion_cache (event_id, completed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET completed = excluded.completed, updated_at = excluded.updated_at`,
		eventID, boolToInt(completed), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set cached state: %w", err)
	}
	return nil
}

func (s *LocalStore) CachedStates() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT event_id, completed FROM completion_cache`)
	if err != nil {
		return nil, fmt.Errorf("query cached states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]bool)
	for rows.Next() {
		var id string
		var completed int
		if err := rows.Scan(&id, &completed); err != nil {
			return nil, fmt.Errorf("scan cached state: %w", err)
		}
		states[id] = completed != 0
	}
	return states, rows.Err()
}

// PutPending inserts the entry or replaces the one queued for the same event.
func (s *LocalStore) PutPending(e model.PendingSyncEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_sync (event_id, user_id, desired_state, enqueued_at, attempts, next_attempt_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		   user_id = excluded.user_id,
		   desired_state = excluded.desired_state,
		   enqueued_at = excluded.enqueued_at,
		   attempts = excluded.attempts,
		   next_attempt_at = excluded.next_attempt_at`,
		e.EventID, e.UserID, boolToInt(e.DesiredState), unixNano(e.EnqueuedAt), e.Attempts, unixNano(e.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("put pending entry: %w", err)
	}
	return nil
}

func (s *LocalStore) GetPending(eventID string) (*model.PendingSyncEntry, error) {
	row := s.db.QueryRow(
		`SELECT event_id, user_id, desired_state, enqueued_at, attempts, next_attempt_at FROM pending_sync WHERE event_id = ?`,
		eventID,
	)
	e, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending entry: %w", err)
	}
	return &e, nil
}

func (s *LocalStore) DeletePending(eventID string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_sync WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete pending entry: %w", err)
	}
	return nil
}

func (s *LocalStore) ListPending() ([]model.PendingSyncEntry, error) {
	rows, err := s.db.Query(
		`SELECT event_id, user_id, desired_state, enqueued_at, attempts, next_attempt_at FROM pending_sync ORDER BY enqueued_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	var entries []model.PendingSyncEntry
	for rows.Next() {
		e, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LocalStore) CountPending() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_sync`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// Get returns the value stored under key; ok is false when the key is absent.
func (s *LocalStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *LocalStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (model.PendingSyncEntry, error) {
	var e model.PendingSyncEntry
	var desired int
	var enqueued, next int64
	if err := row.Scan(&e.EventID, &e.UserID, &desired, &enqueued, &e.Attempts, &next); err != nil {
		return e, err
	}
	e.DesiredState = desired != 0
	e.EnqueuedAt = fromUnixNano(enqueued)
	e.NextAttemptAt = fromUnixNano(next)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
