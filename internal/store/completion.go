package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CompletionStore keeps the remote completion documents, one per (user, event).
type CompletionStore struct {
	db *sql.DB
}

func NewCompletionStore(db *sql.DB) *CompletionStore {
	return &CompletionStore{db: db}
}

func (s *CompletionStore) GetCompletion(ctx context.Context, userID, eventID string) (bool, bool, error) {
	var completed int
	err := s.db.QueryRowContext(ctx,
		`SELECT completed FROM completion_states WHERE user_id = ? AND event_id = ?`,
		userID, eventID,
	).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("query completion state: %w", err)
	}
	return completed != 0, true, nil
}

func (s *CompletionStore) SetCompletion(ctx context.Context, userID, eventID string, completed bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_states (user_id, event_id, completed, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, event_id) DO UPDATE SET completed = excluded.completed, updated_at = excluded.updated_at`,
		userID, eventID, boolToInt(completed), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set completion state: %w", err)
	}
	return nil
}

func (s *CompletionStore) ListCompletions(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, completed FROM completion_states WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query completion states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		var completed int
		if err := rows.Scan(&id, &completed); err != nil {
			return nil, fmt.Errorf("scan completion state: %w", err)
		}
		out[id] = completed != 0
	}
	return out, rows.Err()
}
