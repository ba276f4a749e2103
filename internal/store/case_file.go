package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
)

// CaseFileStore holds case-file documents. The workflow map is stored as one
// JSON document and always replaced whole, guarded by the version column.
type CaseFileStore struct {
	db *sql.DB
}

func NewCaseFileStore(db *sql.DB) *CaseFileStore {
	return &CaseFileStore{db: db}
}

func (s *CaseFileStore) Create(ctx context.Context, cf model.CaseFile) (*model.CaseFile, error) {
	if cf.ID == "" {
		return nil, fmt.Errorf("insert case file: id is required")
	}
	wf, err := json.Marshal(nonNilWorkflow(cf.Workflow))
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO case_files (id, address, client, agency, workflow, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		cf.ID, cf.Address, cf.Client, cf.Agency, string(wf), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert case file: %w", err)
	}

	return s.GetByID(ctx, cf.ID)
}

// GetByID returns nil, nil when the case file does not exist.
func (s *CaseFileStore) GetByID(ctx context.Context, id string) (*model.CaseFile, error) {
	var cf model.CaseFile
	var wf string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, client, agency, workflow, version, created_at, updated_at
		 FROM case_files WHERE id = ?`,
		id,
	).Scan(&cf.ID, &cf.Address, &cf.Client, &cf.Agency, &wf, &cf.Version, &cf.CreatedAt, &cf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query case file: %w", err)
	}

	if err := json.Unmarshal([]byte(wf), &cf.Workflow); err != nil {
		return nil, fmt.Errorf("decode workflow of %s: %w", id, err)
	}
	if cf.Workflow == nil {
		cf.Workflow = model.Workflow{}
	}

	return &cf, nil
}

func (s *CaseFileStore) ListSummaries(ctx context.Context) ([]model.CaseFileSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, address, client, agency FROM case_files ORDER BY address ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query case files: %w", err)
	}
	defer rows.Close()

	var out []model.CaseFileSummary
	for rows.Next() {
		var c model.CaseFileSummary
		if err := rows.Scan(&c.ID, &c.Address, &c.Client, &c.Agency); err != nil {
			return nil, fmt.Errorf("scan case file: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceWorkflow overwrites the whole workflow map if the stored version still
// equals expectedVersion, and returns the new version.
func (s *CaseFileStore) ReplaceWorkflow(ctx context.Context, id string, wf model.Workflow, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(nonNilWorkflow(wf))
	if err != nil {
		return 0, fmt.Errorf("marshal workflow: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE case_files SET workflow = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(data), time.Now().UTC(), id, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update workflow: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return expectedVersion + 1, nil
	}

	var current int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM case_files WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("case file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return 0, fmt.Errorf("case file %s at version %d, expected %d: %w", id, current, expectedVersion, ErrVersionConflict)
}

func (s *CaseFileStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM case_files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete case file: %w", err)
	}
	return nil
}

func nonNilWorkflow(wf model.Workflow) model.Workflow {
	if wf == nil {
		return model.Workflow{}
	}
	return wf
}
