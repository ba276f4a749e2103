package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// LegacyKey holds the old purely-local completion map in the key/value table.
	LegacyKey = "legacy.completed_tasks"

	migratedPrefix = "completion.migrated:"
)

// MigrationReport counts what MigrateFromLegacy did.
type MigrationReport struct {
	AlreadyDone bool `json:"already_done"`
	Imported    int  `json:"imported"`
	Skipped     int  `json:"skipped"`
}

// MigrateFromLegacy imports the legacy completion map once per user. Keys the
// remote store already holds keep the remote value; the rest are written
// through SetState, so a failed remote write is queued rather than lost. The
// user is marked migrated only after every key has been handled.
func (s *Service) MigrateFromLegacy(ctx context.Context, userID string) (MigrationReport, error) {
	var report MigrationReport
	marker := migratedPrefix + userID

	if v, ok, err := s.local.Get(marker); err != nil {
		return report, fmt.Errorf("read migration marker: %w", err)
	} else if ok && v == "1" {
		report.AlreadyDone = true
		return report, nil
	}

	raw, ok, err := s.local.Get(LegacyKey)
	if err != nil {
		return report, fmt.Errorf("read legacy map: %w", err)
	}
	if !ok || raw == "" {
		return report, s.local.Set(marker, "1")
	}

	legacy, err := ParseLegacy([]byte(raw))
	if err != nil {
		return report, err
	}

	if !s.network.Online() {
		return report, &TransientSyncError{Op: "migrate", Err: ErrOffline}
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	remote, err := s.remote.ListCompletions(rctx, userID)
	cancel()
	if err != nil {
		return report, &TransientSyncError{Op: "migrate", Err: err}
	}

	pending, err := s.pendingIDs()
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}

	ids := make([]string, 0, len(legacy))
	for id := range legacy {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if pending[id] {
			report.Skipped++
			continue
		}
		if rv, exists := remote[id]; exists {
			if err := s.local.SetCachedState(id, rv); err != nil {
				return report, fmt.Errorf("cache %s: %w", id, err)
			}
			report.Skipped++
			continue
		}
		if _, err := s.SetState(ctx, userID, id, legacy[id]); err != nil {
			return report, err
		}
		report.Imported++
	}

	if err := s.local.Set(marker, "1"); err != nil {
		return report, fmt.Errorf("write migration marker: %w", err)
	}
	s.logger.Info("legacy completions migrated", "user_id", userID, "imported", report.Imported, "skipped", report.Skipped)
	return report, nil
}

// ParseLegacy accepts either an object of event id to flag or an array of
// completed event ids.
func ParseLegacy(data []byte) (map[string]bool, error) {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err == nil {
		return m, nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode legacy completions: %w", err)
	}
	m = make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m, nil
}
