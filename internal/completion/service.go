// Package completion keeps per-event completion flags usable offline: every
// change lands in the local cache first and is written to the remote store
// immediately or, failing that, through a keyed outbox drained later.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/pratiche/internal/model"
	"github.com/sethvargo/go-retry"
)

// RemoteStore is the per-user completion collection in the document store.
type RemoteStore interface {
	GetCompletion(ctx context.Context, userID, eventID string) (completed bool, found bool, err error)
	SetCompletion(ctx context.Context, userID, eventID string, completed bool) error
	ListCompletions(ctx context.Context, userID string) (map[string]bool, error)
}

// Local is the synchronous device-local store: cache, outbox and key/value.
type Local interface {
	CachedState(eventID string) (completed bool, ok bool, err error)
	SetCachedState(eventID string, completed bool) error
	CachedStates() (map[string]bool, error)

	PutPending(e model.PendingSyncEntry) error
	GetPending(eventID string) (*model.PendingSyncEntry, error)
	DeletePending(eventID string) error
	ListPending() ([]model.PendingSyncEntry, error)
	CountPending() (int, error)

	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Connectivity reports whether the remote store should be tried at all.
type Connectivity interface {
	Online() bool
}

type Config struct {
	RemoteTimeout time.Duration
	SyncInterval  time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// Result reports what SetState did with the remote write.
type Result struct {
	// Queued is true when the remote write failed and the change sits in the outbox.
	Queued bool `json:"queued"`
	// Superseded is true when a newer call for the same event took over the remote write.
	Superseded bool `json:"superseded,omitempty"`
}

// SyncReport summarizes one pass over the outbox.
type SyncReport struct {
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

type Service struct {
	remote  RemoteStore
	local   Local
	network Connectivity
	cfg     Config
	logger  *slog.Logger

	now       func() time.Time
	newTicker func(time.Duration) ticker

	mu    sync.Mutex
	seq   map[string]uint64
	locks map[string]*eventLock
	// pulls counts running SyncAllFromRemote calls; while any runs, dirty
	// records the events SetState touched so the pull leaves them alone.
	pulls int
	dirty map[string]bool
}

// eventLock orders remote writes for one event. refs counts the holders and
// waiters; the entry and its sequence are dropped when it reaches zero.
type eventLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(remote RemoteStore, local Local, network Connectivity, cfg Config, logger *slog.Logger) *Service {
	if cfg.RemoteTimeout == 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 5 * time.Minute
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 30 * time.Minute
	}
	return &Service{
		remote:    remote,
		local:     local,
		network:   network,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newTicker: newTimeTicker,
		seq:       make(map[string]uint64),
		locks:     make(map[string]*eventLock),
	}
}

// GetState never fails. A queued local change wins over the remote value;
// otherwise the remote store is read and cached, falling back to the local
// cache and finally to false.
func (s *Service) GetState(ctx context.Context, userID, eventID string) bool {
	local, _, err := s.local.CachedState(eventID)
	if err != nil {
		s.logger.Warn("read cached completion", "event_id", eventID, "error", err)
	}

	pending, err := s.local.GetPending(eventID)
	if err != nil {
		s.logger.Warn("read pending completion", "event_id", eventID, "error", err)
	}
	if pending != nil {
		return local
	}

	if !s.network.Online() {
		remoteReads.WithLabelValues("offline").Inc()
		return local
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	completed, found, err := s.remote.GetCompletion(rctx, userID, eventID)
	cancel()
	if err != nil {
		remoteReads.WithLabelValues("error").Inc()
		s.logger.Debug("remote completion read failed, using local cache", "event_id", eventID, "error", err)
		return local
	}
	remoteReads.WithLabelValues("ok").Inc()

	if !found {
		return local
	}
	if err := s.local.SetCachedState(eventID, completed); err != nil {
		s.logger.Warn("cache remote completion", "event_id", eventID, "error", err)
	}
	return completed
}

// LocalState reads the local cache only. It always reflects the latest
// SetState on this device, queued or not.
func (s *Service) LocalState(eventID string) bool {
	completed, _, err := s.local.CachedState(eventID)
	if err != nil {
		s.logger.Warn("read cached completion", "event_id", eventID, "error", err)
		return false
	}
	return completed
}

// SetState writes the local cache synchronously, then tries the remote store.
// A remote failure queues the change and reports Queued; only a local write
// failure is returned as an error.
func (s *Service) SetState(ctx context.Context, userID, eventID string, completed bool) (Result, error) {
	if eventID == "" {
		return Result{}, errors.New("set completion: event id is required")
	}

	s.mu.Lock()
	if err := s.local.SetCachedState(eventID, completed); err != nil {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("set completion: %w", err)
	}
	s.seq[eventID]++
	mine := s.seq[eventID]
	if s.pulls > 0 {
		s.dirty[eventID] = true
	}
	lock := s.acquireLocked(eventID)
	s.mu.Unlock()

	lock.mu.Lock()
	defer s.release(eventID, lock)

	if s.superseded(eventID, mine) {
		return Result{Superseded: true}, nil
	}

	if err := s.writeRemote(ctx, userID, eventID, completed); err != nil {
		entry := model.PendingSyncEntry{
			EventID:      eventID,
			UserID:       userID,
			DesiredState: completed,
			EnqueuedAt:   s.now(),
		}
		if perr := s.local.PutPending(entry); perr != nil {
			return Result{}, fmt.Errorf("queue completion: %w", perr)
		}
		s.logger.Info("completion queued", "event_id", eventID, "completed", completed, "reason", err)
		s.updatePendingGauge()
		return Result{Queued: true}, nil
	}

	// Anything still queued for this event is older than the value just written.
	if err := s.local.DeletePending(eventID); err != nil {
		s.logger.Warn("clear pending completion", "event_id", eventID, "error", err)
	}
	s.updatePendingGauge()
	return Result{}, nil
}

// SyncPendingChanges writes every due outbox entry to the remote store, each
// under the user that queued it. userID is used for entries that carry none.
func (s *Service) SyncPendingChanges(ctx context.Context, userID string) (SyncReport, error) {
	return s.syncPending(ctx, userID, false)
}

// FlushPendingChanges is SyncPendingChanges ignoring backoff.
func (s *Service) FlushPendingChanges(ctx context.Context, userID string) (SyncReport, error) {
	return s.syncPending(ctx, userID, true)
}

func (s *Service) syncPending(ctx context.Context, userID string, force bool) (SyncReport, error) {
	var report SyncReport

	if !s.network.Online() {
		return report, &TransientSyncError{Op: "sync pending", Err: ErrOffline}
	}

	start := time.Now()
	defer func() {
		syncDuration.Observe(time.Since(start).Seconds())
		s.updatePendingGauge()
	}()

	entries, err := s.local.ListPending()
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}

	now := s.now()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !force && !e.Due(now) {
			report.Deferred++
			continue
		}

		ok, err := s.flushEntry(ctx, userID, e.EventID)
		if ok {
			report.Synced++
			continue
		}
		report.Failed++
		s.logger.Warn("pending completion not synced", "event_id", e.EventID, "error", err)
	}

	if report.Synced > 0 || report.Failed > 0 {
		s.logger.Info("pending completions synced", "synced", report.Synced, "failed", report.Failed, "deferred", report.Deferred)
	}
	return report, nil
}

// flushEntry re-reads the entry under the event lock so a concurrent pass or a
// newer SetState is never overwritten by a stale value.
func (s *Service) flushEntry(ctx context.Context, fallbackUser, eventID string) (bool, error) {
	s.mu.Lock()
	lock := s.acquireLocked(eventID)
	s.mu.Unlock()

	lock.mu.Lock()
	defer s.release(eventID, lock)

	e, err := s.local.GetPending(eventID)
	if err != nil {
		return false, err
	}
	if e == nil {
		return true, nil
	}

	userID := e.UserID
	if userID == "" {
		userID = fallbackUser
	}
	if err := s.writeRemote(ctx, userID, eventID, e.DesiredState); err != nil {
		e.Attempts++
		e.NextAttemptAt = s.now().Add(s.backoff(e.Attempts))
		if perr := s.local.PutPending(*e); perr != nil {
			return false, errors.Join(err, perr)
		}
		return false, err
	}

	if err := s.local.DeletePending(eventID); err != nil {
		return false, err
	}
	return true, nil
}

// SyncAllFromRemote pulls every remote flag into the local cache, leaving
// alone events with a queued local change and events a SetState touched while
// the pull ran.
func (s *Service) SyncAllFromRemote(ctx context.Context, userID string) error {
	s.beginPull()
	defer s.endPull()

	if !s.network.Online() {
		err := &TransientSyncError{Op: "pull", Err: ErrOffline}
		s.logger.Warn("completion pull skipped, using local cache", "error", err)
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	states, err := s.remote.ListCompletions(rctx, userID)
	cancel()
	if err != nil {
		remoteReads.WithLabelValues("error").Inc()
		terr := &TransientSyncError{Op: "pull", Err: err}
		s.logger.Warn("completion pull failed, using local cache", "error", err)
		return terr
	}
	remoteReads.WithLabelValues("ok").Inc()

	skip, err := s.pendingIDs()
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for id, completed := range states {
		if skip[id] {
			continue
		}
		if err := s.cacheRemote(id, completed); err != nil {
			return err
		}
	}

	s.logger.Info("completion states pulled", "count", len(states), "skipped_pending", len(skip))
	return nil
}

// PendingCount is the outbox size, for badges. Errors read as zero.
func (s *Service) PendingCount() int {
	n, err := s.local.CountPending()
	if err != nil {
		s.logger.Warn("count pending completions", "error", err)
		return 0
	}
	return n
}

func (s *Service) writeRemote(ctx context.Context, userID, eventID string, completed bool) error {
	if !s.network.Online() {
		remoteWrites.WithLabelValues("offline").Inc()
		return ErrOffline
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RemoteTimeout)
	defer cancel()

	if err := s.remote.SetCompletion(rctx, userID, eventID, completed); err != nil {
		remoteWrites.WithLabelValues("error").Inc()
		return &TransientSyncError{Op: "write", Err: err}
	}
	remoteWrites.WithLabelValues("ok").Inc()
	return nil
}

// backoff is the delay before retry number attempts: exponential from
// BackoffBase, capped at BackoffCap.
func (s *Service) backoff(attempts int) time.Duration {
	b := retry.WithCappedDuration(s.cfg.BackoffCap, retry.NewExponential(s.cfg.BackoffBase))
	var d time.Duration
	for i := 0; i < attempts; i++ {
		d, _ = b.Next()
		if d >= s.cfg.BackoffCap {
			break
		}
	}
	return d
}

func (s *Service) superseded(eventID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[eventID] != seq
}

// acquireLocked returns the per-event lock with a reference taken, without
// locking it. s.mu must be held.
func (s *Service) acquireLocked(eventID string) *eventLock {
	l, ok := s.locks[eventID]
	if !ok {
		l = &eventLock{}
		s.locks[eventID] = l
	}
	l.refs++
	return l
}

// release unlocks l and drops the event's bookkeeping once nobody holds or
// waits for it. Every sequence number handed out is held by a reference, so
// none can be outstanding at that point.
func (s *Service) release(eventID string, l *eventLock) {
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, eventID)
		delete(s.seq, eventID)
	}
}

func (s *Service) beginPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulls == 0 {
		s.dirty = make(map[string]bool)
	}
	s.pulls++
}

func (s *Service) endPull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls--
	if s.pulls == 0 {
		s.dirty = nil
	}
}

// cacheRemote writes a pulled value unless a SetState for the event is in
// flight or happened since the pull began. Holding s.mu orders the write
// against SetState's own cache write.
func (s *Service) cacheRemote(eventID string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty[eventID] || s.locks[eventID] != nil {
		return nil
	}
	if err := s.local.SetCachedState(eventID, completed); err != nil {
		return fmt.Errorf("cache %s: %w", eventID, err)
	}
	return nil
}

func (s *Service) pendingIDs() (map[string]bool, error) {
	entries, err := s.local.ListPending()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(entries))
	for _, e := range entries {
		ids[e.EventID] = true
	}
	return ids, nil
}

func (s *Service) updatePendingGauge() {
	if n, err := s.local.CountPending(); err == nil {
		pendingEntries.Set(float64(n))
	}
}
