package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/pratiche/internal/database"
	"github.com/dukerupert/pratiche/internal/model"
	"github.com/dukerupert/pratiche/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu   sync.Mutex
	data map[string]map[string]bool
	fail bool
	// failWrites fails SetCompletion only.
	failWrites bool
	attempts   int

	// When set, SetCompletion signals entered and waits on release once.
	entered chan struct{}
	release chan struct{}

	// afterList runs once after ListCompletions has taken its snapshot.
	afterList func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string]map[string]bool)}
}

var errRemoteDown = errors.New("remote unavailable")

func (f *fakeRemote) GetCompletion(ctx context.Context, userID, eventID string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, false, errRemoteDown
	}
	v, ok := f.data[userID][eventID]
	return v, ok, nil
}

func (f *fakeRemote) SetCompletion(ctx context.Context, userID, eventID string, completed bool) error {
	f.mu.Lock()
	f.attempts++
	entered, release := f.entered, f.release
	f.entered, f.release = nil, nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.failWrites {
		return errRemoteDown
	}
	if f.data[userID] == nil {
		f.data[userID] = make(map[string]bool)
	}
	f.data[userID][eventID] = completed
	return nil
}

func (f *fakeRemote) ListCompletions(ctx context.Context, userID string) (map[string]bool, error) {
	f.mu.Lock()
	if f.fail {
		f.mu.Unlock()
		return nil, errRemoteDown
	}
	out := make(map[string]bool)
	for k, v := range f.data[userID] {
		out[k] = v
	}
	hook := f.afterList
	f.afterList = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeRemote) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeRemote) value(userID, eventID string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[userID][eventID]
	return v, ok
}

func (f *fakeRemote) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type fakeNetwork struct {
	online atomic.Bool
}

func (n *fakeNetwork) Online() bool { return n.online.Load() }

func newOnline() *fakeNetwork {
	n := &fakeNetwork{}
	n.online.Store(true)
	return n
}

func newTestService(t *testing.T, remote RemoteStore, network Connectivity) (*Service, *store.LocalStore) {
	t.Helper()
	db, err := database.OpenLocal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	local := store.NewLocalStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(remote, local, network, Config{}, logger), local
}

func TestSetThenGetWhileOffline(t *testing.T) {
	remote := newFakeRemote()
	network := &fakeNetwork{}
	svc, _ := newTestService(t, remote, network)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2", "a@b"} {
		res, err := svc.SetState(ctx, "u1", id, true)
		require.NoError(t, err)
		require.True(t, res.Queued)
		require.True(t, svc.GetState(ctx, "u1", id))
	}
	require.Zero(t, remote.attemptCount(), "offline writes must not reach the remote")
	require.Equal(t, 3, svc.PendingCount())
}

func TestSetThenGetWithFailingRemote(t *testing.T) {
	remote := newFakeRemote()
	svc, _ := newTestService(t, remote, newOnline())
	ctx := context.Background()

	// Remote has a stale value the local change must win over.
	require.NoError(t, remote.SetCompletion(ctx, "u1", "evt-1", false))
	remote.setFail(true)

	res, err := svc.SetState(ctx, "u1", "evt-1", true)
	require.NoError(t, err)
	require.True(t, res.Queued)

	remote.setFail(false)
	require.True(t, svc.GetState(ctx, "u1", "evt-1"), "pending local change wins over remote")
}

func TestGetStateReadsRemoteAndCaches(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	require.NoError(t, remote.SetCompletion(ctx, "u1", "evt-1", true))
	require.True(t, svc.GetState(ctx, "u1", "evt-1"))

	cached, ok, err := local.CachedState("evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cached)

	// Remote now fails; the cached value is served.
	remote.setFail(true)
	require.True(t, svc.GetState(ctx, "u1", "evt-1"))
	require.False(t, svc.GetState(ctx, "u1", "never-seen"))
}

func TestLastWriteWinsAfterSync(t *testing.T) {
	remote := newFakeRemote()
	svc, _ := newTestService(t, remote, newOnline())
	ctx := context.Background()

	remote.setFail(true)
	for _, v := range []bool{true, false, true, true, false} {
		res, err := svc.SetState(ctx, "u1", "evt-1", v)
		require.NoError(t, err)
		require.True(t, res.Queued)
	}
	require.Equal(t, 1, svc.PendingCount(), "outbox is keyed by event")

	remote.setFail(false)
	report, err := svc.FlushPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Synced)

	v, ok := remote.value("u1", "evt-1")
	require.True(t, ok)
	require.False(t, v, "remote must hold the last value written")
	require.Zero(t, svc.PendingCount())
}

func TestSyncTwiceIsNoop(t *testing.T) {
	remote := newFakeRemote()
	network := &fakeNetwork{}
	svc, _ := newTestService(t, remote, network)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.SetState(ctx, "u1", id, true)
		require.NoError(t, err)
	}
	network.online.Store(true)

	report, err := svc.SyncPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, report.Synced)
	require.Zero(t, svc.PendingCount())
	writes := remote.attemptCount()

	report, err = svc.SyncPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, SyncReport{}, report)
	require.Equal(t, writes, remote.attemptCount())
}

func TestSuccessfulWriteClearsOlderQueuedEntry(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	remote.setFail(true)
	_, err := svc.SetState(ctx, "u1", "evt-1", true)
	require.NoError(t, err)

	remote.setFail(false)
	res, err := svc.SetState(ctx, "u1", "evt-1", false)
	require.NoError(t, err)
	require.False(t, res.Queued)

	p, err := local.GetPending("evt-1")
	require.NoError(t, err)
	require.Nil(t, p)

	// A later sync must not resurrect the stale true.
	_, err = svc.SyncPendingChanges(ctx, "u1")
	require.NoError(t, err)
	v, _ := remote.value("u1", "evt-1")
	require.False(t, v)
}

func TestConcurrentSetStateKeepsLastValue(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	remote.entered = make(chan struct{})
	remote.release = make(chan struct{})
	entered, release := remote.entered, remote.release

	var wg sync.WaitGroup
	results := make([]Result, 3)
	errs := make([]error, 3)
	call := func(i int, v bool) {
		defer wg.Done()
		results[i], errs[i] = svc.SetState(ctx, "u1", "evt-1", v)
	}

	wg.Add(1)
	go call(0, true)
	<-entered

	waitLocal := func(want bool) {
		require.Eventually(t, func() bool {
			v, ok, err := local.CachedState("evt-1")
			return err == nil && ok && v == want
		}, time.Second, time.Millisecond)
	}

	wg.Add(1)
	go call(1, false)
	waitLocal(false)

	wg.Add(1)
	go call(2, true)
	waitLocal(true)

	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.True(t, results[1].Superseded, "middle call is superseded by the last")
	v, _ := remote.value("u1", "evt-1")
	require.True(t, v)
	require.Equal(t, 2, remote.attemptCount())
	require.Zero(t, svc.PendingCount())
	requireNoEventLocks(t, svc)
}

func requireNoEventLocks(t *testing.T, svc *Service) {
	t.Helper()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Empty(t, svc.locks)
	require.Empty(t, svc.seq)
}

func TestEventLocksAreReleased(t *testing.T) {
	remote := newFakeRemote()
	network := newOnline()
	svc, _ := newTestService(t, remote, network)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := svc.SetState(ctx, "u1", fmt.Sprintf("evt-%d", i), i%2 == 0)
		require.NoError(t, err)
	}
	requireNoEventLocks(t, svc)

	network.online.Store(false)
	_, err := svc.SetState(ctx, "u1", "evt-q", true)
	require.NoError(t, err)
	network.online.Store(true)
	_, err = svc.FlushPendingChanges(ctx, "u1")
	require.NoError(t, err)
	requireNoEventLocks(t, svc)

	// Sequencing still works once the bookkeeping was dropped.
	res, err := svc.SetState(ctx, "u1", "evt-1", true)
	require.NoError(t, err)
	require.False(t, res.Superseded)
	v, _ := remote.value("u1", "evt-1")
	require.True(t, v)
}

func TestQueuedChangeSyncsUnderItsOwnUser(t *testing.T) {
	remote := newFakeRemote()
	network := &fakeNetwork{}
	svc, local := newTestService(t, remote, network)
	ctx := context.Background()

	res, err := svc.SetState(ctx, "alice@example.com", "evt-9", true)
	require.NoError(t, err)
	require.True(t, res.Queued)

	p, err := local.GetPending("evt-9")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", p.UserID)

	network.online.Store(true)
	report, err := svc.FlushPendingChanges(ctx, "office")
	require.NoError(t, err)
	require.Equal(t, 1, report.Synced)

	v, ok := remote.value("alice@example.com", "evt-9")
	require.True(t, ok)
	require.True(t, v)
	_, ok = remote.value("office", "evt-9")
	require.False(t, ok, "the change belongs to the user who made it")
}

func TestEntryWithoutUserUsesPassUser(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())

	require.NoError(t, local.PutPending(model.PendingSyncEntry{EventID: "evt-1", DesiredState: true, EnqueuedAt: time.Now()}))

	_, err := svc.SyncPendingChanges(context.Background(), "office")
	require.NoError(t, err)
	v, ok := remote.value("office", "evt-1")
	require.True(t, ok)
	require.True(t, v)
}

func TestFailedSyncBacksOff(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	remote.setFail(true)
	_, err := svc.SetState(ctx, "u1", "evt-1", true)
	require.NoError(t, err)

	report, err := svc.SyncPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	p, err := local.GetPending("evt-1")
	require.NoError(t, err)
	require.Equal(t, 1, p.Attempts)
	require.Equal(t, now.Add(time.Minute), p.NextAttemptAt)

	// Not due yet.
	report, err = svc.SyncPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)

	// Flush ignores backoff.
	report, err = svc.FlushPendingChanges(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	p, _ = local.GetPending("evt-1")
	require.Equal(t, 2, p.Attempts)
	require.Equal(t, now.Add(2*time.Minute), p.NextAttemptAt)
}

func TestBackoffIsCapped(t *testing.T) {
	svc, _ := newTestService(t, newFakeRemote(), newOnline())

	require.Equal(t, time.Minute, svc.backoff(1))
	require.Equal(t, 4*time.Minute, svc.backoff(3))
	require.Equal(t, 30*time.Minute, svc.backoff(6))
	require.Equal(t, 30*time.Minute, svc.backoff(500))
}

func TestSyncPendingOffline(t *testing.T) {
	svc, _ := newTestService(t, newFakeRemote(), &fakeNetwork{})
	_, err := svc.SyncPendingChanges(context.Background(), "u1")

	var terr *TransientSyncError
	require.ErrorAs(t, err, &terr)
	require.ErrorIs(t, err, ErrOffline)
}

func TestSyncAllFromRemoteSkipsPending(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	require.NoError(t, remote.SetCompletion(ctx, "u1", "a", true))
	require.NoError(t, remote.SetCompletion(ctx, "u1", "b", true))
	require.NoError(t, local.SetCachedState("b", false))
	require.NoError(t, local.PutPending(model.PendingSyncEntry{EventID: "b", DesiredState: false, EnqueuedAt: time.Now()}))

	require.NoError(t, svc.SyncAllFromRemote(ctx, "u1"))

	a, _, _ := local.CachedState("a")
	require.True(t, a)
	b, _, _ := local.CachedState("b")
	require.False(t, b, "queued local change must survive the pull")
}

func TestSyncAllFromRemoteKeepsInFlightSetState(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	require.NoError(t, remote.SetCompletion(ctx, "u1", "evt-1", false))
	remote.entered = make(chan struct{})
	remote.release = make(chan struct{})
	entered, release := remote.entered, remote.release

	done := make(chan error, 1)
	go func() {
		_, err := svc.SetState(ctx, "u1", "evt-1", true)
		done <- err
	}()
	<-entered

	require.NoError(t, svc.SyncAllFromRemote(ctx, "u1"))
	v, _, err := local.CachedState("evt-1")
	require.NoError(t, err)
	require.True(t, v, "pull must not overwrite a write still in flight")

	close(release)
	require.NoError(t, <-done)
	rv, _ := remote.value("u1", "evt-1")
	require.True(t, rv)
}

func TestSyncAllFromRemoteKeepsSetStateDuringPull(t *testing.T) {
	remote := newFakeRemote()
	svc, local := newTestService(t, remote, newOnline())
	ctx := context.Background()

	require.NoError(t, remote.SetCompletion(ctx, "u1", "evt-1", false))
	require.NoError(t, remote.SetCompletion(ctx, "u1", "evt-2", true))
	remote.afterList = func() {
		_, err := svc.SetState(ctx, "u1", "evt-1", true)
		require.NoError(t, err)
	}

	require.NoError(t, svc.SyncAllFromRemote(ctx, "u1"))

	v, _, _ := local.CachedState("evt-1")
	require.True(t, v, "the snapshot predates the write")
	v, _, _ = local.CachedState("evt-2")
	require.True(t, v)

	svc.mu.Lock()
	require.Zero(t, svc.pulls)
	require.Nil(t, svc.dirty)
	svc.mu.Unlock()
}

func TestSyncAllFromRemoteFailureIsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail(true)
	svc, _ := newTestService(t, remote, newOnline())

	err := svc.SyncAllFromRemote(context.Background(), "u1")
	var terr *TransientSyncError
	require.ErrorAs(t, err, &terr)
	require.ErrorIs(t, err, errRemoteDown)
}
