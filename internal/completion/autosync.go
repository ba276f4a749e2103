package completion

import (
	"context"
	"sync"
	"time"

	"github.com/dukerupert/pratiche/internal/connectivity"
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// SetupAutoSync drains the outbox whenever signal reports an offline to online
// transition, and on every SyncInterval tick while online. user is resolved on
// every pass so a login or logout after startup is honored. The returned
// teardown stops both triggers and waits for the loop to exit; calling it more
// than once is safe.
func (s *Service) SetupAutoSync(ctx context.Context, user func() string, signal <-chan connectivity.Transition) func() {
	ctx, cancel := context.WithCancel(ctx)
	t := s.newTicker(s.cfg.SyncInterval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case tr, ok := <-signal:
				if !ok {
					signal = nil
					continue
				}
				if tr.Online && tr.Reconnected {
					userID := user()
					s.logger.Info("back online, flushing pending completions", "user_id", userID)
					s.runPass(ctx, "flush", userID, s.FlushPendingChanges)
				}
			case <-t.C():
				if ctx.Err() != nil {
					return
				}
				if s.network.Online() {
					s.runPass(ctx, "sync", user(), s.SyncPendingChanges)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// runPass runs one outbox pass for userID and logs its error. A pass cut short
// by teardown is not logged.
func (s *Service) runPass(ctx context.Context, op, userID string, pass func(context.Context, string) (SyncReport, error)) {
	if _, err := pass(ctx, userID); err != nil && ctx.Err() == nil {
		s.logger.Warn("auto sync failed", "op", op, "user_id", userID, "error", err)
	}
}
