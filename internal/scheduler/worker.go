package scheduler

import (
	"context"
	"sync"

	"github.com/dosewatch/meds-reminder/internal/dosetime"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"github.com/dosewatch/meds-reminder/internal/notification"
)

// Worker is the blocking-loop strategy: one goroutine that evaluates the
// current dose-time state, posts notifications and sleeps until the next
// transition (slot begin, snooze tick or slot end).
//
// Restart interrupts whatever sleep is in progress and re-enters the loop
// from the top. The previous goroutine is always joined before a new one
// launches, so there is at most one loop instance at any time.
type Worker struct {
	deps Deps

	mu     sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(deps Deps) *Worker {
	return &Worker{deps: deps}
}

// Start launches the loop. The context bounds the whole worker lifetime.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.parent = ctx
	w.relaunchLocked(false)
	return nil
}

// Restart cancels the running loop and launches a fresh one. The dedup
// hash survives, so an unrelated data change doesn't re-fire the alert
// tone for unchanged content.
func (w *Worker) Restart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.parent == nil {
		return // never started
	}
	logger.Debug("Restarting scheduler worker")
	w.relaunchLocked(true)
}

// Stop shuts the loop down and removes the displayed notification.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.haltLocked()
	w.parent = nil
	if err := w.deps.Aggregator.CancelAll(context.Background()); err != nil {
		logger.Warn("Failed to cancel notifications on stop", "error", err)
	}
}

// haltLocked cancels the current loop goroutine and waits for it to exit.
// The loop never takes w.mu, so joining under the lock cannot deadlock.
func (w *Worker) haltLocked() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
		w.cancel = nil
		w.done = nil
	}
}

func (w *Worker) relaunchLocked(delayFirst bool) {
	w.haltLocked()

	ctx, cancel := context.WithCancel(w.parent)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		if err := w.run(ctx, delayFirst); err != nil {
			logger.Error("Scheduler worker died", "error", err)
			writeCrashRecord(w.deps.CrashLogDir, err)
		}
	}()
}

// run is one loop instance. A nil return means the loop was cancelled; an
// error return is the STOPPED-with-diagnostic path. delayFirst holds back
// the first pending reminder, see Deps.InitialDelay.
func (w *Worker) run(ctx context.Context, delayFirst bool) error {
	deps := &w.deps

	// Fresh loop: drop stale concern messages (the dedup hash is kept)
	// and prime the low-supply concern so the first render includes it.
	deps.Aggregator.ResetMessages()
	if err := checkSupplies(ctx, deps, true); err != nil {
		return err
	}

	for ctx.Err() == nil {
		now := deps.now()
		date := dosetime.DateOf(now)

		windows, err := deps.Prefs.Windows(ctx)
		if err != nil {
			return err
		}

		active := windows.ActiveSlot(now)
		next, err := windows.NextSlot(now)
		if err != nil {
			return err
		}
		last := lastCompletedSlot(active, next)

		logger.Debug("Dose time state", "active", active, "next", next, "last", last)

		if last >= dosetime.Morning {
			if err := checkForgotten(ctx, deps, date, last); err != nil {
				return err
			}
		}

		if active == dosetime.None {
			sleepTime := windows.UntilBegin(now, next)
			logger.Debug("Sleeping until next dose time", "slot", next, "duration", sleepTime)
			if !sleepCtx(ctx, sleepTime) {
				return nil
			}
			continue
		}

		if active == dosetime.Morning {
			// First slot of the day: yesterday's forgotten doses are no
			// longer actionable, and supplies get their daily check.
			if err := deps.Aggregator.Clear(ctx, notification.ConcernForgotten); err != nil {
				logger.Warn("Failed to clear forgotten notification", "error", err)
			}
			if err := checkSupplies(ctx, deps, false); err != nil {
				return err
			}
		}

		remaining := windows.UntilEnd(now, active)

		pending, err := deps.Compliance.PendingCount(ctx, date, active)
		if err != nil {
			return err
		}
		logger.Debug("Pending intakes", "slot", active, "count", pending)

		if pending != 0 {
			// Data edits restart the loop; hold the first reminder back
			// so rapid consecutive edits don't re-alert on each one.
			if delayFirst {
				delayFirst = false
				if !sleepCtx(ctx, deps.initialDelay()) {
					return nil
				}
			}
			if err := deps.Aggregator.PostCount(ctx, notification.ConcernPending, pending); err != nil {
				logger.Warn("Failed to post pending notification", "error", err)
			}

			// Snooze sub-loop: repeat the reminder every interval while
			// more than one interval of the slot remains. An intake
			// recorded meanwhile restarts the loop anyway.
			if snooze := windows.Snooze; snooze > 0 {
				for remaining > snooze {
					if !sleepCtx(ctx, snooze) {
						return nil
					}
					remaining -= snooze
					if err := deps.Aggregator.PostCount(ctx, notification.ConcernPending, pending); err != nil {
						logger.Warn("Failed to post pending notification", "error", err)
					}
				}
			}
		}

		if remaining > 0 {
			logger.Debug("Sleeping until end of dose time", "slot", active, "duration", remaining)
			if !sleepCtx(ctx, remaining) {
				return nil
			}
		}

		// Slot ended: pending doses become forgotten.
		if err := deps.Aggregator.Clear(ctx, notification.ConcernPending); err != nil {
			logger.Warn("Failed to clear pending notification", "error", err)
		}
		if err := checkForgotten(ctx, deps, date, active); err != nil {
			return err
		}
	}

	return nil
}
