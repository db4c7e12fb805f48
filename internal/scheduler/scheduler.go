// Package scheduler drives the reminder engine forward in time.
//
// Two strategies implement the same domain.Scheduler port: Worker runs a
// dedicated goroutine that sleeps between state transitions, AlarmLoop
// re-arms a one-shot timer and never blocks. Both observe the same data
// and reach the same displayed notifications.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dosewatch/meds-reminder/internal/domain"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"github.com/dosewatch/meds-reminder/internal/notification"
)

// Deps are the collaborators both loop strategies work against.
type Deps struct {
	Compliance domain.ComplianceEvaluator
	Supply     domain.SupplyMonitor
	Prefs      domain.PreferenceSource
	Aggregator *notification.Aggregator

	// CrashLogDir receives a diagnostic record when a loop dies.
	CrashLogDir string

	// InitialDelay holds back the first pending reminder after a restart,
	// so a user editing data is not re-alerted on every change. Zero
	// means the default.
	InitialDelay time.Duration

	// Now defaults to time.Now; tests inject a fixed clock.
	Now func() time.Time
}

const defaultInitialDelay = 10 * time.Second

func (d *Deps) initialDelay() time.Duration {
	if d.InitialDelay > 0 {
		return d.InitialDelay
	}
	return defaultInitialDelay
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// checkSupplies evaluates the low-supply concern. With enqueueOnly the
// message is stored but not flushed to the sink, which is what the loop
// start does so the first render combines it with the dose state.
func checkSupplies(ctx context.Context, deps *Deps, enqueueOnly bool) error {
	minDays := deps.Prefs.MinSupplyDays(ctx)
	low, err := deps.Supply.DrugsBelowThreshold(ctx, minDays)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(low))
	for i := range low {
		names = append(names, low[i].Name)
	}
	msg := notification.LowSupplyMessage(names)

	if enqueueOnly {
		deps.Aggregator.Enqueue(notification.ConcernLowSupply, msg)
		return nil
	}
	if err := deps.Aggregator.Post(ctx, notification.ConcernLowSupply, msg); err != nil {
		logger.Warn("Failed to post low-supply notification", "error", err)
	}
	return nil
}

// checkForgotten evaluates the forgotten-doses concern for the slots up
// to and including lastSlot.
func checkForgotten(ctx context.Context, deps *Deps, date time.Time, lastSlot dosetime.Slot) error {
	count, err := deps.Compliance.ForgottenCount(ctx, date, lastSlot)
	if err != nil {
		return err
	}
	logger.Debug("Forgotten intakes", "date", date.Format("2006-01-02"), "count", count)
	if err := deps.Aggregator.PostCount(ctx, notification.ConcernForgotten, count); err != nil {
		logger.Warn("Failed to post forgotten notification", "error", err)
	}
	return nil
}

// lastCompletedSlot is the most recent slot whose end boundary passed:
// the one before the active slot, or before the next slot when idle.
func lastCompletedSlot(active, next dosetime.Slot) dosetime.Slot {
	if active != dosetime.None {
		return active - 1
	}
	return next - 1
}

// sleepCtx blocks for d or until the context is cancelled. Returns false
// on cancellation. Non-positive durations return immediately.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// writeCrashRecord persists a best-effort diagnostic so a dead loop never
// vanishes without a trace.
func writeCrashRecord(dir string, cause error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("Failed to create crash log directory", "error", err)
		return
	}

	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", now.Unix()))
	msg := fmt.Sprintf("Time: %s\n\n%v\n\nClosing scheduler loop...\n", now.Format(time.RFC3339), cause)

	if err := os.WriteFile(path, []byte(msg), 0644); err != nil {
		logger.Error("Failed to write crash log", "path", path, "error", err)
	}
}
