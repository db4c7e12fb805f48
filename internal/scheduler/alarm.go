package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dosewatch/meds-reminder/internal/dosetime"
	"github.com/dosewatch/meds-reminder/internal/logger"
	"github.com/dosewatch/meds-reminder/internal/notification"
)

// Wake is the payload carried through an alarm: the slot the wake is
// about and the date that slot belongs to. IsEnd marks the end boundary
// of Slot. The date matters on end wakes: the end of night fires at
// midnight, when the calendar has already rolled to the next day.
type Wake struct {
	Date  time.Time
	Slot  dosetime.Slot
	IsEnd bool
}

// Alarm is the one-shot timer facility the event-driven loop programs
// itself with. At most one wake is outstanding: ScheduleAt replaces any
// previous request. The payload is handed back to fire untouched.
type Alarm interface {
	ScheduleAt(at time.Time, w Wake, fire func(Wake))
	Cancel()
}

// TimerAlarm is the in-process Alarm backed by time.AfterFunc.
type TimerAlarm struct {
	mu    sync.Mutex
	timer *time.Timer
}

func NewTimerAlarm() *TimerAlarm {
	return &TimerAlarm{}
}

func (a *TimerAlarm) ScheduleAt(at time.Time, w Wake, fire func(Wake)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(time.Until(at), func() { fire(w) })
}

func (a *TimerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// AlarmLoop is the event-driven strategy: each wake is a discrete
// transition that re-reads the data, renders one combined payload and
// programs the next wake (snooze tick, slot end or next slot begin).
// Nothing blocks between wakes.
type AlarmLoop struct {
	deps  Deps
	alarm Alarm

	mu      sync.Mutex
	ctx     context.Context
	running bool
}

func NewAlarmLoop(deps Deps, alarm Alarm) *AlarmLoop {
	return &AlarmLoop{deps: deps, alarm: alarm}
}

// Start evaluates the current state once and arms the first wake.
func (l *AlarmLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx = ctx
	l.running = true
	l.deps.Aggregator.ResetMessages()
	return l.stepLocked(nil)
}

// Restart re-evaluates immediately, replacing the outstanding wake. The
// dedup hash is preserved.
func (l *AlarmLoop) Restart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	logger.Debug("Rescheduling alarm loop")
	if err := l.stepLocked(nil); err != nil {
		l.dieLocked(err)
	}
}

// Stop cancels the outstanding wake and removes the notification.
func (l *AlarmLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alarm.Cancel()
	l.running = false
	if err := l.deps.Aggregator.CancelAll(context.Background()); err != nil {
		logger.Warn("Failed to cancel notifications on stop", "error", err)
	}
}

func (l *AlarmLoop) onWake(w Wake) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running || l.ctx.Err() != nil {
		return
	}
	if err := l.stepLocked(&w); err != nil {
		l.dieLocked(err)
	}
}

// dieLocked is the STOPPED-with-diagnostic path.
func (l *AlarmLoop) dieLocked(err error) {
	logger.Error("Alarm loop died", "error", err)
	writeCrashRecord(l.deps.CrashLogDir, err)
	l.alarm.Cancel()
	l.running = false
}

// stepLocked runs one discrete transition: evaluate, render, re-arm.
// w is the wake that triggered the step, nil on start and restart.
func (l *AlarmLoop) stepLocked(w *Wake) error {
	ctx := l.ctx
	deps := &l.deps

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

	pending := 0
	if active != dosetime.None {
		pending, err = deps.Compliance.PendingCount(ctx, date, active)
		if err != nil {
			return err
		}
	}
	deps.Aggregator.Enqueue(notification.ConcernPending, countText(pending))

	// Forgotten doses. An end wake evaluates the slot that just ended
	// against the date it was armed with: the end of night fires at
	// midnight, when recomputing from the clock alone would look at the
	// fresh day and lose yesterday's missed doses. Outside an end wake
	// the last completed slot of the current date is evaluated; with no
	// slot completed yet the displayed line is left untouched until the
	// morning wake clears it.
	switch {
	case w != nil && w.IsEnd && w.Slot.IsTimed():
		forgotten, err := deps.Compliance.ForgottenCount(ctx, w.Date, w.Slot)
		if err != nil {
			return err
		}
		deps.Aggregator.Enqueue(notification.ConcernForgotten, countText(forgotten))
	case last >= dosetime.Morning:
		forgotten, err := deps.Compliance.ForgottenCount(ctx, date, last)
		if err != nil {
			return err
		}
		deps.Aggregator.Enqueue(notification.ConcernForgotten, countText(forgotten))
	case active == dosetime.Morning:
		// First slot of the day: yesterday's forgotten doses are no
		// longer actionable.
		deps.Aggregator.Enqueue(notification.ConcernForgotten, "")
	}

	logger.Debug("Alarm step", "active", active, "next", next, "pending", pending)

	// One combined render per wake.
	if err := checkSupplies(ctx, deps, true); err != nil {
		return err
	}
	if err := deps.Aggregator.Flush(ctx); err != nil {
		logger.Warn("Failed to flush notification", "error", err)
	}

	l.armLocked(now, windows, active, next, pending)
	return nil
}

// armLocked programs the next wake: the snooze tick while pending doses
// remain in the active slot, otherwise the slot's end, otherwise the next
// slot's begin.
func (l *AlarmLoop) armLocked(now time.Time, windows dosetime.Windows, active, next dosetime.Slot, pending int) {
	var until time.Duration
	var w Wake

	if active != dosetime.None {
		until = windows.UntilEnd(now, active)
		w = Wake{Date: dosetime.DateOf(now), Slot: active, IsEnd: true}
		if snooze := windows.Snooze; snooze > 0 && pending > 0 && until > snooze {
			until = snooze
			w.IsEnd = false
		}
	} else {
		until = windows.UntilBegin(now, next)
		w = Wake{Date: dosetime.DateOf(now.Add(until)), Slot: next}
	}

	at := now.Add(until)
	logger.Debug("Arming next wake", "at", at.Format(time.RFC3339), "slot", w.Slot, "end", w.IsEnd)
	l.alarm.ScheduleAt(at, w, l.onWake)
}

func countText(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
