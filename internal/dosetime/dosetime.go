// Package dosetime maps wall-clock time to dose-time windows.
//
// A dose-time is a user-definable subdivision of the day: morning, noon,
// evening or night. Each has a [begin, end) window given as an offset from
// local midnight. The resolver answers, for a caller-supplied instant,
// which window is active, which one begins next and how long until a
// window's begin or end boundary. All functions are pure: the caller
// supplies "now", nothing here reads the wall clock.
package dosetime

import (
	"fmt"
	"time"

	apperrors "github.com/dosewatch/meds-reminder/internal/errors"
)

// Slot identifies a dose-time.
type Slot int

const (
	// None means no dose-time window contains the queried instant.
	None Slot = -1

	Morning Slot = 0
	Noon    Slot = 1
	Evening Slot = 2
	Night   Slot = 3

	// WholeDay doses have no window of their own. The slot exists in drug
	// schedules but never takes part in active/next resolution, forgotten
	// counting or the daily supply rate.
	WholeDay Slot = 4
)

// TimedSlots lists the four window-bearing slots in canonical day order.
var TimedSlots = [4]Slot{Morning, Noon, Evening, Night}

func (s Slot) String() string {
	switch s {
	case Morning:
		return "morning"
	case Noon:
		return "noon"
	case Evening:
		return "evening"
	case Night:
		return "night"
	case WholeDay:
		return "whole_day"
	case None:
		return "none"
	}
	return fmt.Sprintf("slot(%d)", int(s))
}

// IsTimed reports whether s is one of the four window-bearing slots.
func (s Slot) IsTimed() bool {
	return s >= Morning && s <= Night
}

// Window is a [Begin, End) interval given as offsets from local midnight.
type Window struct {
	Begin time.Duration
	End   time.Duration
}

// Contains reports whether the offset-from-midnight falls inside the window.
func (w Window) Contains(offset time.Duration) bool {
	return offset >= w.Begin && offset < w.End
}

// Windows is the full dose-time table: one window per timed slot plus the
// snooze interval between repeated pending-dose reminders. A zero snooze
// disables repeated reminders.
type Windows struct {
	slots  [4]Window
	Snooze time.Duration
}

// NewWindows builds a table from the four windows in canonical slot order.
func NewWindows(morning, noon, evening, night Window, snooze time.Duration) Windows {
	return Windows{
		slots:  [4]Window{morning, noon, evening, night},
		Snooze: snooze,
	}
}

// Window returns the window of a timed slot.
func (w Windows) Window(slot Slot) Window {
	return w.slots[slot]
}

// Validate checks the table for malformed windows. Overlapping windows are
// rejected instead of being resolved by array order: an overlap would make
// the active slot ambiguous.
func (w Windows) Validate() error {
	for i, win := range w.slots {
		if win.Begin < 0 || win.Begin >= 24*time.Hour {
			return apperrors.NewConfigurationError(
				fmt.Sprintf("%s begin offset %v outside [0, 24h)", Slot(i), win.Begin))
		}
		if win.End <= 0 || win.End > 24*time.Hour {
			return apperrors.NewConfigurationError(
				fmt.Sprintf("%s end offset %v outside (0, 24h]", Slot(i), win.End))
		}
		if win.Begin >= win.End {
			return apperrors.NewConfigurationError(
				fmt.Sprintf("%s window begin %v is not before end %v", Slot(i), win.Begin, win.End))
		}
	}

	for i := 0; i < len(w.slots); i++ {
		for j := i + 1; j < len(w.slots); j++ {
			a, b := w.slots[i], w.slots[j]
			if a.Begin < b.End && b.Begin < a.End {
				return apperrors.NewConfigurationError(
					fmt.Sprintf("%s and %s windows overlap", Slot(i), Slot(j)))
			}
		}
	}

	if w.Snooze < 0 {
		return apperrors.NewConfigurationError("snooze interval is negative")
	}

	return nil
}

// ActiveSlot returns the slot whose window contains now, or None.
func (w Windows) ActiveSlot(now time.Time) Slot {
	offset := offsetFromMidnight(now)
	for _, slot := range TimedSlots {
		if w.slots[slot].Contains(offset) {
			return slot
		}
	}
	return None
}

// NextSlot returns the slot whose begin offset is the nearest strictly in
// the future; a slot beginning exactly now is already active, not next.
// When every begin has passed today, the search repeats against tomorrow's
// offset, which must yield a slot for any table that passes Validate. A
// table where it does not is malformed and reported as a configuration
// error rather than looping forever.
func (w Windows) NextSlot(now time.Time) (Slot, error) {
	offset := offsetFromMidnight(now)

	for _, off := range [2]time.Duration{offset, offset - 24*time.Hour} {
		next := None
		var smallest time.Duration
		for _, slot := range TimedSlots {
			diff := w.slots[slot].Begin - off
			if diff <= 0 {
				continue
			}
			if next == None || diff < smallest {
				next = slot
				smallest = diff
			}
		}
		if next != None {
			return next, nil
		}
	}

	return None, apperrors.NewConfigurationError("no dose time can ever begin with this window table")
}

// UntilBegin returns the wall-clock duration from now until the next
// occurrence of the slot's begin boundary. Never negative.
func (w Windows) UntilBegin(now time.Time, slot Slot) time.Duration {
	return w.untilBoundary(now, w.slots[slot].Begin)
}

// UntilEnd returns the wall-clock duration from now until the next
// occurrence of the slot's end boundary. Never negative.
func (w Windows) UntilEnd(now time.Time, slot Slot) time.Duration {
	return w.untilBoundary(now, w.slots[slot].End)
}

func (w Windows) untilBoundary(now time.Time, offset time.Duration) time.Duration {
	target := midnightOf(now).Add(offset)
	if target.Before(now) {
		// Boundary already passed today, take tomorrow's occurrence.
		target = midnightOf(now.AddDate(0, 0, 1)).Add(offset)
	}
	return target.Sub(now)
}

// DateOf truncates t to its calendar date at local midnight.
func DateOf(t time.Time) time.Time {
	return midnightOf(t)
}

func midnightOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func offsetFromMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
