package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dosewatch/meds-reminder/internal/database"
	"github.com/dosewatch/meds-reminder/internal/dosetime"
	"github.com/dosewatch/meds-reminder/internal/notification"
)

type fakeCompliance struct {
	mu        sync.Mutex
	pending   int
	forgotten int

	// forgottenFn, when set, overrides the static forgotten count.
	forgottenFn func(date time.Time, lastSlot dosetime.Slot) int
}

func (c *fakeCompliance) PendingCount(ctx context.Context, date time.Time, slot dosetime.Slot) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, nil
}

func (c *fakeCompliance) ForgottenCount(ctx context.Context, date time.Time, lastSlot dosetime.Slot) (int, error) {
	c.mu.Lock()
	fn := c.forgottenFn
	n := c.forgotten
	c.mu.Unlock()
	if fn != nil {
		return fn(date, lastSlot), nil
	}
	return n, nil
}

type fakeSupply struct {
	low []database.Drug
}

func (s *fakeSupply) DrugsBelowThreshold(ctx context.Context, minDays int) ([]database.Drug, error) {
	return s.low, nil
}

type fakePrefs struct {
	windows dosetime.Windows
}

func (p *fakePrefs) Windows(ctx context.Context) (dosetime.Windows, error) {
	return p.windows, nil
}

func (p *fakePrefs) MinSupplyDays(ctx context.Context) int {
	return 7
}

// recordSink records every Show and Cancel. Safe for the worker goroutine
// and the test to touch concurrently.
type recordSink struct {
	mu      sync.Mutex
	shown   []notification.Payload
	cancels int
}

func (s *recordSink) Show(ctx context.Context, p notification.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, p)
	return nil
}

func (s *recordSink) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *recordSink) payloads() []notification.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Payload(nil), s.shown...)
}

func (s *recordSink) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *recordSink) last(t *testing.T) notification.Payload {
	t.Helper()
	shown := s.payloads()
	if len(shown) == 0 {
		t.Fatal("nothing shown")
	}
	return shown[len(shown)-1]
}

// fakeAlarm captures the most recent wake request.
type fakeAlarm struct {
	at      time.Time
	wake    Wake
	fire    func(Wake)
	cancels int
}

func (a *fakeAlarm) ScheduleAt(at time.Time, w Wake, fire func(Wake)) {
	a.at = at
	a.wake = w
	a.fire = fire
}

func (a *fakeAlarm) Cancel() {
	a.cancels++
}

func defaultTestWindows() dosetime.Windows {
	return dosetime.NewWindows(
		dosetime.Window{Begin: 6 * time.Hour, End: 11 * time.Hour},
		dosetime.Window{Begin: 11 * time.Hour, End: 15 * time.Hour},
		dosetime.Window{Begin: 15 * time.Hour, End: 20 * time.Hour},
		dosetime.Window{Begin: 20 * time.Hour, End: 24 * time.Hour},
		15*time.Minute,
	)
}

type testEnv struct {
	compliance *fakeCompliance
	supply     *fakeSupply
	sink       *recordSink
	windows    dosetime.Windows

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(clock time.Time) *testEnv {
	return &testEnv{
		compliance: &fakeCompliance{},
		supply:     &fakeSupply{},
		sink:       &recordSink{},
		windows:    defaultTestWindows(),
		now:        clock,
	}
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) setClock(t time.Time) {
	e.mu.Lock()
	e.now = t
	e.mu.Unlock()
}

func (e *testEnv) deps() Deps {
	return Deps{
		Compliance:  e.compliance,
		Supply:      e.supply,
		Prefs:       &fakePrefs{windows: e.windows},
		Aggregator:  notification.NewAggregator(e.sink),
		CrashLogDir: os.TempDir(),
		Now:         e.clock,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

var testNoon = time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)

func TestAlarmLoopPendingArmsSnoozeTick(t *testing.T) {
	env := newTestEnv(testNoon)
	env.compliance.pending = 2
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := env.sink.last(t)
	if !strings.Contains(p.Body, "Лекарств к приёму: 2") {
		t.Errorf("Body = %q, want pending count", p.Body)
	}

	// Pending doses in the active slot: wake at the snooze tick, not the
	// slot end three hours away.
	want := testNoon.Add(15 * time.Minute)
	if !alarm.at.Equal(want) {
		t.Errorf("armed at %v, want %v", alarm.at, want)
	}
	if alarm.wake.IsEnd {
		t.Error("snooze tick must not be an end wake")
	}
}

func TestAlarmLoopNothingPendingArmsSlotEnd(t *testing.T) {
	env := newTestEnv(testNoon)
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Noon window ends at 15:00.
	want := testNoon.Add(3 * time.Hour)
	if !alarm.at.Equal(want) {
		t.Errorf("armed at %v, want %v", alarm.at, want)
	}
	if !alarm.wake.IsEnd || alarm.wake.Slot != dosetime.Noon {
		t.Errorf("wake = %+v, want end of noon", alarm.wake)
	}
}

func TestAlarmLoopIdleArmsNextBegin(t *testing.T) {
	early := time.Date(2026, 8, 28, 5, 0, 0, 0, time.Local)
	env := newTestEnv(early)
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if shown := env.sink.payloads(); len(shown) != 0 {
		t.Errorf("shown %d payloads before any dose time, want none", len(shown))
	}
	if env.sink.cancelCount() == 0 {
		t.Error("empty state must cancel the notification")
	}

	want := early.Add(time.Hour) // morning begins 06:00
	if !alarm.at.Equal(want) {
		t.Errorf("armed at %v, want %v", alarm.at, want)
	}
	if alarm.wake.IsEnd || alarm.wake.Slot != dosetime.Morning {
		t.Errorf("wake = %+v, want begin of morning", alarm.wake)
	}
}

func TestAlarmLoopWakeReevaluates(t *testing.T) {
	env := newTestEnv(testNoon)
	env.compliance.pending = 1
	env.supply.low = []database.Drug{{Name: "Аспирин"}}
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p := env.sink.last(t); !strings.Contains(p.Body, "к приёму: 1") {
		t.Fatalf("Body = %q, want pending count", p.Body)
	}

	// The dose gets taken, then the snooze tick fires.
	env.compliance.mu.Lock()
	env.compliance.pending = 0
	env.compliance.mu.Unlock()
	env.setClock(alarm.at)
	alarm.fire(alarm.wake)

	p := env.sink.last(t)
	if strings.Contains(p.Body, "к приёму") {
		t.Errorf("Body = %q, pending line must be gone", p.Body)
	}
	// No more pending doses: next wake is the slot end.
	want := time.Date(2026, 8, 28, 15, 0, 0, 0, time.Local)
	if !alarm.at.Equal(want) {
		t.Errorf("armed at %v, want %v", alarm.at, want)
	}
}

// The end of night fires at midnight, after the calendar has rolled over.
// The wake carries the ended slot's own date, so yesterday's missed doses
// stay on display until the morning wake clears them.
func TestAlarmLoopMidnightKeepsForgotten(t *testing.T) {
	lateNight := time.Date(2026, 8, 28, 23, 0, 0, 0, time.Local)
	env := newTestEnv(lateNight)
	env.compliance.forgotten = 1
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p := env.sink.last(t); !strings.Contains(p.Body, "Пропущено приёмов: 1") {
		t.Fatalf("Body = %q, want forgotten count", p.Body)
	}

	midnight := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)
	if !alarm.at.Equal(midnight) {
		t.Fatalf("armed at %v, want midnight", alarm.at)
	}
	if !alarm.wake.IsEnd || alarm.wake.Slot != dosetime.Night {
		t.Fatalf("wake = %+v, want end of night", alarm.wake)
	}
	if !alarm.wake.Date.Equal(dosetime.DateOf(lateNight)) {
		t.Fatalf("wake date = %v, must be the ended slot's own date", alarm.wake.Date)
	}

	cancelsBefore := env.sink.cancelCount()
	env.setClock(midnight)
	alarm.fire(alarm.wake)

	if env.sink.cancelCount() != cancelsBefore {
		t.Error("midnight wake must not cancel the forgotten notification")
	}
	if p := env.sink.last(t); !strings.Contains(p.Body, "Пропущено приёмов: 1") {
		t.Errorf("Body = %q, forgotten line must survive midnight", p.Body)
	}

	morning := time.Date(2026, 8, 29, 6, 0, 0, 0, time.Local)
	if !alarm.at.Equal(morning) {
		t.Fatalf("armed at %v, want morning begin", alarm.at)
	}

	// The morning wake finally clears yesterday's forgotten doses.
	env.setClock(morning)
	alarm.fire(alarm.wake)
	if env.sink.cancelCount() == cancelsBefore {
		t.Error("morning wake must clear the forgotten notification")
	}
}

func TestAlarmLoopRestartKeepsDedup(t *testing.T) {
	env := newTestEnv(testNoon)
	env.compliance.pending = 1
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	loop.Restart()

	shown := env.sink.payloads()
	if len(shown) != 2 {
		t.Fatalf("shown %d payloads, want 2", len(shown))
	}
	if shown[0].AlertOnce {
		t.Error("first payload must alert")
	}
	if !shown[1].AlertOnce {
		t.Error("restart with unchanged content must be AlertOnce")
	}
}

func TestAlarmLoopStop(t *testing.T) {
	env := newTestEnv(testNoon)
	env.compliance.pending = 1
	alarm := &fakeAlarm{}
	loop := NewAlarmLoop(env.deps(), alarm)

	if err := loop.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	loop.Stop()

	if alarm.cancels == 0 {
		t.Error("Stop must cancel the outstanding wake")
	}
	if env.sink.cancelCount() == 0 {
		t.Error("Stop must remove the displayed notification")
	}

	// A stale wake after Stop is ignored.
	shown := len(env.sink.payloads())
	alarm.fire(alarm.wake)
	if len(env.sink.payloads()) != shown {
		t.Error("wake after Stop must not render")
	}
}

func TestWorkerStartStop(t *testing.T) {
	// Before the first window: the loop goes straight to sleep and Stop
	// interrupts it.
	early := time.Date(2026, 8, 28, 5, 0, 0, 0, time.Local)
	env := newTestEnv(early)
	w := NewWorker(env.deps())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()

	if env.sink.cancelCount() == 0 {
		t.Error("Stop must remove the displayed notification")
	}
}

// One full worker cycle: pending reminder, two snooze repeats, then the
// slot end converts pending into forgotten. The noon window is shrunk to
// a fraction of a second so the loop runs in real time.
func TestWorkerSnoozeRepeatsUntilSlotEnd(t *testing.T) {
	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	env := newTestEnv(start)
	env.windows = dosetime.NewWindows(
		dosetime.Window{Begin: 6 * time.Hour, End: 11 * time.Hour},
		dosetime.Window{Begin: 11 * time.Hour, End: 12*time.Hour + 250*time.Millisecond},
		dosetime.Window{Begin: 13 * time.Hour, End: 20 * time.Hour},
		dosetime.Window{Begin: 20 * time.Hour, End: 24 * time.Hour},
		100*time.Millisecond,
	)
	env.compliance.pending = 1
	env.compliance.forgottenFn = func(date time.Time, lastSlot dosetime.Slot) int {
		if lastSlot < dosetime.Noon {
			return 0
		}
		// Noon is over: move the clock into the gap before evening so
		// the next iteration idles instead of re-entering the ended slot.
		env.setClock(start.Add(30 * time.Minute))
		return 2
	}

	w := NewWorker(env.deps())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, 5*time.Second, func() bool {
		for _, p := range env.sink.payloads() {
			if strings.Contains(p.Body, "Пропущено приёмов: 2") {
				return true
			}
		}
		return false
	})
	w.Stop()

	pendingShows := 0
	for _, p := range env.sink.payloads() {
		if strings.Contains(p.Body, "к приёму: 1") {
			pendingShows++
		}
	}
	// 250ms of slot with a 100ms snooze: the initial post plus two repeats.
	if pendingShows < 3 {
		t.Errorf("pending reminder shown %d times, want at least 3 (initial + snooze repeats)", pendingShows)
	}
}

// Zero snooze disables the repeat sub-loop: one pending post, then the
// slot runs out and the dose is reported forgotten.
func TestWorkerSnoozeZeroPostsOnce(t *testing.T) {
	start := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	env := newTestEnv(start)
	env.windows = dosetime.NewWindows(
		dosetime.Window{Begin: 6 * time.Hour, End: 11 * time.Hour},
		dosetime.Window{Begin: 11 * time.Hour, End: 12*time.Hour + 120*time.Millisecond},
		dosetime.Window{Begin: 13 * time.Hour, End: 20 * time.Hour},
		dosetime.Window{Begin: 20 * time.Hour, End: 24 * time.Hour},
		0,
	)
	env.compliance.pending = 1
	env.compliance.forgottenFn = func(date time.Time, lastSlot dosetime.Slot) int {
		if lastSlot < dosetime.Noon {
			return 0
		}
		env.setClock(start.Add(30 * time.Minute))
		return 1
	}

	w := NewWorker(env.deps())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, 5*time.Second, func() bool {
		for _, p := range env.sink.payloads() {
			if strings.Contains(p.Body, "Пропущено приёмов: 1") {
				return true
			}
		}
		return false
	})
	w.Stop()

	pendingShows := 0
	for _, p := range env.sink.payloads() {
		if strings.Contains(p.Body, "к приёму: 1") {
			pendingShows++
		}
	}
	if pendingShows != 1 {
		t.Errorf("pending reminder shown %d times, want exactly 1 with snooze disabled", pendingShows)
	}
}

// A restart holds the first pending reminder back instead of re-alerting
// the instant the data changes.
func TestWorkerRestartDelaysFirstPending(t *testing.T) {
	env := newTestEnv(testNoon)
	env.compliance.pending = 1
	deps := env.deps()
	deps.InitialDelay = 80 * time.Millisecond
	w := NewWorker(deps)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return len(env.sink.payloads()) >= 1
	})

	restartAt := time.Now()
	w.Restart()
	waitFor(t, 5*time.Second, func() bool {
		return len(env.sink.payloads()) >= 2
	})

	if elapsed := time.Since(restartAt); elapsed < 50*time.Millisecond {
		t.Errorf("restart re-posted after %v, want it held back by the initial delay", elapsed)
	}
	if p := env.sink.last(t); !strings.Contains(p.Body, "к приёму: 1") {
		t.Errorf("Body = %q, want the pending reminder after the delay", p.Body)
	}
}

func TestLastCompletedSlot(t *testing.T) {
	tests := []struct {
		active, next, want dosetime.Slot
	}{
		{dosetime.Noon, dosetime.Evening, dosetime.Morning},
		{dosetime.Morning, dosetime.Noon, dosetime.None},
		{dosetime.None, dosetime.Evening, dosetime.Noon},
		{dosetime.None, dosetime.Morning, dosetime.None},
	}
	for _, tt := range tests {
		if got := lastCompletedSlot(tt.active, tt.next); got != tt.want {
			t.Errorf("lastCompletedSlot(%v, %v) = %v, want %v", tt.active, tt.next, got, tt.want)
		}
	}
}

func TestWriteCrashRecord(t *testing.T) {
	dir := t.TempDir()
	writeCrashRecord(dir, errors.New("boom"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "crash-") || !strings.HasSuffix(name, ".log") {
		t.Errorf("file name = %q, want crash-<unix>.log", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "boom") {
		t.Errorf("record %q missing the cause", content)
	}
	if !strings.Contains(content, "Closing scheduler loop") {
		t.Errorf("record %q missing the closing line", content)
	}
}
