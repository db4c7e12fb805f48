// Package notification merges the engine's concerns (pending doses,
// forgotten doses, low supplies) into a single deduplicated notification
// payload and pushes it to a display sink.
package notification

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
)

// Concern is one of the three independent message slots.
type Concern int

const (
	ConcernPending Concern = iota
	ConcernForgotten
	ConcernLowSupply
)

// Payload is one rendered notification.
type Payload struct {
	Title string
	Body  string
	// Badge counts distinct concerns: the dose line counts once even when
	// it covers both pending and forgotten doses, low supply adds one.
	Badge int
	// AlertOnce means the content is semantically identical to what is
	// already displayed: the sink must update the text without re-firing
	// sound or vibration.
	AlertOnce bool
}

// Sink renders payloads. Show replaces whatever is displayed; Cancel
// removes it.
type Sink interface {
	Show(ctx context.Context, p Payload) error
	Cancel(ctx context.Context) error
}

const (
	title  = "Напоминание о приёме лекарств"
	bullet = "• "

	// Rendering-affecting constants folded into the dedup hash. They only
	// matter if the icon or alert defaults ever become configurable.
	iconID        = 1
	alertDefaults = 1

	// hashNone is the "nothing displayed" sentinel, so the first non-empty
	// payload after a cancel always re-alerts.
	hashNone uint64 = 0
)

// Aggregator keeps the three concern messages and the dedup hash behind
// one mutex. The scheduler loop and externally triggered restarts both go
// through here, so this is the single mutual-exclusion boundary required
// for the displayed state.
type Aggregator struct {
	mu       sync.Mutex
	sink     Sink
	messages [3]string
	lastHash uint64
}

func NewAggregator(sink Sink) *Aggregator {
	return &Aggregator{sink: sink}
}

// Enqueue stores a concern message without flushing to the sink. An empty
// text clears the concern.
func (a *Aggregator) Enqueue(concern Concern, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[concern] = text
}

// Post stores a concern message and flushes the combined payload.
func (a *Aggregator) Post(ctx context.Context, concern Concern, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[concern] = text
	return a.flushLocked(ctx)
}

// PostCount is Post for the counting concerns.
func (a *Aggregator) PostCount(ctx context.Context, concern Concern, count int) error {
	if count == 0 {
		return a.Post(ctx, concern, "")
	}
	return a.Post(ctx, concern, strconv.Itoa(count))
}

// Clear removes one concern and flushes.
func (a *Aggregator) Clear(ctx context.Context, concern Concern) error {
	return a.Post(ctx, concern, "")
}

// Flush re-renders the current state.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// ResetMessages drops all concern messages but keeps the dedup hash, so a
// loop restart caused by an unrelated data change doesn't re-fire the
// alert tone for unchanged content.
func (a *Aggregator) ResetMessages() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = [3]string{}
}

// CancelAll removes the displayed notification and resets the dedup hash.
func (a *Aggregator) CancelAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = [3]string{}
	a.lastHash = hashNone
	return a.sink.Cancel(ctx)
}

func (a *Aggregator) flushLocked(ctx context.Context) error {
	payload, ok := a.renderLocked()
	if !ok {
		a.lastHash = hashNone
		return a.sink.Cancel(ctx)
	}

	h := payloadHash(payload)
	if h == a.lastHash {
		payload.AlertOnce = true
	} else {
		a.lastHash = h
	}

	return a.sink.Show(ctx, payload)
}

// renderLocked composes at most two lines: the combined dose message and
// the low-supply summary. Bullets only appear when both lines are present.
func (a *Aggregator) renderLocked() (Payload, bool) {
	pending := a.messages[ConcernPending]
	forgotten := a.messages[ConcernForgotten]
	lowSupply := a.messages[ConcernLowSupply]

	var doseLine string
	switch {
	case pending != "" && forgotten != "":
		doseLine = fmt.Sprintf("Пропущено приёмов: %s, к приёму: %s", forgotten, pending)
	case pending != "":
		doseLine = fmt.Sprintf("Лекарств к приёму: %s", pending)
	case forgotten != "":
		doseLine = fmt.Sprintf("Пропущено приёмов: %s", forgotten)
	}

	if doseLine == "" && lowSupply == "" {
		return Payload{}, false
	}

	marker := ""
	if doseLine != "" && lowSupply != "" {
		marker = bullet
	}

	body := ""
	badge := 0
	if doseLine != "" {
		body = marker + doseLine
		badge++
	}
	if lowSupply != "" {
		if body != "" {
			body += "\n"
		}
		body += marker + lowSupply
		badge++
	}

	return Payload{Title: title, Body: body, Badge: badge}, true
}

// LowSupplyMessage formats the low-supply summary line: the first affected
// drug's name, plus a count of the others when several are affected.
func LowSupplyMessage(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("Заканчивается препарат: %s", names[0])
	default:
		return fmt.Sprintf("Заканчивается препарат: %s и ещё %d", names[0], len(names)-1)
	}
}

// payloadHash is a stable fingerprint over exactly the fields that affect
// rendering. Two payloads with equal hashes must look and sound the same.
func payloadHash(p Payload) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%s|%s|%d", iconID, alertDefaults, p.Title, p.Body, p.Badge)
	sum := h.Sum64()
	if sum == hashNone {
		sum = 1
	}
	return sum
}
