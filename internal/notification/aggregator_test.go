package notification

import (
	"context"
	"testing"
)

// fakeSink records every Show and Cancel call.
type fakeSink struct {
	shown   []Payload
	cancels int
}

func (s *fakeSink) Show(ctx context.Context, p Payload) error {
	s.shown = append(s.shown, p)
	return nil
}

func (s *fakeSink) Cancel(ctx context.Context) error {
	s.cancels++
	return nil
}

func (s *fakeSink) last(t *testing.T) Payload {
	t.Helper()
	if len(s.shown) == 0 {
		t.Fatal("nothing shown")
	}
	return s.shown[len(s.shown)-1]
}

func TestFlushEmptyCancels(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(sink.shown) != 0 {
		t.Errorf("shown %d payloads, want none", len(sink.shown))
	}
	if sink.cancels != 1 {
		t.Errorf("cancels = %d, want 1", sink.cancels)
	}
}

func TestSingleConcernRender(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	if err := a.PostCount(ctx, ConcernPending, 2); err != nil {
		t.Fatalf("PostCount: %v", err)
	}

	p := sink.last(t)
	if p.Body != "Лекарств к приёму: 2" {
		t.Errorf("Body = %q", p.Body)
	}
	if p.Badge != 1 {
		t.Errorf("Badge = %d, want 1", p.Badge)
	}
	if p.AlertOnce {
		t.Error("first render must not be AlertOnce")
	}
}

func TestCombinedDoseLine(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	a.Enqueue(ConcernForgotten, "1")
	if err := a.PostCount(ctx, ConcernPending, 2); err != nil {
		t.Fatalf("PostCount: %v", err)
	}

	p := sink.last(t)
	if p.Body != "Пропущено приёмов: 1, к приёму: 2" {
		t.Errorf("Body = %q", p.Body)
	}
	if p.Badge != 1 {
		t.Errorf("Badge = %d, want 1 (dose line is one concern)", p.Badge)
	}
}

func TestBulletsOnlyWithBothLines(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	a.Enqueue(ConcernPending, "1")
	if err := a.Post(ctx, ConcernLowSupply, LowSupplyMessage([]string{"Аспирин"})); err != nil {
		t.Fatalf("Post: %v", err)
	}

	p := sink.last(t)
	want := "• Лекарств к приёму: 1\n• Заканчивается препарат: Аспирин"
	if p.Body != want {
		t.Errorf("Body = %q, want %q", p.Body, want)
	}
	if p.Badge != 2 {
		t.Errorf("Badge = %d, want 2", p.Badge)
	}
}

func TestIdenticalContentAlertsOnce(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}

	if len(sink.shown) != 2 {
		t.Fatalf("shown %d payloads, want 2", len(sink.shown))
	}
	if sink.shown[0].AlertOnce {
		t.Error("first payload must alert")
	}
	if !sink.shown[1].AlertOnce {
		t.Error("identical second payload must be AlertOnce")
	}

	// Changed content alerts again.
	if err := a.PostCount(ctx, ConcernPending, 2); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if sink.last(t).AlertOnce {
		t.Error("changed payload must not be AlertOnce")
	}
}

func TestResetMessagesKeepsDedupHash(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}

	// A loop restart drops the messages but not the hash, so re-posting
	// the same state does not re-fire the alert tone.
	a.ResetMessages()
	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if !sink.last(t).AlertOnce {
		t.Error("unchanged content after restart must be AlertOnce")
	}
}

func TestCancelAllResetsDedupHash(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if err := a.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if sink.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", sink.cancels)
	}

	if err := a.PostCount(ctx, ConcernPending, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if sink.last(t).AlertOnce {
		t.Error("content shown after a cancel must alert again")
	}
}

func TestClearLastConcernCancels(t *testing.T) {
	sink := &fakeSink{}
	a := NewAggregator(sink)
	ctx := context.Background()

	if err := a.PostCount(ctx, ConcernForgotten, 1); err != nil {
		t.Fatalf("PostCount: %v", err)
	}
	if err := a.Clear(ctx, ConcernForgotten); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if sink.cancels != 1 {
		t.Errorf("cancels = %d, want 1 after last concern cleared", sink.cancels)
	}
}

func TestLowSupplyMessage(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"Аспирин"}, "Заканчивается препарат: Аспирин"},
		{[]string{"Аспирин", "Ибупрофен", "Парацетамол"}, "Заканчивается препарат: Аспирин и ещё 2"},
	}
	for _, tt := range tests {
		if got := LowSupplyMessage(tt.names); got != tt.want {
			t.Errorf("LowSupplyMessage(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
