package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store/memory"
)

func TestStreamTailsCappedCollection(t *testing.T) {
	s := newTestSink(t, Options{Store: Handle(memory.New()), Capped: true, CappedMax: 100})
	waitReady(t, s)
	if s.Strategy() != StrategyTail {
		t.Fatalf("expected tail strategy, got %s", s.Strategy())
	}

	st := s.Stream(context.Background(), StreamOptions{})
	defer st.Destroy()

	if err := logSync(t, s, entry(model.LevelInfo, "lb", "live")); err != nil {
		t.Fatalf("log: %v", err)
	}
	ev := nextEvent(t, st)
	if ev.Kind != EventLog || ev.Doc.Content != "live" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Doc.ID != "" {
		t.Fatalf("expected the id to be stripped, got %q", ev.Doc.ID)
	}
}

func TestStreamPollsUncappedCollection(t *testing.T) {
	s := newTestSink(t, Options{Store: Handle(memory.New()), PollInterval: 10 * time.Millisecond})
	waitReady(t, s)
	if s.Strategy() != StrategyPoll {
		t.Fatalf("expected poll strategy, got %s", s.Strategy())
	}

	st := s.Stream(context.Background(), StreamOptions{IncludeIDs: true})
	defer st.Destroy()

	if err := logSync(t, s, entry(model.LevelInfo, "lb", "polled")); err != nil {
		t.Fatalf("log: %v", err)
	}
	ev := nextEvent(t, st)
	if ev.Kind != EventLog || ev.Doc.Content != "polled" || ev.Doc.ID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// later polls must not emit the same document again
	if err := logSync(t, s, entry(model.LevelInfo, "lb", "second")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if ev := nextEvent(t, st); ev.Doc.Content != "second" {
		t.Fatalf("expected the second document, got %+v", ev)
	}
}

func TestStreamReplaysFromStart(t *testing.T) {
	s := newTestSink(t, Options{Store: Handle(memory.New()), PollInterval: 10 * time.Millisecond})
	waitReady(t, s)
	for _, msg := range []string{"zero", "one", "two"} {
		if err := logSync(t, s, entry(model.LevelInfo, "lb", msg)); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	start := 1
	st := s.Stream(context.Background(), StreamOptions{Start: &start})
	defer st.Destroy()

	for _, want := range []string{"one", "two"} {
		if ev := nextEvent(t, st); ev.Doc.Content != want {
			t.Fatalf("expected replayed %q, got %+v", want, ev)
		}
	}
	if err := logSync(t, s, entry(model.LevelInfo, "lb", "three")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if ev := nextEvent(t, st); ev.Doc.Content != "three" {
		t.Fatalf("expected the live document after replay, got %+v", ev)
	}
}

func TestStreamOpenedBeforeReady(t *testing.T) {
	resolve := make(chan Resolution, 1)
	s := newTestSink(t, Options{Store: Pending(resolve), PollInterval: 10 * time.Millisecond})

	st := s.Stream(context.Background(), StreamOptions{})
	defer st.Destroy()

	resolve <- Resolution{DB: memory.New()}
	waitReady(t, s)
	if err := logSync(t, s, entry(model.LevelInfo, "lb", "after ready")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if ev := nextEvent(t, st); ev.Doc.Content != "after ready" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestStreamReportsErrorsAndKeepsRunning(t *testing.T) {
	db := memory.New()
	s := newTestSink(t, Options{Store: Handle(db), PollInterval: 10 * time.Millisecond})
	waitReady(t, s)

	boom := errors.New("cursor killed")
	db.FailOn(memory.OpFind, boom)
	st := s.Stream(context.Background(), StreamOptions{})
	defer st.Destroy()

	ev := nextEvent(t, st)
	if ev.Kind != EventError || !errors.Is(ev.Err, boom) {
		t.Fatalf("expected an error event, got %+v", ev)
	}

	db.FailOn(memory.OpFind, nil)
	if err := logSync(t, s, entry(model.LevelInfo, "lb", "recovered")); err != nil {
		t.Fatalf("log: %v", err)
	}
	for {
		ev := nextEvent(t, st)
		if ev.Kind == EventLog {
			if ev.Doc.Content != "recovered" {
				t.Fatalf("unexpected document %+v", ev.Doc)
			}
			return
		}
	}
}

func TestStreamDestroyClosesEvents(t *testing.T) {
	s := newTestSink(t, Options{Store: Handle(memory.New()), PollInterval: 10 * time.Millisecond})
	waitReady(t, s)

	st := s.Stream(context.Background(), StreamOptions{})
	st.Destroy()
	st.Destroy()

	select {
	case <-st.Done():
	case <-time.After(testTimeout):
		t.Fatal("stream did not stop")
	}
	for range st.Events() {
		t.Fatal("no event expected after destroy")
	}
}

func TestStreamStopsWithCallerContext(t *testing.T) {
	s := newTestSink(t, Options{Store: Handle(memory.New()), Capped: true})
	waitReady(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	st := s.Stream(ctx, StreamOptions{})
	cancel()
	select {
	case <-st.Done():
	case <-time.After(testTimeout):
		t.Fatal("stream ignored its context")
	}
}

func TestWatermarkAdmitsEachDocumentOnce(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var w watermark
	w.reset(base)

	docs := []model.Document{
		{ID: "a", Timestamp: base.Add(-time.Millisecond)},
		{ID: "b", Timestamp: base},
		{ID: "c", Timestamp: base},
		{ID: "b", Timestamp: base},
		{ID: "d", Timestamp: base.Add(time.Millisecond)},
		{ID: "c", Timestamp: base},
	}
	want := []bool{false, true, true, false, true, false}
	for i, doc := range docs {
		if got := w.admit(doc); got != want[i] {
			t.Fatalf("doc %d (%s): expected admit=%v", i, doc.ID, want[i])
		}
	}
	if !w.since.Equal(base.Add(time.Millisecond)) {
		t.Fatalf("watermark did not advance: %v", w.since)
	}
}
