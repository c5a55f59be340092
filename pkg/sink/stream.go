package sink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

type EventKind int

const (
	EventLog EventKind = iota
	EventError
)

func (k EventKind) String() string {
	if k == EventError {
		return "error"
	}
	return "log"
}

type Event struct {
	Kind EventKind
	Doc  model.Document
	Err  error
}

type StreamOptions struct {
	// Start replays stored documents in insertion order, skipping the first
	// Start of them, before following new ones. Nil follows new documents only.
	Start      *int
	IncludeIDs bool
}

// Stream delivers log events until destroyed. Store errors are delivered as
// EventError and do not end the stream.
type Stream struct {
	events chan Event
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
	once   sync.Once
}

func newStream(lifetime, caller context.Context) *Stream {
	ctx, cancel := context.WithCancel(lifetime)
	st := &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	st.stop = context.AfterFunc(caller, cancel)
	return st
}

// Events is closed once the stream has stopped.
func (st *Stream) Events() <-chan Event { return st.events }

// Done is closed once the stream has stopped.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Destroy stops the stream. No event is emitted after Destroy returns to a
// receiver that checks Done, and in-flight store calls are cancelled.
func (st *Stream) Destroy() {
	st.once.Do(func() {
		st.stop()
		st.cancel()
	})
}

func (st *Stream) stopped() bool {
	return st.ctx.Err() != nil
}

func (st *Stream) emit(ev Event) bool {
	if st.stopped() {
		return false
	}
	select {
	case st.events <- ev:
		return true
	case <-st.ctx.Done():
		return false
	}
}

func (st *Stream) finish() {
	st.Destroy()
	close(st.events)
	close(st.done)
}

// Stream opens a live feed of documents. Before the store is ready the stream
// is buffered and returned immediately; events start once it is ready.
func (s *Sink) Stream(ctx context.Context, opts StreamOptions) *Stream {
	st := newStream(s.ctx, ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		st.finish()
		return st
	}
	if !s.ready {
		s.enqueue(opStream, func() { s.startStream(st, opts) }, st.finish)
		return st
	}
	s.startStream(st, opts)
	return st
}

// startStream must hold s.mu.
func (s *Sink) startStream(st *Stream, opts StreamOptions) {
	r := &streamReader{
		sink:     s,
		st:       st,
		coll:     s.coll,
		strategy: s.strategy,
		opts:     opts,
		interval: s.opts.PollInterval,
	}
	go r.run()
}

type streamReader struct {
	sink     *Sink
	st       *Stream
	coll     store.Collection
	strategy Strategy
	opts     StreamOptions
	interval time.Duration
	mark     watermark
}

func (r *streamReader) run() {
	defer r.st.finish()

	labels := []string{r.sink.opts.CollectionName, r.strategy.String()}
	metrics.ActiveStreams.WithLabelValues(labels...).Inc()
	defer metrics.ActiveStreams.WithLabelValues(labels...).Dec()

	r.mark.reset(time.Now().Add(-time.Second))
	if r.opts.Start != nil && *r.opts.Start >= 0 {
		if !r.replay(*r.opts.Start) {
			return
		}
	}

	if tailer, ok := r.coll.(store.Tailer); ok && r.strategy == StrategyTail {
		r.tail(tailer)
		return
	}
	r.poll()
}

func (r *streamReader) replay(start int) bool {
	docs, err := r.coll.Find(r.st.ctx, store.Filter{}, store.FindOptions{Skip: start})
	if err != nil {
		return r.st.stopped() || r.emitError(err)
	}
	for _, doc := range docs {
		r.mark.admit(doc)
		if !r.emitLog(doc) {
			return false
		}
	}
	return true
}

func (r *streamReader) tail(tailer store.Tailer) {
	for {
		err := tailer.Tail(r.st.ctx, r.mark.since, func(doc model.Document) error {
			if !r.mark.admit(doc) {
				return nil
			}
			if !r.emitLog(doc) {
				return errStreamStopped
			}
			return nil
		})
		if r.st.stopped() {
			return
		}
		if err != nil && !errors.Is(err, errStreamStopped) && !r.emitError(err) {
			return
		}
		if !r.wait() {
			return
		}
	}
}

func (r *streamReader) poll() {
	for {
		from := r.mark.since
		docs, err := r.coll.Find(r.st.ctx, store.Filter{From: &from}, store.FindOptions{Order: model.OrderAsc})
		if r.st.stopped() {
			return
		}
		if err != nil {
			if !r.emitError(err) {
				return
			}
		}
		for _, doc := range docs {
			if !r.mark.admit(doc) {
				continue
			}
			if !r.emitLog(doc) {
				return
			}
		}
		if !r.wait() {
			return
		}
	}
}

func (r *streamReader) wait() bool {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	select {
	case <-r.st.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *streamReader) emitLog(doc model.Document) bool {
	if !r.opts.IncludeIDs {
		doc.ID = ""
	}
	if !r.st.emit(Event{Kind: EventLog, Doc: doc}) {
		return false
	}
	metrics.StreamEvents.WithLabelValues(r.sink.opts.CollectionName, r.strategy.String(), EventLog.String()).Inc()
	return true
}

func (r *streamReader) emitError(err error) bool {
	if !r.st.emit(Event{Kind: EventError, Err: err}) {
		return false
	}
	metrics.StreamEvents.WithLabelValues(r.sink.opts.CollectionName, r.strategy.String(), EventError.String()).Inc()
	return true
}

// watermark tracks the newest timestamp emitted and the documents already
// emitted at exactly that instant, so re-reading from it never duplicates.
type watermark struct {
	since time.Time
	seen  map[string]struct{}
}

func (w *watermark) reset(since time.Time) {
	w.since = since
	w.seen = make(map[string]struct{})
}

// admit reports whether doc is new and advances the watermark past it.
func (w *watermark) admit(doc model.Document) bool {
	switch {
	case doc.Timestamp.Before(w.since):
		return false
	case doc.Timestamp.After(w.since):
		w.reset(doc.Timestamp)
	default:
		if _, ok := w.seen[doc.ID]; ok {
			return false
		}
	}
	w.seen[doc.ID] = struct{}{}
	return true
}
