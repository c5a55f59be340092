package sink

import (
	"time"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

// Log persists an entry. It reports whether the entry was accepted: true
// while pending, true for skipped entries, false only after Close. done is
// called with the insert result once the write completes.
func (s *Sink) Log(entry model.LogEntry, done func(error)) bool {
	if done == nil {
		done = func(error) {}
	}
	if !entry.Level.Enabled(s.minLevel) {
		done(nil)
		return true
	}
	if entry.SkipStore {
		metrics.WritesTotal.WithLabelValues(s.opts.CollectionName, "skipped").Inc()
		done(nil)
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.ready {
		s.enqueue(opLog,
			func() { s.dispatchWrite(entry, done) },
			func() { done(ErrClosed) },
		)
		return true
	}
	s.dispatchWrite(entry, done)
	return true
}

// dispatchWrite stamps the document and hands it to the drain loop. Must hold
// s.mu; the pending replay does.
func (s *Sink) dispatchWrite(entry model.LogEntry, done func(error)) {
	doc := s.buildDocument(entry, time.Now())
	coll := s.coll
	if !s.tasks.push(func() { s.insert(coll, doc, done) }) {
		go done(ErrClosed)
	}
}

func (s *Sink) insert(coll store.Collection, doc model.Document, done func(error)) {
	if err := coll.InsertOne(s.ctx, &doc); err != nil {
		metrics.WritesTotal.WithLabelValues(s.opts.CollectionName, "error").Inc()
		s.log.Error("failed to insert log document",
			zap.String("collection", s.opts.CollectionName),
			zap.String("context", doc.Context),
			zap.String("logblock", doc.Logblock),
			zap.Error(err),
		)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		done(err)
		return
	}
	metrics.WritesTotal.WithLabelValues(s.opts.CollectionName, "logged").Inc()
	if s.opts.OnLogged != nil {
		s.opts.OnLogged(doc)
	}
	done(nil)
}
