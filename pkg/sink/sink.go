// Package sink persists log entries into a document store and serves them
// back through historical queries and live streams. Calls made before the
// store connection is ready are buffered and replayed in order.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

type Sink struct {
	opts     Options
	log      *zap.Logger
	minLevel model.Level
	hostname string

	ctx     context.Context
	cancel  context.CancelFunc
	tasks   *taskQueue
	drained chan struct{}
	wg      sync.WaitGroup
	readyc  chan struct{}

	mu       sync.Mutex
	ready    bool
	closed   bool
	db       store.Database
	coll     store.Collection
	strategy Strategy
	pending  []operation
}

func New(opts Options) (*Sink, error) {
	if !opts.Store.valid() {
		return nil, ErrNoStore
	}
	opts = opts.withDefaults()

	minLevel := model.LowestLevel
	if opts.MinLevel != "" {
		level, err := model.ParseLevel(opts.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("sink: min level: %w", err)
		}
		minLevel = level
	}

	s := &Sink{
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "sink"), zap.String("collection", opts.CollectionName)),
		minLevel: minLevel,
		drained:  make(chan struct{}),
		readyc:   make(chan struct{}),
	}
	if opts.StoreHost {
		host, err := os.Hostname()
		if err != nil {
			s.log.Warn("hostname unavailable", zap.Error(err))
		}
		s.hostname = host
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.tasks = newTaskQueue(func(n int) {
		metrics.WriteQueueDepth.WithLabelValues(opts.CollectionName).Set(float64(n))
	})

	go func() {
		defer close(s.drained)
		s.tasks.drain()
	}()
	s.wg.Add(1)
	go s.connect()
	return s, nil
}

// becomeReady reconciles the schema, replays buffered operations in order and
// marks the sink ready.
func (s *Sink) becomeReady(db store.Database) {
	strategy, err := Reconcile(s.ctx, db, s.opts.CollectionName, s.opts.retention())
	if err != nil {
		s.log.Error("schema reconciliation failed", zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if err := db.Close(context.Background()); err != nil {
			s.log.Warn("closing store after shutdown", zap.Error(err))
		}
		return
	}
	s.db = db
	s.coll = db.Collection(s.opts.CollectionName)
	s.strategy = strategy

	ops := s.pending
	s.pending = nil
	for _, op := range ops {
		op.run()
	}
	metrics.PendingOperations.WithLabelValues(s.opts.CollectionName).Set(0)
	s.ready = true
	close(s.readyc)
	s.log.Info("store ready",
		zap.String("strategy", strategy.String()),
		zap.Int("replayed", len(ops)),
	)
}

// Ready is closed once the store connection is usable.
func (s *Sink) Ready() <-chan struct{} { return s.readyc }

// Strategy reports how streams follow new documents. It is only meaningful
// once Ready is closed.
func (s *Sink) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Pending reports how many operations are waiting for the store.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sink) Name() string { return "store" }

func (s *Sink) MinLevel() model.Level { return s.minLevel }

func (s *Sink) Enabled(level model.Level) bool { return level.Enabled(s.minLevel) }

// Close stops accepting operations, waits for accepted writes to finish and
// releases the store. Buffered operations that never ran are dropped: their
// writes report ErrClosed, queries return ErrClosed and streams end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.pending
	s.pending = nil
	db := s.db
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.log.Warn("dropping operations buffered before the store was ready", zap.Int("operations", len(dropped)))
		metrics.PendingOperations.WithLabelValues(s.opts.CollectionName).Set(0)
		for _, op := range dropped {
			op.cancel()
		}
	}

	s.tasks.close()
	select {
	case <-s.drained:
	case <-ctx.Done():
	}
	// stops the connect goroutine, streams and any insert still running
	s.cancel()

	stopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(stopped)
	}()
	var err error
	select {
	case <-stopped:
	case <-ctx.Done():
		// a connect still in flight closes its own handle once it sees closed
		err = ctx.Err()
	}
	if db == nil {
		return err
	}
	if closeErr := db.Close(ctx); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close store: %w", closeErr))
	}
	return err
}
