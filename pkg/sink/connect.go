package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/store"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
)

// DialFunc resolves a connection string into a store handle. Backends bind
// their driver options into the function.
type DialFunc func(ctx context.Context, uri string) (store.Database, error)

// Resolution is the outcome of a pending connection.
type Resolution struct {
	DB  store.Database
	Err error
}

// Descriptor names how the sink obtains its store handle: a ready handle, a
// connection string resolved in the background, or a pending resolution.
type Descriptor struct {
	handle  store.Database
	uri     string
	dial    DialFunc
	pending <-chan Resolution
}

func Handle(db store.Database) Descriptor {
	return Descriptor{handle: db}
}

func URI(uri string, dial DialFunc) Descriptor {
	return Descriptor{uri: uri, dial: dial}
}

func Pending(ch <-chan Resolution) Descriptor {
	return Descriptor{pending: ch}
}

func (d Descriptor) valid() bool {
	switch {
	case d.handle != nil:
		return true
	case d.uri != "":
		return d.dial != nil
	default:
		return d.pending != nil
	}
}

// connect resolves the descriptor and, on success, reconciles the schema and
// makes the sink ready. Failures only reach the operational logger.
func (s *Sink) connect() {
	defer s.wg.Done()

	db, err := s.resolve(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Error("store connection failed, sink stays pending",
				zap.String("collection", s.opts.CollectionName),
				zap.Error(err),
			)
		}
		return
	}
	s.becomeReady(db)
}

func (s *Sink) resolve(ctx context.Context) (store.Database, error) {
	d := s.opts.Store
	switch {
	case d.handle != nil:
		return d.handle, nil
	case d.pending != nil:
		select {
		case r, ok := <-d.pending:
			if !ok {
				return nil, errPendingClosed
			}
			if r.Err != nil {
				return nil, fmt.Errorf("connect store: %w", r.Err)
			}
			if r.DB == nil {
				return nil, errPendingClosed
			}
			return r.DB, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return s.dialWithRetry(ctx)
	}
}

func (s *Sink) dialWithRetry(ctx context.Context) (store.Database, error) {
	d := s.opts.Store
	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		db, err := d.dial(ctx, d.uri)
		if err == nil {
			return db, nil
		}
		if attempt >= s.opts.ConnectRetries {
			return nil, fmt.Errorf("connect store: %w", err)
		}
		s.log.Warn("store connection attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
