package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

// Result holds documents or logblock groups, depending on Grouped. A query
// naming Fields fills Records or RecordGroups instead, so fields that were
// not asked for are absent rather than zero.
type Result struct {
	Documents    []model.Document    `json:"documents,omitempty"`
	Groups       []model.Group       `json:"groups,omitempty"`
	Records      []model.Record      `json:"records,omitempty"`
	RecordGroups []model.RecordGroup `json:"record_groups,omitempty"`
	Grouped      bool                `json:"grouped"`
	Projected    bool                `json:"projected"`
}

// Rows returns whichever slice the query filled, for callers that only
// render the result.
func (r Result) Rows() any {
	switch {
	case r.Projected && r.Grouped:
		return r.RecordGroups
	case r.Projected:
		return r.Records
	case r.Grouped:
		return r.Groups
	default:
		return r.Documents
	}
}

func project(res Result, fields []string) Result {
	out := Result{Grouped: res.Grouped, Projected: true}
	if res.Grouped {
		out.RecordGroups = make([]model.RecordGroup, 0, len(res.Groups))
		for _, g := range res.Groups {
			out.RecordGroups = append(out.RecordGroups, g.Project(fields))
		}
		return out
	}
	out.Records = make([]model.Record, 0, len(res.Documents))
	for _, doc := range res.Documents {
		out.Records = append(out.Records, doc.Project(fields))
	}
	return out
}

type queryOutcome struct {
	result Result
	err    error
}

// Query runs a historical query. Before the store is ready the query is
// buffered and the call blocks until it runs or ctx is done. A buffered query
// runs on the drain loop so it observes every write buffered before it, and
// the default time window is taken when the query runs.
func (s *Sink) Query(ctx context.Context, spec model.QuerySpec) (Result, error) {
	if _, err := spec.Normalize(time.Now()); err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}
	if s.ready {
		coll := s.coll
		s.mu.Unlock()
		return s.runQuery(ctx, coll, spec)
	}

	out := make(chan queryOutcome, 1)
	s.enqueue(opQuery, func() {
		coll := s.coll
		queued := s.tasks.push(func() {
			res, err := s.runQuery(ctx, coll, spec)
			out <- queryOutcome{result: res, err: err}
		})
		if !queued {
			out <- queryOutcome{err: ErrClosed}
		}
	}, func() {
		out <- queryOutcome{err: ErrClosed}
	})
	s.mu.Unlock()

	select {
	case o := <-out:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Sink) runQuery(ctx context.Context, coll store.Collection, spec model.QuerySpec) (Result, error) {
	spec, err := spec.Normalize(time.Now())
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	filter := FilterFor(spec)
	opts := store.FindOptions{
		Skip:   spec.Start,
		Limit:  spec.Limit,
		Order:  spec.Order,
		Fields: spec.Fields,
	}

	kind := "find"
	if spec.Group == model.GroupByLogblock {
		kind = "group"
	}
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(s.opts.CollectionName, kind).Observe(time.Since(start).Seconds())
	}()

	var res Result
	if kind == "group" {
		res.Grouped = true
		res.Groups, err = coll.GroupByLogblock(ctx, filter, opts)
		if res.Groups == nil {
			res.Groups = []model.Group{}
		}
	} else {
		res.Documents, err = coll.Find(ctx, filter, opts)
		if res.Documents == nil {
			res.Documents = []model.Document{}
		}
	}
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(s.opts.CollectionName, kind, "error").Inc()
		return Result{}, fmt.Errorf("query %s: %w", kind, err)
	}
	metrics.QueriesTotal.WithLabelValues(s.opts.CollectionName, kind, "ok").Inc()
	if len(spec.Fields) > 0 {
		return project(res, spec.Fields), nil
	}
	return res, nil
}

// FilterFor translates a normalized query into a store filter.
func FilterFor(spec model.QuerySpec) store.Filter {
	f := store.Filter{
		Context:  spec.Context,
		Logblock: spec.Logblock,
		Source:   spec.Source,
		Content:  spec.Content,
		Type:     spec.Type,
		Level:    spec.Level,
	}
	if !spec.From.IsZero() {
		from := spec.From
		f.From = &from
	}
	if !spec.Until.IsZero() {
		until := spec.Until
		f.Until = &until
	}
	return f
}
