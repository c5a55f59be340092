// Package memory is an in-process document store implementing the store
// interfaces, including capped collections, expiry indexes and tailing.
// It backs tests and single process deployments that do not need durability.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

var ErrClosed = errors.New("memory store closed")

// Operations that can be made to fail with FailOn.
const (
	OpEnsureCollection = "ensure_collection"
	OpInsert           = "insert"
	OpFind             = "find"
	OpGroup            = "group"
	OpIndexes          = "indexes"
	OpCreateIndex      = "create_index"
	OpDropIndex        = "drop_index"
	OpTail             = "tail"
)

// Stats counts schema changes so callers can check reconciliation is idempotent.
type Stats struct {
	CollectionsCreated int
	IndexesCreated     int
	IndexesDropped     int
}

type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
	failures    map[string]error
	stats       Stats
	closed      bool
	now         func() time.Time
}

func New() *Database {
	return &Database{
		collections: make(map[string]*Collection),
		failures:    make(map[string]error),
		now:         time.Now,
	}
}

// FailOn makes every subsequent op return err. A nil err clears the failure.
func (db *Database) FailOn(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err == nil {
		delete(db.failures, op)
		return
	}
	db.failures[op] = err
}

func (db *Database) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stats
}

func (db *Database) check(op string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.failures[op]
}

func (db *Database) EnsureCollection(ctx context.Context, name string, opts store.CollectionOptions) error {
	if err := db.check(OpEnsureCollection); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.collections[name]; ok {
		return nil
	}
	db.collections[name] = newCollection(db, name, opts)
	db.stats.CollectionsCreated++
	return nil
}

// Collection returns the named collection, creating an uncapped one on first
// use like document stores do on first insert.
func (db *Database) Collection(name string) store.Collection {
	return db.collection(name)
}

func (db *Database) collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	if !ok {
		c = newCollection(db, name, store.CollectionOptions{})
		db.collections[name] = c
		db.stats.CollectionsCreated++
	}
	return c
}

func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	db.closed = true
	collections := make([]*Collection, 0, len(db.collections))
	for _, c := range db.collections {
		collections = append(collections, c)
	}
	db.mu.Unlock()

	for _, c := range collections {
		c.wake()
	}
	return nil
}

type record struct {
	seq  uint64
	size int64
	doc  model.Document
}

type Collection struct {
	db   *Database
	name string
	opts store.CollectionOptions

	mu       sync.Mutex
	records  []record
	seq      uint64
	size     int64
	indexes  map[string]store.IndexSpec
	notifyCh chan struct{}
}

func newCollection(db *Database, name string, opts store.CollectionOptions) *Collection {
	return &Collection{
		db:       db,
		name:     name,
		opts:     opts,
		indexes:  make(map[string]store.IndexSpec),
		notifyCh: make(chan struct{}),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) IsCapped(ctx context.Context) (bool, error) {
	if err := c.db.check(""); err != nil {
		return false, err
	}
	return c.opts.Capped, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc *model.Document) error {
	if err := c.db.check(OpInsert); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.seq++
	doc.ID = fmt.Sprintf("%024x", c.seq)
	r := record{seq: c.seq, size: docSize(doc), doc: *doc}
	c.records = append(c.records, r)
	c.size += r.size
	c.evict()
	c.mu.Unlock()
	c.wake()
	return nil
}

// evict drops the oldest documents of a capped collection. Must hold c.mu.
func (c *Collection) evict() {
	if !c.opts.Capped {
		return
	}
	for len(c.records) > 1 {
		overCount := c.opts.MaxDocuments > 0 && int64(len(c.records)) > c.opts.MaxDocuments
		overSize := c.opts.SizeBytes > 0 && c.size > c.opts.SizeBytes
		if !overCount && !overSize {
			return
		}
		c.size -= c.records[0].size
		c.records = c.records[1:]
	}
}

// expire removes documents past the expiry index, as a TTL monitor would. Must hold c.mu.
func (c *Collection) expire() {
	for _, idx := range c.indexes {
		if idx.ExpireAfterSeconds == nil || idx.Field != "timestamp" {
			continue
		}
		cutoff := c.db.now().Add(-time.Duration(*idx.ExpireAfterSeconds) * time.Second)
		kept := c.records[:0]
		for _, r := range c.records {
			if r.doc.Timestamp.Before(cutoff) {
				c.size -= r.size
				continue
			}
			kept = append(kept, r)
		}
		c.records = kept
	}
}

func (c *Collection) wake() {
	c.mu.Lock()
	close(c.notifyCh)
	c.notifyCh = make(chan struct{})
	c.mu.Unlock()
}

func (c *Collection) matching(filter store.Filter) []model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expire()
	docs := make([]model.Document, 0)
	for i := range c.records {
		if filter.Match(&c.records[i].doc) {
			docs = append(docs, c.records[i].doc)
		}
	}
	return docs
}

func (c *Collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Document, error) {
	if err := c.db.check(OpFind); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.Apply(c.matching(filter), opts), nil
}

func (c *Collection) GroupByLogblock(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Group, error) {
	if err := c.db.check(OpGroup); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return store.GroupDocuments(store.Apply(c.matching(filter), opts)), nil
}

func (c *Collection) Indexes(ctx context.Context) ([]store.IndexInfo, error) {
	if err := c.db.check(OpIndexes); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	infos := make([]store.IndexInfo, 0, len(c.indexes))
	for name, spec := range c.indexes {
		infos = append(infos, store.IndexInfo{Name: name, ExpireAfterSeconds: spec.ExpireAfterSeconds})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if err := c.db.check(OpCreateIndex); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.indexes[spec.Name]; ok {
		if !sameExpiry(existing.ExpireAfterSeconds, spec.ExpireAfterSeconds) {
			return fmt.Errorf("index %q already exists with different options", spec.Name)
		}
		return nil
	}
	c.indexes[spec.Name] = spec
	c.db.mu.Lock()
	c.db.stats.IndexesCreated++
	c.db.mu.Unlock()
	return nil
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if err := c.db.check(OpDropIndex); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[name]; !ok {
		return fmt.Errorf("drop %q: %w", name, store.ErrIndexNotFound)
	}
	delete(c.indexes, name)
	c.db.mu.Lock()
	c.db.stats.IndexesDropped++
	c.db.mu.Unlock()
	return nil
}

// Tail blocks for inserts on a capped collection.
func (c *Collection) Tail(ctx context.Context, since time.Time, fn func(model.Document) error) error {
	if !c.opts.Capped {
		return store.ErrNotTailable
	}
	var last uint64
	for {
		if err := c.db.check(OpTail); err != nil {
			return err
		}
		c.mu.Lock()
		var pending []model.Document
		for _, r := range c.records {
			if r.seq <= last {
				continue
			}
			last = r.seq
			if !r.doc.Timestamp.Before(since) {
				pending = append(pending, r.doc)
			}
		}
		ch := c.notifyCh
		c.mu.Unlock()

		for _, doc := range pending {
			if err := fn(doc); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func sameExpiry(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func docSize(doc *model.Document) int64 {
	return int64(64 + len(doc.Content) + len(doc.Context) + len(doc.Logblock) +
		len(doc.Source) + len(doc.Hostname) + len(doc.Label))
}
