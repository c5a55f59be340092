package store

import (
	"context"
	"errors"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
)

var (
	ErrNotTailable        = errors.New("collection does not support tailing")
	ErrCappedUnsupported  = errors.New("backend does not support capped collections")
	ErrIndexNotFound      = errors.New("index not found")
	ErrCollectionNotFound = errors.New("collection not found")
)

// Database is a connected document store handle.
type Database interface {
	// EnsureCollection creates the collection if it does not exist yet.
	EnsureCollection(ctx context.Context, name string, opts CollectionOptions) error
	Collection(name string) Collection
	Close(ctx context.Context) error
}

// Collection is a named set of log documents.
type Collection interface {
	Name() string

	// InsertOne stores doc and sets its ID.
	InsertOne(ctx context.Context, doc *model.Document) error

	// Find returns the documents matching filter. An empty result is an empty slice.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]model.Document, error)

	// GroupByLogblock applies match, sort, skip and limit, then groups the
	// remaining documents by logblock. Groups are ordered by logblock.
	GroupByLogblock(ctx context.Context, filter Filter, opts FindOptions) ([]model.Group, error)

	Indexes(ctx context.Context) ([]IndexInfo, error)
	CreateIndex(ctx context.Context, spec IndexSpec) error
	DropIndex(ctx context.Context, name string) error

	IsCapped(ctx context.Context) (bool, error)
}

// Tailer is implemented by collections that can block for new inserts.
// Tail calls fn for every document inserted at or after since, until ctx is
// cancelled, fn returns an error or the cursor fails.
type Tailer interface {
	Tail(ctx context.Context, since time.Time, fn func(model.Document) error) error
}

type CollectionOptions struct {
	Capped       bool
	SizeBytes    int64
	MaxDocuments int64
}

type IndexInfo struct {
	Name               string
	ExpireAfterSeconds *int32
}

type IndexSpec struct {
	Name               string
	Field              string
	Descending         bool
	ExpireAfterSeconds *int32
}

// Filter selects documents. Zero fields do not constrain the result.
// String fields other than Level match as literal, case sensitive substrings.
type Filter struct {
	From     *time.Time
	Until    *time.Time
	Context  string
	Logblock string
	Source   string
	Content  string
	Type     *model.LogType
	Level    *model.Level
}

// FindOptions controls ordering and pagination. An empty Order keeps
// insertion order.
type FindOptions struct {
	Skip  int
	Limit int
	Order model.Order
	// Fields lets Find read only the named fields. The others may come back
	// zero, so callers project the result before exposing it. Grouping
	// always reads whole documents.
	Fields []string
}
