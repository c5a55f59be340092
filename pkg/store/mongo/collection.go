package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

// tailRetry is how long Tail waits before reopening a dead cursor, which
// happens when the capped collection was empty at open time.
const tailRetry = 500 * time.Millisecond

type record struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`
	Level     string             `bson:"level"`
	Context   string             `bson:"context"`
	Logblock  string             `bson:"logblock"`
	Type      int                `bson:"type"`
	Content   string             `bson:"content"`
	Source    string             `bson:"source,omitempty"`
	Hostname  string             `bson:"hostname,omitempty"`
	Label     string             `bson:"label,omitempty"`
}

func toRecord(doc *model.Document) record {
	return record{
		Timestamp: doc.Timestamp,
		Level:     doc.Level.String(),
		Context:   doc.Context,
		Logblock:  doc.Logblock,
		Type:      int(doc.Type),
		Content:   doc.Content,
		Source:    doc.Source,
		Hostname:  doc.Hostname,
		Label:     doc.Label,
	}
}

func (r record) document() model.Document {
	doc := model.Document{
		Timestamp: r.Timestamp,
		Context:   r.Context,
		Logblock:  r.Logblock,
		Type:      model.LogType(r.Type),
		Content:   r.Content,
		Source:    r.Source,
		Hostname:  r.Hostname,
		Label:     r.Label,
	}
	if !r.ID.IsZero() {
		doc.ID = r.ID.Hex()
	}
	// projected reads may omit the level
	if level, err := model.ParseLevel(r.Level); err == nil {
		doc.Level = level
	}
	return doc
}

type Collection struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func (c *Collection) Name() string { return c.coll.Name() }

func (c *Collection) InsertOne(ctx context.Context, doc *model.Document) error {
	res, err := c.coll.InsertOne(ctx, toRecord(doc))
	if err != nil {
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		doc.ID = id.Hex()
	}
	return nil
}

func (c *Collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Document, error) {
	cursor, err := c.coll.Find(ctx, buildFilter(filter), findOptions(opts))
	if err != nil {
		return nil, err
	}
	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func (c *Collection) GroupByLogblock(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Group, error) {
	cursor, err := c.coll.Aggregate(ctx, groupPipeline(filter, opts))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID   string   `bson:"_id"`
		Logs []record `bson:"logs"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	groups := make([]model.Group, 0, len(rows))
	for _, row := range rows {
		g := model.Group{ID: row.ID, Logs: make([]model.Document, 0, len(row.Logs))}
		for _, r := range row.Logs {
			g.Logs = append(g.Logs, r.document())
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (c *Collection) Indexes(ctx context.Context) ([]store.IndexInfo, error) {
	cursor, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, err
	}
	infos := make([]store.IndexInfo, 0, len(specs))
	for _, spec := range specs {
		name, _ := spec["name"].(string)
		info := store.IndexInfo{Name: name}
		if v, ok := asInt32(spec["expireAfterSeconds"]); ok {
			info.ExpireAfterSeconds = &v
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// asInt32 normalizes the numeric types the server may use for index options.
func asInt32(v interface{}) (int32, bool) {
	switch n := v.(type) {
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	direction := 1
	if spec.Descending {
		direction = -1
	}
	indexOpts := options.Index().SetName(spec.Name)
	if spec.ExpireAfterSeconds != nil {
		indexOpts.SetExpireAfterSeconds(*spec.ExpireAfterSeconds)
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: spec.Field, Value: direction}},
		Options: indexOpts,
	})
	return err
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	_, err := c.coll.Indexes().DropOne(ctx, name)
	return err
}

func (c *Collection) IsCapped(ctx context.Context) (bool, error) {
	specs, err := c.db.ListCollectionSpecifications(ctx, bson.D{{Key: "name", Value: c.coll.Name()}})
	if err != nil {
		return false, err
	}
	if len(specs) == 0 {
		return false, fmt.Errorf("%s: %w", c.coll.Name(), store.ErrCollectionNotFound)
	}
	capped, ok := specs[0].Options.Lookup("capped").BooleanOK()
	return ok && capped, nil
}

// Tail follows the collection with a tailable await cursor. A cursor that
// dies because the collection was empty is reopened after the last document
// seen so nothing is delivered twice.
func (c *Collection) Tail(ctx context.Context, since time.Time, fn func(model.Document) error) error {
	capped, err := c.IsCapped(ctx)
	if err != nil {
		return err
	}
	if !capped {
		return store.ErrNotTailable
	}

	var lastID primitive.ObjectID
	for {
		filter := bson.D{{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}}}
		if !lastID.IsZero() {
			filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: lastID}}}}
		}
		findOpts := options.Find().
			SetCursorType(options.TailableAwait).
			SetMaxAwaitTime(time.Second)

		cursor, err := c.coll.Find(ctx, filter, findOpts)
		if err != nil {
			return err
		}
		for cursor.Next(ctx) {
			var r record
			if err := cursor.Decode(&r); err != nil {
				_ = cursor.Close(context.Background())
				return err
			}
			lastID = r.ID
			if err := fn(r.document()); err != nil {
				_ = cursor.Close(context.Background())
				return err
			}
		}
		cursorErr := cursor.Err()
		_ = cursor.Close(context.Background())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cursorErr != nil && !errors.Is(cursorErr, context.Canceled) {
			return cursorErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tailRetry):
		}
	}
}
