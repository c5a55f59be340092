package mongo

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

func buildFilter(f store.Filter) bson.D {
	filter := bson.D{}

	window := bson.D{}
	if f.From != nil {
		window = append(window, bson.E{Key: "$gte", Value: *f.From})
	}
	if f.Until != nil {
		window = append(window, bson.E{Key: "$lte", Value: *f.Until})
	}
	if len(window) > 0 {
		filter = append(filter, bson.E{Key: "timestamp", Value: window})
	}

	filter = appendContains(filter, "context", f.Context)
	filter = appendContains(filter, "logblock", f.Logblock)
	filter = appendContains(filter, "source", f.Source)
	filter = appendContains(filter, "content", f.Content)

	if f.Type != nil {
		filter = append(filter, bson.E{Key: "type", Value: int(*f.Type)})
	}
	if f.Level != nil {
		filter = append(filter, bson.E{Key: "level", Value: f.Level.String()})
	}
	return filter
}

// appendContains adds a literal substring match. The value is quoted so
// regex meta characters in user input match themselves.
func appendContains(filter bson.D, field, value string) bson.D {
	if value == "" {
		return filter
	}
	return append(filter, bson.E{Key: field, Value: primitive.Regex{Pattern: regexp.QuoteMeta(value)}})
}

func sortFor(order model.Order) bson.D {
	switch order {
	case model.OrderAsc:
		return bson.D{{Key: "timestamp", Value: 1}}
	case model.OrderDesc:
		return bson.D{{Key: "timestamp", Value: -1}}
	default:
		return nil
	}
}

func projection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	p := make(bson.D, 0, len(fields))
	for _, f := range fields {
		p = append(p, bson.E{Key: f, Value: 1})
	}
	return p
}

func findOptions(opts store.FindOptions) *options.FindOptions {
	findOpts := options.Find()
	if opts.Skip > 0 {
		findOpts.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if s := sortFor(opts.Order); s != nil {
		findOpts.SetSort(s)
	}
	if p := projection(opts.Fields); p != nil {
		findOpts.SetProjection(p)
	}
	return findOpts
}

// groupPipeline orders and paginates before grouping so group members are
// exactly the documents the ungrouped query would return.
func groupPipeline(f store.Filter, opts store.FindOptions) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: buildFilter(f)}},
	}
	if s := sortFor(opts.Order); s != nil {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: s}})
	}
	if opts.Skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(opts.Skip)}})
	}
	if opts.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(opts.Limit)}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$logblock"},
			{Key: "logs", Value: bson.D{{Key: "$push", Value: "$$ROOT"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	)
	return pipeline
}
