package mongo

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

func TestBuildFilterFull(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(time.Hour)
	typ := model.LogTypeRestClient
	level := model.LevelError

	got := buildFilter(store.Filter{
		From:     &from,
		Until:    &until,
		Context:  "API",
		Logblock: "req.1",
		Type:     &typ,
		Level:    &level,
	})
	want := bson.D{
		{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lte", Value: until}}},
		{Key: "context", Value: primitive.Regex{Pattern: "API"}},
		{Key: "logblock", Value: primitive.Regex{Pattern: `req\.1`}},
		{Key: "type", Value: 2},
		{Key: "level", Value: "error"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildFilter() =\n%v\nwant\n%v", got, want)
	}
}

func TestBuildFilterEmpty(t *testing.T) {
	if got := buildFilter(store.Filter{}); len(got) != 0 {
		t.Fatalf("expected empty filter, got %v", got)
	}
}

func TestGroupPipelinePaginatesBeforeGrouping(t *testing.T) {
	pipeline := groupPipeline(store.Filter{}, store.FindOptions{Skip: 5, Limit: 10, Order: model.OrderDesc})

	var stages []string
	for _, stage := range pipeline {
		stages = append(stages, stage[0].Key)
	}
	want := []string{"$match", "$sort", "$skip", "$limit", "$group", "$sort"}
	if !reflect.DeepEqual(stages, want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
}

func TestRecordDocumentToleratesProjectedLevel(t *testing.T) {
	doc := record{Content: "only content"}.document()
	if doc.Content != "only content" {
		t.Fatalf("unexpected content %q", doc.Content)
	}
	if doc.ID != "" {
		t.Fatalf("expected empty id for zero object id, got %q", doc.ID)
	}
}

func TestAsInt32(t *testing.T) {
	for _, v := range []interface{}{int32(30), int64(30), float64(30)} {
		got, ok := asInt32(v)
		if !ok || got != 30 {
			t.Fatalf("asInt32(%T) = %d, %v", v, got, ok)
		}
	}
	if _, ok := asInt32("30"); ok {
		t.Fatalf("expected string to be rejected")
	}
}
