package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
	"github.com/superlogger/superlogger/pkg/store/memory"
)

func int32p(v int32) *int32 { return &v }

func timestampIndexes(t *testing.T, db *memory.Database) []store.IndexInfo {
	t.Helper()
	infos, err := db.Collection("log").Indexes(context.Background())
	if err != nil {
		t.Fatalf("indexes: %v", err)
	}
	var out []store.IndexInfo
	for _, info := range infos {
		if info.Name == TimestampIndex {
			out = append(out, info)
		}
	}
	return out
}

func TestReconcileCreatesIndexOnce(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	retention := model.RetentionConfig{ExpireAfterSeconds: int32p(60)}

	for i := 0; i < 2; i++ {
		if _, err := Reconcile(ctx, db, "log", retention); err != nil {
			t.Fatalf("reconcile %d: %v", i, err)
		}
	}
	stats := db.Stats()
	if stats.CollectionsCreated != 1 || stats.IndexesCreated != 1 || stats.IndexesDropped != 0 {
		t.Fatalf("reconcile is not idempotent: %+v", stats)
	}
}

func TestReconcileReplacesIndexWhenExpiryChanges(t *testing.T) {
	db := memory.New()
	ctx := context.Background()

	steps := []*int32{int32p(60), int32p(120), nil, int32p(30)}
	for _, expire := range steps {
		if _, err := Reconcile(ctx, db, "log", model.RetentionConfig{ExpireAfterSeconds: expire}); err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		indexes := timestampIndexes(t, db)
		if len(indexes) != 1 {
			t.Fatalf("expected exactly one timestamp index, got %d", len(indexes))
		}
		if !sameExpiry(indexes[0].ExpireAfterSeconds, expire) {
			t.Fatalf("index expiry %v does not match %v", indexes[0].ExpireAfterSeconds, expire)
		}
	}
	if dropped := db.Stats().IndexesDropped; dropped != 3 {
		t.Fatalf("expected 3 drops, got %d", dropped)
	}
}

func TestReconcileCappedIgnoresExpiry(t *testing.T) {
	db := memory.New()
	strategy, err := Reconcile(context.Background(), db, "log", model.RetentionConfig{
		Capped:             true,
		CappedSize:         model.DefaultCappedSize,
		ExpireAfterSeconds: int32p(60),
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if strategy != StrategyTail {
		t.Fatalf("expected tail strategy for a capped collection, got %s", strategy)
	}
	indexes := timestampIndexes(t, db)
	if len(indexes) != 1 || indexes[0].ExpireAfterSeconds != nil {
		t.Fatalf("capped collection must not carry an expiry: %+v", indexes)
	}
}

func TestReconcileContinuesAfterFailure(t *testing.T) {
	db := memory.New()
	boom := errors.New("not authorized")
	db.FailOn(memory.OpEnsureCollection, boom)

	strategy, err := Reconcile(context.Background(), db, "log", model.RetentionConfig{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the ensure error to be reported, got %v", err)
	}
	if strategy != StrategyPoll {
		t.Fatalf("expected poll strategy, got %s", strategy)
	}
	if len(timestampIndexes(t, db)) != 1 {
		t.Fatal("index step should still run after a collection failure")
	}
}
