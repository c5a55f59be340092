package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

// Strategy is how a stream follows new documents.
type Strategy int

const (
	StrategyPoll Strategy = iota
	StrategyTail
)

func (s Strategy) String() string {
	if s == StrategyTail {
		return "tail"
	}
	return "poll"
}

// Reconcile brings the collection and its timestamp index in line with the
// retention settings and reports the stream strategy the collection supports.
// Every step runs even when an earlier one fails; the failures are joined.
func Reconcile(ctx context.Context, db store.Database, name string, retention model.RetentionConfig) (Strategy, error) {
	retention = retention.Effective()
	var errs []error

	err := db.EnsureCollection(ctx, name, store.CollectionOptions{
		Capped:       retention.Capped,
		SizeBytes:    retention.CappedSize,
		MaxDocuments: retention.CappedMax,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("reconcile: ensure collection %q: %w", name, err))
	}

	coll := db.Collection(name)
	if err := reconcileIndex(ctx, coll, retention.ExpireAfterSeconds); err != nil {
		errs = append(errs, fmt.Errorf("reconcile: timestamp index: %w", err))
	}

	strategy := StrategyPoll
	capped, err := coll.IsCapped(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("reconcile: inspect collection: %w", err))
	} else if _, ok := coll.(store.Tailer); ok && capped {
		strategy = StrategyTail
	}
	return strategy, errors.Join(errs...)
}

func reconcileIndex(ctx context.Context, coll store.Collection, expire *int32) error {
	infos, err := coll.Indexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	spec := store.IndexSpec{
		Name:               TimestampIndex,
		Field:              "timestamp",
		Descending:         true,
		ExpireAfterSeconds: expire,
	}
	for _, info := range infos {
		if info.Name != TimestampIndex {
			continue
		}
		if sameExpiry(info.ExpireAfterSeconds, expire) {
			return nil
		}
		if err := coll.DropIndex(ctx, TimestampIndex); err != nil {
			return fmt.Errorf("drop %s: %w", TimestampIndex, err)
		}
		break
	}
	if err := coll.CreateIndex(ctx, spec); err != nil {
		return fmt.Errorf("create %s: %w", TimestampIndex, err)
	}
	return nil
}

func sameExpiry(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
