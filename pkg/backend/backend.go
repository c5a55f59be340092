// Package backend turns configuration into the store descriptor and sink
// options both binaries run with.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/sink"
	"github.com/superlogger/superlogger/pkg/store"
	"github.com/superlogger/superlogger/pkg/store/clickhouse"
	"github.com/superlogger/superlogger/pkg/store/memory"
	"github.com/superlogger/superlogger/pkg/store/mongo"
	"github.com/superlogger/superlogger/pkg/store/postgres"
)

const (
	DriverMongo      = "mongo"
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
	DriverMemory     = "memory"
)

var ErrUnknownDriver = errors.New("unknown sink driver")

// Descriptor returns how the sink reaches the configured store. Background
// work a backend needs, such as postgres row expiry, runs until ctx is done.
func Descriptor(ctx context.Context, cfg *config.Config, log *zap.Logger) (sink.Descriptor, error) {
	switch cfg.Sink.Driver {
	case DriverMongo, "":
		opts := mongo.Options{
			Database:       cfg.Mongo.Database,
			MaxPoolSize:    cfg.Mongo.MaxPoolSize,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}
		return sink.URI(cfg.Mongo.URI, func(ctx context.Context, uri string) (store.Database, error) {
			db, err := mongo.Dial(ctx, uri, opts)
			if err != nil {
				return nil, err
			}
			return db, nil
		}), nil

	case DriverPostgres:
		return sink.URI(cfg.Database.DSN(), func(dialCtx context.Context, dsn string) (store.Database, error) {
			db, err := postgres.Dial(dialCtx, dsn, &cfg.Database)
			if err != nil {
				return nil, err
			}
			go db.RunRetention(ctx, cfg.Sink.RetentionInterval, log)
			return db, nil
		}), nil

	case DriverClickHouse:
		ch := cfg.ClickHouse
		if ch.DSN != "" {
			return sink.URI(ch.DSN, func(ctx context.Context, dsn string) (store.Database, error) {
				db, err := clickhouse.Dial(ctx, dsn)
				if err != nil {
					return nil, err
				}
				return db, nil
			}), nil
		}
		return sink.URI(ch.Addr, func(ctx context.Context, addr string) (store.Database, error) {
			db, err := clickhouse.Open(ctx, clickhouse.Options{
				Addr:     []string{addr},
				Database: ch.Database,
				Username: ch.User,
				Password: ch.Password,
			})
			if err != nil {
				return nil, err
			}
			return db, nil
		}), nil

	case DriverMemory:
		return sink.Handle(memory.New()), nil

	default:
		return sink.Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Sink.Driver)
	}
}

// SinkOptions maps the sink section onto sink.Options.
func SinkOptions(cfg *config.Config, desc sink.Descriptor, log *zap.Logger) sink.Options {
	opts := sink.Options{
		Store:          desc,
		CollectionName: cfg.Sink.CollectionName,
		Capped:         cfg.Sink.Capped,
		CappedSize:     cfg.Sink.CappedSize,
		CappedMax:      cfg.Sink.CappedMax,
		Decolorize:     cfg.Sink.Decolorize,
		StoreHost:      cfg.Sink.StoreHost,
		Label:          cfg.Sink.Label,
		MinLevel:       cfg.Sink.MinLevel,
		PollInterval:   cfg.Sink.PollInterval,
		ConnectRetries: cfg.Sink.ConnectRetries,
		Logger:         log,
	}
	if cfg.Sink.ExpireAfterSeconds > 0 {
		expire := cfg.Sink.ExpireAfterSeconds
		opts.ExpireAfterSeconds = &expire
	}
	return opts
}

// IsStoreError reports whether err was raised by one of the store drivers.
func IsStoreError(err error) bool {
	return mongo.IsStoreError(err) || clickhouse.IsStoreError(err)
}
