// Package clickhouse keeps log documents in MergeTree tables. Expiry maps to
// the table TTL; there are no capped tables, so sinks using it stream by
// polling.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/superlogger/superlogger/pkg/store"
)

// SortIndex is the name the sorting key is reported under, matching the
// timestamp index of document stores.
const SortIndex = "timestamp_1"

type Options struct {
	Addr     []string
	Database string
	Username string
	Password string
}

type Database struct {
	conn driver.Conn
}

func Open(ctx context.Context, opts Options) (*Database, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: opts.Addr,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return ping(ctx, conn)
}

// Dial opens a clickhouse:// DSN.
func Dial(ctx context.Context, dsn string) (*Database, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return ping(ctx, conn)
}

func ping(ctx context.Context, conn driver.Conn) (*Database, error) {
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return &Database{conn: conn}, nil
}

// EnsureCollection creates the table. Capped tables are not supported: the
// table is still created and ErrCappedUnsupported is returned.
func (d *Database) EnsureCollection(ctx context.Context, name string, opts store.CollectionOptions) error {
	if err := d.conn.Exec(ctx, createTableSQL(name)); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	if opts.Capped {
		return fmt.Errorf("%s: %w", name, store.ErrCappedUnsupported)
	}
	return nil
}

func (d *Database) Collection(name string) store.Collection {
	return &Collection{conn: d.conn, name: name}
}

func (d *Database) Close(ctx context.Context) error {
	return d.conn.Close()
}

func createTableSQL(name string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id UUID,
		timestamp DateTime64(9) Codec(Delta, ZSTD),
		level LowCardinality(String),
		context String,
		logblock String,
		type UInt8,
		content String Codec(ZSTD),
		source String,
		hostname LowCardinality(String),
		label LowCardinality(String)
	)
	ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(timestamp)
	ORDER BY (timestamp, id)
	`, quoteIdent(name))
}

var ttlPattern = regexp.MustCompile(`TTL\s+toDateTime\(timestamp\)\s*\+\s*toIntervalSecond\((\d+)\)`)

// parseTTL extracts the expiry from a table's engine_full definition.
func parseTTL(engineFull string) (*int32, error) {
	m := ttlPattern.FindStringSubmatch(engineFull)
	if m == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse ttl %q: %w", m[1], err)
	}
	v := int32(n)
	return &v, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var errUnsupportedIndex = errors.New("only the timestamp sorting key can carry an expiry")

// IsStoreError reports whether err is an exception raised by the server.
func IsStoreError(err error) bool {
	var exception *clickhouse.Exception
	return errors.As(err, &exception)
}
