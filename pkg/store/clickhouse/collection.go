package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

const selectColumns = "id, timestamp, level, context, logblock, type, content, source, hostname, label"

type Collection struct {
	conn driver.Conn
	name string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) IsCapped(ctx context.Context) (bool, error) {
	return false, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc *model.Document) error {
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+quoteIdent(c.name))
	if err != nil {
		return err
	}
	id := uuid.New()
	err = batch.Append(
		id,
		doc.Timestamp,
		doc.Level.String(),
		doc.Context,
		doc.Logblock,
		uint8(doc.Type),
		doc.Content,
		doc.Source,
		doc.Hostname,
		doc.Label,
	)
	if err != nil {
		return err
	}
	if err := batch.Send(); err != nil {
		return err
	}
	doc.ID = id.String()
	return nil
}

// buildQuery renders the filter as a WHERE clause with positional arguments.
// Substring filters use position() so the value is matched literally.
func buildQuery(table string, filter store.Filter, opts store.FindOptions) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *filter.From)
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *filter.Until)
	}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"context", filter.Context},
		{"logblock", filter.Logblock},
		{"source", filter.Source},
		{"content", filter.Content},
	} {
		if f.value != "" {
			clauses = append(clauses, fmt.Sprintf("position(%s, ?) > 0", f.column))
			args = append(args, f.value)
		}
	}
	if filter.Type != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, uint8(*filter.Type))
	}
	if filter.Level != nil {
		clauses = append(clauses, "level = ?")
		args = append(args, filter.Level.String())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectColumns, quoteIdent(table))
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderClause(opts.Order))
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		if opts.Limit <= 0 {
			// OFFSET needs a LIMIT in clickhouse
			b.WriteString(" LIMIT 18446744073709551615")
		}
		fmt.Fprintf(&b, " OFFSET %d", opts.Skip)
	}
	return b.String(), args
}

func orderClause(order model.Order) string {
	if order == model.OrderDesc {
		return "timestamp DESC, id DESC"
	}
	return "timestamp ASC, id ASC"
}

func (c *Collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Document, error) {
	query, args := buildQuery(c.name, filter, opts)
	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]model.Document, 0)
	for rows.Next() {
		var (
			id        uuid.UUID
			timestamp time.Time
			level     string
			typ       uint8
			doc       model.Document
		)
		if err := rows.Scan(&id, &timestamp, &level, &doc.Context, &doc.Logblock, &typ,
			&doc.Content, &doc.Source, &doc.Hostname, &doc.Label); err != nil {
			return nil, err
		}
		doc.ID = id.String()
		doc.Timestamp = timestamp
		doc.Type = model.LogType(typ)
		if parsed, err := model.ParseLevel(level); err == nil {
			doc.Level = parsed
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (c *Collection) GroupByLogblock(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Group, error) {
	return store.GroupFind(func(opts store.FindOptions) ([]model.Document, error) {
		return c.Find(ctx, filter, opts)
	}, opts)
}

func (c *Collection) ttl(ctx context.Context) (*int32, error) {
	var engineFull string
	row := c.conn.QueryRow(ctx,
		"SELECT engine_full FROM system.tables WHERE database = currentDatabase() AND name = ?", c.name)
	if err := row.Scan(&engineFull); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, store.ErrCollectionNotFound)
	}
	return parseTTL(engineFull)
}

// Indexes reports the sorting key, with the table TTL as its expiry.
func (c *Collection) Indexes(ctx context.Context) ([]store.IndexInfo, error) {
	ttl, err := c.ttl(ctx)
	if err != nil {
		return nil, err
	}
	return []store.IndexInfo{{Name: SortIndex, ExpireAfterSeconds: ttl}}, nil
}

// CreateIndex sets the table TTL. The sorting key itself always exists.
func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	if spec.Field != "timestamp" {
		return fmt.Errorf("index %q on %q: %w", spec.Name, spec.Field, errUnsupportedIndex)
	}
	current, err := c.ttl(ctx)
	if err != nil {
		return err
	}
	if spec.ExpireAfterSeconds == nil {
		return nil
	}
	if current != nil {
		if *current == *spec.ExpireAfterSeconds {
			return nil
		}
		return fmt.Errorf("index %q already exists with different options", spec.Name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s MODIFY TTL toDateTime(timestamp) + INTERVAL %d SECOND",
		quoteIdent(c.name), *spec.ExpireAfterSeconds)
	return c.conn.Exec(ctx, stmt)
}

// DropIndex removes the table TTL. The sorting key cannot be dropped.
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	if name != SortIndex {
		return fmt.Errorf("drop %q: %w", name, store.ErrIndexNotFound)
	}
	current, err := c.ttl(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	return c.conn.Exec(ctx, "ALTER TABLE "+quoteIdent(c.name)+" REMOVE TTL")
}
