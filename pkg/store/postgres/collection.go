package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/store"
)

type logRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"not null"`
	Level     string    `gorm:"type:varchar(16);not null"`
	Context   string    `gorm:"type:text;not null"`
	Logblock  string    `gorm:"type:text;not null"`
	Type      int       `gorm:"not null;default:0"`
	Content   string    `gorm:"type:text;not null"`
	Source    string    `gorm:"type:text"`
	Hostname  string    `gorm:"type:varchar(255)"`
	Label     string    `gorm:"type:varchar(255)"`
}

func toRow(doc *model.Document) logRow {
	return logRow{
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

func (r logRow) document() model.Document {
	doc := model.Document{
		ID:        fmt.Sprintf("%d", r.ID),
		Timestamp: r.Timestamp,
		Context:   r.Context,
		Logblock:  r.Logblock,
		Type:      model.LogType(r.Type),
		Content:   r.Content,
		Source:    r.Source,
		Hostname:  r.Hostname,
		Label:     r.Label,
	}
	if level, err := model.ParseLevel(r.Level); err == nil {
		doc.Level = level
	}
	return doc
}

type Collection struct {
	db   *gorm.DB
	name string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) IsCapped(ctx context.Context) (bool, error) {
	return false, nil
}

func (c *Collection) InsertOne(ctx context.Context, doc *model.Document) error {
	row := toRow(doc)
	if err := c.db.WithContext(ctx).Table(c.name).Create(&row).Error; err != nil {
		return err
	}
	doc.ID = fmt.Sprintf("%d", row.ID)
	return nil
}

func (c *Collection) query(ctx context.Context, filter store.Filter) *gorm.DB {
	q := c.db.WithContext(ctx).Table(c.name)

	if filter.From != nil {
		q = q.Where("timestamp >= ?", *filter.From)
	}
	if filter.Until != nil {
		q = q.Where("timestamp <= ?", *filter.Until)
	}
	if filter.Context != "" {
		q = q.Where(`context LIKE ? ESCAPE '\'`, likePattern(filter.Context))
	}
	if filter.Logblock != "" {
		q = q.Where(`logblock LIKE ? ESCAPE '\'`, likePattern(filter.Logblock))
	}
	if filter.Source != "" {
		q = q.Where(`source LIKE ? ESCAPE '\'`, likePattern(filter.Source))
	}
	if filter.Content != "" {
		q = q.Where(`content LIKE ? ESCAPE '\'`, likePattern(filter.Content))
	}
	if filter.Type != nil {
		q = q.Where("type = ?", int(*filter.Type))
	}
	if filter.Level != nil {
		q = q.Where("level = ?", filter.Level.String())
	}
	return q
}

func (c *Collection) Find(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Document, error) {
	q := c.query(ctx, filter).Order(orderClause(opts.Order))
	if cols := columns(opts.Fields); cols != nil {
		q = q.Select(cols)
	}
	if opts.Skip > 0 {
		q = q.Offset(opts.Skip)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var rows []logRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

// GroupByLogblock pages in SQL and groups in process, so pagination applies
// before grouping like the aggregation pipeline of document stores.
func (c *Collection) GroupByLogblock(ctx context.Context, filter store.Filter, opts store.FindOptions) ([]model.Group, error) {
	return store.GroupFind(func(opts store.FindOptions) ([]model.Document, error) {
		return c.Find(ctx, filter, opts)
	}, opts)
}

func (c *Collection) Indexes(ctx context.Context) ([]store.IndexInfo, error) {
	var metas []indexMeta
	err := c.db.WithContext(ctx).
		Where("collection = ?", c.name).
		Order("name ASC").
		Find(&metas).Error
	if err != nil {
		return nil, err
	}
	infos := make([]store.IndexInfo, 0, len(metas))
	for _, m := range metas {
		infos = append(infos, store.IndexInfo{Name: m.Name, ExpireAfterSeconds: m.ExpireAfterSeconds})
	}
	return infos, nil
}

func (c *Collection) CreateIndex(ctx context.Context, spec store.IndexSpec) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing indexMeta
		err := tx.Where("collection = ? AND name = ?", c.name, spec.Name).First(&existing).Error
		if err == nil {
			if !sameExpiry(existing.ExpireAfterSeconds, spec.ExpireAfterSeconds) {
				return fmt.Errorf("index %q already exists with different options", spec.Name)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		direction := "ASC"
		if spec.Descending {
			direction = "DESC"
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s %s)",
			quoteIdent(c.indexName(spec.Name)), quoteIdent(c.name), quoteIdent(spec.Field), direction)
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
		return tx.Create(&indexMeta{
			Collection:         c.name,
			Name:               spec.Name,
			Field:              spec.Field,
			ExpireAfterSeconds: spec.ExpireAfterSeconds,
		}).Error
	})
}

func (c *Collection) DropIndex(ctx context.Context, name string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("collection = ? AND name = ?", c.name, name).Delete(&indexMeta{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("drop %q: %w", name, store.ErrIndexNotFound)
		}
		return tx.Exec("DROP INDEX IF EXISTS " + quoteIdent(c.indexName(name))).Error
	})
}

// indexName scopes index names to the table, since postgres index names are
// unique per schema rather than per table.
func (c *Collection) indexName(name string) string {
	return c.name + "_" + name
}

func orderClause(order model.Order) string {
	switch order {
	case model.OrderAsc:
		return "timestamp ASC, id ASC"
	case model.OrderDesc:
		return "timestamp DESC, id DESC"
	default:
		return "id ASC"
	}
}

func columns(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	cols := []string{"id"}
	for _, f := range fields {
		switch f {
		case "timestamp", "level", "context", "logblock", "type", "content", "source", "hostname", "label":
			cols = append(cols, f)
		}
	}
	return cols
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a literal into a contains pattern.
func likePattern(value string) string {
	return "%" + likeEscaper.Replace(value) + "%"
}

func sameExpiry(a, b *int32) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
