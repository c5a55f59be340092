// Package postgres keeps log documents in PostgreSQL tables through gorm.
// It has no capped tables or tailable cursors, so sinks using it stream by
// polling; expiry indexes are recorded in a metadata table and enforced by
// the retention worker.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/store"
)

// indexMeta records an index and its expiry, which postgres indexes cannot carry.
type indexMeta struct {
	Collection         string `gorm:"primaryKey;type:varchar(255)"`
	Name               string `gorm:"primaryKey;type:varchar(255)"`
	Field              string `gorm:"type:varchar(255);not null"`
	ExpireAfterSeconds *int32
	CreatedAt          time.Time `gorm:"autoCreateTime"`
}

func (indexMeta) TableName() string {
	return "log_index_meta"
}

type Store struct {
	db *gorm.DB
}

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	return Dial(context.Background(), cfg.DSN(), cfg)
}

// Dial opens dsn, applying the pool limits of cfg when given.
func Dial(ctx context.Context, dsn string, cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&indexMeta{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate index metadata: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// EnsureCollection creates the table. Capped tables are not supported: the
// table is still created and ErrCappedUnsupported is returned.
func (s *Store) EnsureCollection(ctx context.Context, name string, opts store.CollectionOptions) error {
	if err := s.db.WithContext(ctx).Table(name).AutoMigrate(&logRow{}); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	if opts.Capped {
		return fmt.Errorf("%s: %w", name, store.ErrCappedUnsupported)
	}
	return nil
}

func (s *Store) Collection(name string) store.Collection {
	return &Collection{db: s.db, name: name}
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DeleteExpired removes rows older than the expiry recorded for each index.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var metas []indexMeta
	if err := s.db.WithContext(ctx).Where("expire_after_seconds IS NOT NULL").Find(&metas).Error; err != nil {
		return 0, err
	}
	var deleted int64
	for _, m := range metas {
		cutoff := now.Add(-time.Duration(*m.ExpireAfterSeconds) * time.Second)
		res := s.db.WithContext(ctx).
			Table(m.Collection).
			Where(quoteIdent(m.Field)+" < ?", cutoff).
			Delete(&logRow{})
		if res.Error != nil {
			return deleted, fmt.Errorf("expire %s: %w", m.Collection, res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// RunRetention deletes expired rows on every tick until ctx is done.
func (s *Store) RunRetention(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			deleted, err := s.DeleteExpired(ctx, now)
			if err != nil {
				log.Error("failed to delete expired logs", zap.Error(err))
				continue
			}
			if deleted > 0 {
				log.Info("deleted expired logs", zap.Int64("count", deleted))
			}
		}
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
