package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
)

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers  []string
	ClientID string
	GroupID  string
	Topic    string
	DedupTTL time.Duration
	Logger   *zap.Logger
}

// Handler receives every ingested entry once.
type Handler func(ctx context.Context, entry model.LogEntry) error

// Consumer ingests entries published by Producers in other processes.
// Messages are committed even when the handler fails, since a log entry that
// cannot be handled now will not be handled on redelivery either.
type Consumer struct {
	reader  messageReader
	handler Handler
	deduper *Deduper
	log     *zap.Logger

	closeOnce sync.Once
}

func NewConsumer(cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
		},
	})
	return newConsumer(reader, cfg, handler)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Consumer{
		reader:  reader,
		handler: handler,
		deduper: NewDeduper(cfg.DedupTTL),
		log:     cfg.Logger.With(zap.String("component", "kafka-ingest")),
	}
}

// Run consumes until ctx is done or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var wire Wire
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		metrics.TransportEntries.WithLabelValues("kafka-ingest", "invalid").Inc()
		c.log.Warn("dropping undecodable log message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}

	eventID := extractEventID(msg, wire)
	if c.deduper.Seen(eventID) {
		metrics.TransportEntries.WithLabelValues("kafka-ingest", "duplicate").Inc()
		return
	}
	if err := c.handler(ctx, wire.Entry()); err != nil {
		metrics.TransportEntries.WithLabelValues("kafka-ingest", "error").Inc()
		c.log.Error("failed to handle ingested log entry", zap.String("event_id", eventID), zap.Error(err))
		return
	}
	c.deduper.MarkSeen(eventID)
	metrics.TransportEntries.WithLabelValues("kafka-ingest", "delivered").Inc()
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.reader.Close() })
	return err
}

func extractEventID(msg kafka.Message, wire Wire) string {
	for _, h := range msg.Headers {
		if h.Key == headerEventID {
			return string(h.Value)
		}
	}
	return wire.EventID
}

// Deduper remembers event ids for a while so redelivered messages are
// ingested once.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewDeduper(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Deduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (d *Deduper) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.cleanupLocked(now)
	_, ok := d.entries[eventID]
	return ok
}

func (d *Deduper) MarkSeen(eventID string) {
	if eventID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[eventID] = d.now()
}

func (d *Deduper) cleanupLocked(now time.Time) {
	for id, seenAt := range d.entries {
		if now.Sub(seenAt) > d.ttl {
			delete(d.entries, id)
		}
	}
}
