// Package kafka ships entries to a Kafka topic and ingests entries shipped by
// other processes.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
)

const (
	headerEventID = "sl-event-id"
	headerLevel   = "sl-level"

	defaultBatchSize = 100
	defaultQueueSize = 1000
)

var ErrQueueFull = errors.New("kafka: delivery queue is full")

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers   []string
	ClientID  string
	Topic     string
	MinLevel  model.Level
	BatchSize int
	QueueSize int
	Logger    *zap.Logger
}

// Wire is the JSON form of an entry on the topic.
type Wire struct {
	EventID  string         `json:"event_id"`
	Time     time.Time      `json:"time"`
	Level    model.Level    `json:"level"`
	Message  string         `json:"message"`
	Context  string         `json:"context"`
	Logblock string         `json:"logblock"`
	Type     model.LogType  `json:"type"`
	Source   string         `json:"source,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

func (w Wire) Entry() model.LogEntry {
	return model.LogEntry{
		Level:    w.Level,
		Message:  w.Message,
		Context:  w.Context,
		Logblock: w.Logblock,
		Type:     w.Type,
		Source:   w.Source,
		Meta:     w.Meta,
	}
}

type pending struct {
	msg  kafka.Message
	done func(error)
}

// Producer is a transport publishing entries keyed by logblock, so every
// entry of a logblock lands on the same partition in order.
type Producer struct {
	writer    messageWriter
	min       model.Level
	batchSize int
	log       *zap.Logger
	now       func() time.Time
	queue     chan pending

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewProducer(cfg ProducerConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(writer, cfg)
}

func newProducer(writer messageWriter, cfg ProducerConfig) *Producer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Producer{
		writer:    writer,
		min:       cfg.MinLevel,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger.With(zap.String("transport", "kafka")),
		now:       time.Now,
		queue:     make(chan pending, cfg.QueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Enabled(level model.Level) bool { return level.Enabled(p.min) }

func (p *Producer) Log(entry model.LogEntry, done func(error)) bool {
	if done == nil {
		done = func(error) {}
	}
	msg, err := p.message(entry)
	if err != nil {
		done(err)
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- pending{msg: msg, done: done}:
		return true
	default:
		done(ErrQueueFull)
		return false
	}
}

func (p *Producer) message(entry model.LogEntry) (kafka.Message, error) {
	wire := Wire{
		EventID:  uuid.NewString(),
		Time:     p.now(),
		Level:    entry.Level,
		Message:  entry.Message,
		Context:  entry.ContextOrDefault(),
		Logblock: entry.Logblock,
		Type:     entry.Type,
		Source:   entry.Source,
		Meta:     sink.CleanMeta(entry.Meta),
	}
	value, err := json.Marshal(wire)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode entry: %w", err)
	}
	return kafka.Message{
		Key:   []byte(wire.Logblock),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(wire.EventID)},
			{Key: headerLevel, Value: []byte(wire.Level.String())},
		},
		Time: wire.Time,
	}, nil
}

// run writes queued messages in batches of whatever is available.
func (p *Producer) run() {
	defer p.wg.Done()
	for first := range p.queue {
		batch := []pending{first}
	fill:
		for len(batch) < p.batchSize {
			select {
			case next, ok := <-p.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		p.flush(batch)
	}
}

func (p *Producer) flush(batch []pending) {
	msgs := make([]kafka.Message, len(batch))
	for i, b := range batch {
		msgs[i] = b.msg
	}
	err := p.writer.WriteMessages(context.Background(), msgs...)
	if err != nil {
		p.log.Error("failed to publish log entries", zap.Int("entries", len(batch)), zap.Error(err))
	}
	for _, b := range batch {
		b.done(err)
	}
}

// Close flushes queued entries and closes the writer.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.writer.Close()
}
