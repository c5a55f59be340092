// Package eventbus fans persisted documents out over redis pub/sub so other
// processes can follow the log without polling the store.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/model"
)

const (
	DefaultChannel = "superlogger:logs"

	EventLogPersisted = "log.persisted"

	forwardBuffer = 1024
)

type Event struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Document decodes the document carried by a log.persisted event.
func (e Event) Document() (model.Document, error) {
	var doc model.Document
	err := json.Unmarshal(e.Data, &doc)
	return doc, err
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

type Bus struct {
	client  redis.UniversalClient
	channel string
}

func NewBus(client redis.UniversalClient, channel string) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bus{client: client, channel: channel}
}

func (b *Bus) Publish(ctx context.Context, doc model.Document) error {
	event, err := NewEvent(EventLogPersisted, doc)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe delivers persisted documents until ctx is done. Undecodable
// messages are skipped.
func (b *Bus) Subscribe(ctx context.Context) <-chan model.Document {
	sub := b.client.Subscribe(ctx, b.channel)
	ch := make(chan model.Document, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			if event.Type != EventLogPersisted {
				continue
			}
			doc, err := event.Document()
			if err != nil {
				continue
			}
			select {
			case ch <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}

// Forwarder returns a callback suitable for a sink's logged notification. It
// never blocks the caller: documents are published from a background
// goroutine and dropped, with a warning, when the buffer is full.
func (b *Bus) Forwarder(ctx context.Context, log *zap.Logger) func(model.Document) {
	if log == nil {
		log = zap.NewNop()
	}
	queue := make(chan model.Document, forwardBuffer)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case doc := <-queue:
				if err := b.Publish(ctx, doc); err != nil && ctx.Err() == nil {
					log.Warn("failed to publish persisted log", zap.String("logblock", doc.Logblock), zap.Error(err))
				}
			}
		}
	}()
	return func(doc model.Document) {
		select {
		case queue <- doc:
		default:
			log.Warn("event bus buffer full, dropping persisted log", zap.String("logblock", doc.Logblock))
		}
	}
}
