// Package mail sends entries as email, typically with a high minimum level
// so only incidents reach a mailbox.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
)

const (
	bodyTimeLayout   = "2006/01/02_15:04:05"
	defaultQueueSize = 100
)

var (
	ErrNoRecipients = errors.New("mail: at least one recipient is required")
	ErrQueueFull    = errors.New("mail: delivery queue is full")
)

type Options struct {
	From     string
	To       []string
	Subject  string
	HTML     bool
	MinLevel model.Level
	Sender   Sender

	QueueSize int
	Logger    *zap.Logger
}

type delivery struct {
	entry model.LogEntry
	done  func(error)
}

type Transport struct {
	opts  Options
	log   *zap.Logger
	now   func() time.Time
	queue chan delivery

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options) (*Transport, error) {
	if len(opts.To) == 0 {
		return nil, ErrNoRecipients
	}
	if opts.Sender == nil {
		return nil, errors.New("mail: a sender is required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	t := &Transport{
		opts:  opts,
		log:   opts.Logger.With(zap.String("transport", "mail")),
		now:   time.Now,
		queue: make(chan delivery, opts.QueueSize),
	}
	t.wg.Add(1)
	go t.run()
	return t, nil
}

func (t *Transport) Name() string { return "mail" }

func (t *Transport) Enabled(level model.Level) bool { return level.Enabled(t.opts.MinLevel) }

// Log queues the entry for delivery. It is rejected when the queue is full
// or the transport is closed.
func (t *Transport) Log(entry model.LogEntry, done func(error)) bool {
	if done == nil {
		done = func(error) {}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.queue <- delivery{entry: entry, done: done}:
		return true
	default:
		done(ErrQueueFull)
		return false
	}
}

func (t *Transport) run() {
	defer t.wg.Done()
	for d := range t.queue {
		subject, body := Compose(d.entry, t.opts.Subject, t.now())
		msg := Message(t.opts.From, t.opts.To, subject, body, t.opts.HTML)
		err := t.opts.Sender.Send(context.Background(), t.opts.From, t.opts.To, msg)
		if err != nil {
			t.log.Error("failed to send log mail", zap.String("subject", subject), zap.Error(err))
		}
		d.done(err)
	}
}

// Close stops accepting entries and waits for queued mail to be sent.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Compose builds the subject and plain text body of an entry. Color codes
// are removed from both.
func Compose(entry model.LogEntry, subject string, now time.Time) (string, string) {
	level := entry.Level.String()
	message := sink.Decolorize(entry.Message)

	var body strings.Builder
	fmt.Fprintf(&body, "%s %s: %s", now.Format(bodyTimeLayout), level, message)
	if len(entry.Meta) > 0 {
		if meta, err := json.Marshal(sink.CleanMeta(entry.Meta)); err == nil {
			body.WriteString("\n")
			body.Write(meta)
		}
	}
	extras := map[string]string{}
	if entry.Context != "" {
		extras["context"] = entry.Context
	}
	if entry.Logblock != "" {
		extras["logblock"] = entry.Logblock
	}
	if len(extras) > 0 {
		encoded, _ := json.Marshal(extras)
		body.WriteString("\n")
		body.Write(encoded)
	}

	return fmt.Sprintf("%s %s: %s", level, subject, message), body.String()
}

// Message renders headers and body as an RFC 5322 message.
func Message(from string, to []string, subject, body string, html bool) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	if html {
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}
