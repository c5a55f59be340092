// Package console prints entries to the terminal with the zap console encoder.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/superlogger/superlogger/pkg/model"
)

const timeLayout = "2006/01/02_15:04:05"

var levelColors = map[model.Level]int{
	model.LevelDebug:     32,
	model.LevelInfo:      34,
	model.LevelNotice:    90,
	model.LevelWarning:   33,
	model.LevelError:     31,
	model.LevelCritical:  31,
	model.LevelAlert:     31,
	model.LevelEmergency: 31,
}

type Options struct {
	MinLevel model.Level
	Color    bool
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

type Transport struct {
	min    model.Level
	color  bool
	stdout io.Writer
	stderr io.Writer
	enc    zapcore.Encoder
	now    func() time.Time

	mu sync.Mutex
}

func New(opts Options) *Transport {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	return &Transport{
		min:    opts.MinLevel,
		color:  opts.Color,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		enc:    enc,
		now:    time.Now,
	}
}

func (t *Transport) Name() string { return "console" }

func (t *Transport) Enabled(level model.Level) bool { return level.Enabled(t.min) }

// Log writes the entry synchronously. Error and more severe levels go to
// stderr.
func (t *Transport) Log(entry model.LogEntry, done func(error)) bool {
	err := t.write(entry)
	if done != nil {
		done(err)
	}
	return true
}

func (t *Transport) write(entry model.LogEntry) error {
	buf, err := t.enc.EncodeEntry(zapcore.Entry{
		Time:    t.now(),
		Message: t.message(entry),
	}, metaFields(entry.Meta))
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	defer buf.Free()

	out := t.stdout
	if entry.Level.Enabled(model.LevelError) {
		out = t.stderr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = out.Write(buf.Bytes())
	return err
}

func (t *Transport) message(entry model.LogEntry) string {
	var b strings.Builder
	level := entry.Level.String()
	if t.color {
		fmt.Fprintf(&b, "\x1b[%dm%s\x1b[39m", levelColors[entry.Level], level)
	} else {
		b.WriteString(level)
	}
	b.WriteString(": ")
	if entry.Context != "" {
		fmt.Fprintf(&b, "[%s] ", entry.Context)
	}
	if entry.Logblock != "" {
		fmt.Fprintf(&b, "[%s] ", entry.Logblock)
	}
	b.WriteString(strings.TrimSpace(entry.Message))
	return b.String()
}

// metaFields renders metadata in key order so output is stable.
func metaFields(meta map[string]any) []zapcore.Field {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zapcore.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := meta[k].(error); ok {
			fields = append(fields, zap.String(k, err.Error()))
			continue
		}
		fields = append(fields, zap.Any(k, meta[k]))
	}
	return fields
}

func (t *Transport) Close(ctx context.Context) error { return nil }
