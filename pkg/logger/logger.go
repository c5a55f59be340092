// Package logger is the application facing side of the pipeline. A Logger
// builds entries and fans them out to every transport whose minimum level
// lets them through.
package logger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/metrics"
	"github.com/superlogger/superlogger/pkg/model"
)

// Transport delivers entries to one destination.
type Transport interface {
	Name() string
	Enabled(level model.Level) bool
	// Log must not block on I/O. done receives the delivery result.
	Log(entry model.LogEntry, done func(error)) bool
	Close(ctx context.Context) error
}

type Option func(*Logger)

// WithTransport adds a destination. Transports receive entries in the order
// they were added.
func WithTransport(t Transport) Option {
	return func(l *Logger) { l.transports = append(l.transports, t) }
}

// WithOperational sets where delivery failures are reported.
func WithOperational(z *zap.Logger) Option {
	return func(l *Logger) { l.ops = z }
}

// WithCaller fills Source with the calling file and line when unset.
func WithCaller() Option {
	return func(l *Logger) { l.caller = true }
}

// WithStoreErrorCheck tells RecoverAndLog which panics came from the store,
// so the resulting entry is not written back to it.
func WithStoreErrorCheck(fn func(error) bool) Option {
	return func(l *Logger) { l.isStoreError = fn }
}

type Logger struct {
	emitter

	transports   []Transport
	ops          *zap.Logger
	caller       bool
	isStoreError func(error) bool
	defaults     []Field
}

func New(opts ...Option) *Logger {
	l := &Logger{ops: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.emitter = emitter{l}
	return l
}

// With returns a logger that applies fields to every entry before the
// per-call fields.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.defaults = append(append([]Field(nil), l.defaults...), fields...)
	child.emitter = emitter{&child}
	return &child
}

// Log emits an entry at level.
func (l *Logger) Log(level model.Level, msg string, fields ...Field) {
	l.emitLevel(level, msg, fields)
}

func (l *Logger) emitLevel(level model.Level, msg string, fields []Field) {
	entry := model.LogEntry{Level: level, Message: msg}
	for _, f := range l.defaults {
		f(&entry)
	}
	for _, f := range fields {
		f(&entry)
	}
	if l.caller && entry.Source == "" {
		entry.Source = callerSource(3)
	}
	l.Write(entry)
}

// Write dispatches a fully built entry.
func (l *Logger) Write(entry model.LogEntry) {
	if entry.Context == "" {
		entry.Context = model.DefaultContext
	}
	for _, t := range l.transports {
		if !t.Enabled(entry.Level) {
			continue
		}
		name := t.Name()
		accepted := t.Log(entry, func(err error) {
			if err != nil {
				metrics.TransportEntries.WithLabelValues(name, "error").Inc()
				l.ops.Warn("transport delivery failed",
					zap.String("transport", name),
					zap.String("level", entry.Level.String()),
					zap.Error(err),
				)
				return
			}
			metrics.TransportEntries.WithLabelValues(name, "delivered").Inc()
		})
		if !accepted {
			metrics.TransportEntries.WithLabelValues(name, "rejected").Inc()
		}
	}
}

// Close closes every transport.
func (l *Logger) Close(ctx context.Context) error {
	var errs []error
	for _, t := range l.transports {
		if err := t.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RecoverAndLog must be deferred directly. It logs a recovered panic at
// emergency level and lets the goroutine continue unwinding normally.
func (l *Logger) RecoverAndLog() {
	r := recover()
	if r == nil {
		return
	}
	fields := []Field{Any("panic", fmt.Sprint(r)), String("stack", string(debug.Stack()))}
	if err, ok := r.(error); ok && l.isStoreError != nil && l.isStoreError(err) {
		fields = append(fields, SkipStore())
	}
	l.Emergency("recovered from panic", fields...)
}

func callerSource(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

type levelEmitter interface {
	emitLevel(level model.Level, msg string, fields []Field)
}

// emitter provides the per-level methods. Callers are exactly three frames
// above callerSource, which WithCaller relies on.
type emitter struct {
	target levelEmitter
}

func (e emitter) Emergency(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelEmergency, msg, fields)
}
func (e emitter) Alert(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelAlert, msg, fields)
}
func (e emitter) Critical(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelCritical, msg, fields)
}
func (e emitter) Error(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelError, msg, fields)
}
func (e emitter) Warning(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelWarning, msg, fields)
}
func (e emitter) Notice(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelNotice, msg, fields)
}
func (e emitter) Info(msg string, fields ...Field) { e.target.emitLevel(model.LevelInfo, msg, fields) }
func (e emitter) Debug(msg string, fields ...Field) {
	e.target.emitLevel(model.LevelDebug, msg, fields)
}
