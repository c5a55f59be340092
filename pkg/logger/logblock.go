package logger

import (
	"context"

	"github.com/google/uuid"

	"github.com/superlogger/superlogger/pkg/model"
)

// Logblock groups the entries of one unit of work, such as a request, under
// a shared correlation id.
type Logblock struct {
	emitter

	logger   *Logger
	id       string
	defaults []Field
}

// NewLogblock mints a logblock id of the form name-<shortid>. The fields are
// applied to every entry of the block, before the per-call fields.
func (l *Logger) NewLogblock(name string, fields ...Field) *Logblock {
	return l.Logblock(name+"-"+ShortID(), fields...)
}

// Logblock attaches to an existing logblock id.
func (l *Logger) Logblock(id string, fields ...Field) *Logblock {
	lb := &Logblock{logger: l, id: id, defaults: fields}
	lb.emitter = emitter{lb}
	return lb
}

func (b *Logblock) ID() string { return b.id }

func (b *Logblock) Log(level model.Level, msg string, fields ...Field) {
	b.emitLevel(level, msg, fields)
}

func (b *Logblock) emitLevel(level model.Level, msg string, fields []Field) {
	all := make([]Field, 0, len(b.defaults)+len(fields)+1)
	all = append(all, b.defaults...)
	all = append(all, fields...)
	all = append(all, InBlock(b.id))
	if b.logger.caller {
		all = append([]Field{Source(callerSource(3))}, all...)
	}
	b.logger.emitLevel(level, msg, all)
}

// ShortID returns the first segment of a random UUID.
func ShortID() string {
	return uuid.NewString()[:8]
}

type logblockKey struct{}

func WithLogblock(ctx context.Context, lb *Logblock) context.Context {
	return context.WithValue(ctx, logblockKey{}, lb)
}

// FromContext returns the logblock stored in ctx, or nil.
func FromContext(ctx context.Context) *Logblock {
	lb, _ := ctx.Value(logblockKey{}).(*Logblock)
	return lb
}
