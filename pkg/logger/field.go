package logger

import "github.com/superlogger/superlogger/pkg/model"

// Field adjusts an entry before it is dispatched. Metadata helpers add to
// Meta; the rest set the reserved entry attributes.
type Field func(*model.LogEntry)

func Any(key string, value any) Field {
	return func(e *model.LogEntry) {
		if e.Meta == nil {
			e.Meta = make(map[string]any)
		}
		e.Meta[key] = value
	}
}

func String(key, value string) Field { return Any(key, value) }

func Int(key string, value int) Field { return Any(key, value) }

// Err records err under "error". A nil error adds nothing.
func Err(err error) Field {
	if err == nil {
		return func(*model.LogEntry) {}
	}
	return Any("error", err)
}

func Context(context string) Field {
	return func(e *model.LogEntry) { e.Context = context }
}

// InBlock tags the entry with a logblock id.
func InBlock(id string) Field {
	return func(e *model.LogEntry) { e.Logblock = id }
}

func Source(source string) Field {
	return func(e *model.LogEntry) { e.Source = source }
}

func Type(t model.LogType) Field {
	return func(e *model.LogEntry) { e.Type = t }
}

// SkipStore keeps the entry out of durable storage.
func SkipStore() Field {
	return func(e *model.LogEntry) { e.SkipStore = true }
}
