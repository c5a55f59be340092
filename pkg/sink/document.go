package sink

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Decolorize removes ANSI color sequences.
func Decolorize(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

var keyEscaper = strings.NewReplacer(".", "[dot]", "$", "[$]")

// CleanMeta rewrites keys that are illegal in stored documents and turns
// error values into their messages. The input is not modified.
func CleanMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[keyEscaper.Replace(k)] = cleanValue(v)
	}
	return out
}

func cleanValue(v any) any {
	switch val := v.(type) {
	case error:
		return val.Error()
	case map[string]any:
		return CleanMeta(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = cleanValue(item)
		}
		return items
	default:
		return v
	}
}

// Content joins a message with its serialized metadata.
func Content(message string, meta map[string]any, decolorize bool) string {
	if decolorize {
		message = Decolorize(message)
	}
	if len(meta) == 0 {
		return message
	}
	cleaned := CleanMeta(meta)
	encoded, err := json.Marshal(cleaned)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", cleaned))
	}
	if message == "" {
		return string(encoded)
	}
	return message + " " + string(encoded)
}

func (s *Sink) buildDocument(entry model.LogEntry, now time.Time) model.Document {
	doc := model.Document{
		Timestamp: now,
		Level:     entry.Level,
		Context:   entry.ContextOrDefault(),
		Logblock:  entry.Logblock,
		Type:      entry.Type,
		Content:   Content(entry.Message, entry.Meta, s.opts.Decolorize),
		Source:    entry.Source,
		Label:     s.opts.Label,
	}
	if s.opts.StoreHost {
		doc.Hostname = s.hostname
	}
	return doc
}
