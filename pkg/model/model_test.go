package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	for _, level := range Levels() {
		parsed, err := ParseLevel(level.String())
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", level, err)
		}
		if parsed != level {
			t.Fatalf("expected %v, got %v", level, parsed)
		}
	}
	if level, err := ParseLevel(" WARNING "); err != nil || level != LevelWarning {
		t.Fatalf("expected warning, got %v, %v", level, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestLevelEnabled(t *testing.T) {
	if !LevelError.Enabled(LevelWarning) {
		t.Fatal("error should pass a warning threshold")
	}
	if LevelInfo.Enabled(LevelWarning) {
		t.Fatal("info should not pass a warning threshold")
	}
	for _, level := range Levels() {
		if !level.Enabled(LowestLevel) {
			t.Fatalf("%v should pass the lowest threshold", level)
		}
	}
}

func TestLevelJSON(t *testing.T) {
	data, err := json.Marshal(LevelCritical)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"critical"` {
		t.Fatalf("expected level name, got %s", data)
	}
	var level Level
	if err := json.Unmarshal([]byte(`"notice"`), &level); err != nil || level != LevelNotice {
		t.Fatalf("expected notice, got %v, %v", level, err)
	}
}

func TestLevelFromStatus(t *testing.T) {
	cases := map[int]Level{200: LevelDebug, 302: LevelDebug, 404: LevelWarning, 503: LevelError}
	for status, want := range cases {
		if got := LevelFromStatus(status); got != want {
			t.Fatalf("status %d: expected %v, got %v", status, want, got)
		}
	}
}

func TestContextOrDefault(t *testing.T) {
	e := LogEntry{}
	if e.ContextOrDefault() != DefaultContext {
		t.Fatalf("expected %q, got %q", DefaultContext, e.ContextOrDefault())
	}
	e.Context = "DB"
	if e.ContextOrDefault() != "DB" {
		t.Fatalf("expected DB, got %q", e.ContextOrDefault())
	}
}

func TestQueryNormalizeDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q, err := QuerySpec{Start: -3}.Normalize(now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if q.Limit != DefaultQueryLimit || q.Start != 0 || q.Order != OrderDesc {
		t.Fatalf("unexpected defaults: %+v", q)
	}
	if !q.Until.Equal(now) || !q.From.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected window %v - %v", q.From, q.Until)
	}
}

func TestQueryNormalizeRejectsInvalid(t *testing.T) {
	now := time.Now()
	if _, err := (QuerySpec{Order: "random"}).Normalize(now); err == nil {
		t.Fatal("expected an error for an invalid order")
	}
	if _, err := (QuerySpec{Group: "context"}).Normalize(now); err == nil {
		t.Fatal("expected an error for an unsupported group key")
	}
}

func TestRetentionEffective(t *testing.T) {
	ttl := int32(60)
	r := RetentionConfig{Capped: true, ExpireAfterSeconds: &ttl}.Effective()
	if r.ExpireAfterSeconds != nil {
		t.Fatal("capped retention must drop the expiry")
	}
	if r.CappedSize != DefaultCappedSize {
		t.Fatalf("expected default capped size, got %d", r.CappedSize)
	}

	r = RetentionConfig{ExpireAfterSeconds: &ttl}.Effective()
	if r.ExpireAfterSeconds == nil || *r.ExpireAfterSeconds != 60 {
		t.Fatal("uncapped retention keeps its expiry")
	}
}

func TestDocumentProject(t *testing.T) {
	doc := Document{ID: "1", Content: "hello", Level: LevelInfo, Context: "API"}
	out := doc.Project([]string{"content", "level"})
	if len(out) != 3 || out["_id"] != "1" || out["content"] != "hello" || out["level"] != LevelInfo {
		t.Fatalf("unexpected projection %v", out)
	}
	if _, ok := out["context"]; ok {
		t.Fatal("context was not asked for")
	}

	raw, err := json.Marshal(Document{Content: "hello", Level: LevelDebug}.Project([]string{"content"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"content":"hello"}` {
		t.Fatalf("unexpected json %s", raw)
	}
}

func TestGroupProject(t *testing.T) {
	g := Group{ID: "lb", Logs: []Document{{ID: "1", Content: "a"}, {ID: "2", Content: "b"}}}
	out := g.Project([]string{"content"})
	if out.ID != "lb" || len(out.Logs) != 2 || out.Logs[1]["content"] != "b" {
		t.Fatalf("unexpected group %+v", out)
	}
}

func TestNormalizeRejectsUnknownField(t *testing.T) {
	if _, err := (QuerySpec{Fields: []string{"content", "body"}}).Normalize(time.Now()); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
	if _, err := (QuerySpec{Fields: DocumentFields}).Normalize(time.Now()); err != nil {
		t.Fatalf("every document field is projectable: %v", err)
	}
}
