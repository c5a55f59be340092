package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/eventbus"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
	"github.com/superlogger/superlogger/pkg/store"
	"github.com/superlogger/superlogger/pkg/store/memory"
)

const testTimeout = 5 * time.Second

// memoryApp serves commands from a memory store seeded with docs.
func memoryApp(t *testing.T, docs ...model.Document) *app {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	if err := db.EnsureCollection(ctx, sink.DefaultCollectionName, store.CollectionOptions{}); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	coll := db.Collection(sink.DefaultCollectionName)
	for i := range docs {
		if err := coll.InsertOne(ctx, &docs[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return &app{
		openSink: func(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*sink.Sink, error) {
			return sink.New(sink.Options{Store: sink.Handle(db), PollInterval: 10 * time.Millisecond, Logger: zl})
		},
	}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := newRootCommand(a)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []model.Document {
	t.Helper()
	var docs []model.Document
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var doc model.Document
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func doc(ctxName, logblock, content string) model.Document {
	return model.Document{
		Timestamp: time.Now(),
		Level:     model.LevelInfo,
		Context:   ctxName,
		Logblock:  logblock,
		Content:   content,
	}
}

func TestQueryPrintsJSONLines(t *testing.T) {
	a := memoryApp(t,
		doc("USERS", "a", "one"),
		doc("ORDERS", "b", "two"),
		doc("USERS", "c", "three"),
	)

	out, err := execute(t, a, "query", "--context", "USERS", "--order", "asc")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	docs := decodeLines(t, out)
	if len(docs) != 2 || docs[0].Content != "one" || docs[1].Content != "three" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueryGroup(t *testing.T) {
	a := memoryApp(t,
		doc("", "A", "a1"),
		doc("", "B", "b1"),
		doc("", "A", "a2"),
	)

	out, err := execute(t, a, "query", "--group")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 groups, got %q", out)
	}
	var g model.Group
	if err := json.Unmarshal([]byte(lines[0]), &g); err != nil {
		t.Fatalf("decode group: %v", err)
	}
	if g.ID != "A" || len(g.Logs) != 2 {
		t.Fatalf("unexpected first group %+v", g)
	}
}

func TestQueryFieldsPrintsOnlyRequestedFields(t *testing.T) {
	a := memoryApp(t, doc("USERS", "a", "one"))

	out, err := execute(t, a, "query", "--fields", "content,logblock")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &row); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(row) != 3 || row["content"] != "one" || row["logblock"] != "a" || row["_id"] == nil {
		t.Fatalf("expected _id, content and logblock only, got %q", out)
	}
}

func TestQueryRejectsBadFlags(t *testing.T) {
	a := memoryApp(t)
	for _, args := range [][]string{
		{"query", "--level", "loud"},
		{"query", "--order", "sideways"},
		{"query", "--from", "yesterday"},
	} {
		if _, err := execute(t, a, args...); err == nil {
			t.Fatalf("%v: expected an error", args)
		}
	}
}

func TestTailReplaysFromStart(t *testing.T) {
	a := memoryApp(t,
		doc("", "x", "first"),
		doc("", "x", "second"),
		doc("", "x", "third"),
	)

	out, err := execute(t, a, "tail", "--start", "1", "--count", "2", "--ids")
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	docs := decodeLines(t, out)
	if len(docs) != 2 || docs[0].Content != "second" || docs[1].Content != "third" {
		t.Fatalf("unexpected output %q", out)
	}
	if docs[0].ID == "" {
		t.Fatal("expected ids with --ids")
	}
}

func TestTailBus(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := eventbus.NewBus(client, "")

	a := &app{
		openBus: func(ctx context.Context, cfg *config.Config) (*eventbus.Bus, func() error, error) {
			return bus, client.Close, nil
		},
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(t, a, "tail", "--bus", "--count", "1")
		done <- result{out, err}
	}()

	deadline := time.Now().Add(testTimeout)
	for mr.PubSubNumSub(eventbus.DefaultChannel)[eventbus.DefaultChannel] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := bus.Publish(context.Background(), doc("API", "req-1", "published")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("tail: %v", res.err)
		}
		docs := decodeLines(t, res.out)
		if len(docs) != 1 || docs[0].Content != "published" {
			t.Fatalf("unexpected output %q", res.out)
		}
	case <-time.After(testTimeout):
		t.Fatal("tail never returned")
	}
}
