package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/logger"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
	"github.com/superlogger/superlogger/pkg/store/memory"
)

const testTimeout = 5 * time.Second

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type docResponse struct {
	ID       string `json:"_id"`
	Level    string `json:"level"`
	Context  string `json:"context"`
	Logblock string `json:"logblock"`
	Content  string `json:"content"`
}

type groupResponse struct {
	ID   string        `json:"_id"`
	Logs []docResponse `json:"logs"`
}

func newTestSink(t *testing.T) *sink.Sink {
	t.Helper()
	s, err := sink.New(sink.Options{
		Store:        sink.Handle(memory.New()),
		PollInterval: 10 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = s.Close(ctx)
	})
	select {
	case <-s.Ready():
	case <-time.After(testTimeout):
		t.Fatal("sink never became ready")
	}
	return s
}

func seed(t *testing.T, s *sink.Sink, entries ...model.LogEntry) {
	t.Helper()
	for _, e := range entries {
		done := make(chan error, 1)
		if !s.Log(e, func(err error) { done <- err }) {
			t.Fatal("log was rejected")
		}
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("log: %v", err)
			}
		case <-time.After(testTimeout):
			t.Fatal("write never completed")
		}
	}
}

func get(t *testing.T, server *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	cfg := &config.Config{}
	server := NewServer(newTestSink(t), nil, cfg, zap.NewNop())

	recorder := get(t, server, "/health")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var response healthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" || response.Store != "ready" {
		t.Fatalf("unexpected health %+v", response)
	}
}

func TestListLogsFiltersAndPages(t *testing.T) {
	s := newTestSink(t)
	seed(t, s,
		model.LogEntry{Level: model.LevelInfo, Context: "USERS", Logblock: "a", Message: "one"},
		model.LogEntry{Level: model.LevelError, Context: "ORDERS", Logblock: "b", Message: "two"},
		model.LogEntry{Level: model.LevelInfo, Context: "USERS", Logblock: "a", Message: "three"},
		model.LogEntry{Level: model.LevelInfo, Context: "USERS", Logblock: "c", Message: "four"},
	)
	cfg := &config.Config{API: config.APIConfig{PageSize: 2}}
	server := NewServer(s, nil, cfg, zap.NewNop())

	recorder := get(t, server, "/logs?context=USERS&order=asc")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var firstPage []docResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &firstPage); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(firstPage) != 2 || firstPage[0].Content != "one" || firstPage[1].Content != "three" {
		t.Fatalf("unexpected first page %+v", firstPage)
	}

	recorder = get(t, server, "/logs?context=USERS&order=asc&page=2")
	var secondPage []docResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &secondPage); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(secondPage) != 1 || secondPage[0].Content != "four" {
		t.Fatalf("unexpected second page %+v", secondPage)
	}

	recorder = get(t, server, "/logs?level=error")
	var errorsOnly []docResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &errorsOnly); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Content != "two" || errorsOnly[0].Level != "error" {
		t.Fatalf("unexpected level filter result %+v", errorsOnly)
	}
}

func TestListLogsEmptyIsArray(t *testing.T) {
	server := NewServer(newTestSink(t), nil, &config.Config{}, zap.NewNop())

	recorder := get(t, server, "/logs?context=NOTHING")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if body := strings.TrimSpace(recorder.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestListLogsRejectsBadParams(t *testing.T) {
	server := NewServer(newTestSink(t), nil, &config.Config{}, zap.NewNop())

	for _, target := range []string{
		"/logs?level=loud",
		"/logs?type=99",
		"/logs?from=yesterday",
		"/logs?page=0",
		"/logs?order=sideways",
		"/logs/stream?start=-1",
	} {
		recorder := get(t, server, target)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, recorder.Code)
		}
		var response errorResponse
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("%s: failed to decode response: %v", target, err)
		}
		if response.Error == "" {
			t.Fatalf("%s: expected an error message", target)
		}
	}
}

func TestListLogsAcceptsUnixMillis(t *testing.T) {
	s := newTestSink(t)
	seed(t, s, model.LogEntry{Level: model.LevelInfo, Logblock: "a", Message: "recent"})
	server := NewServer(s, nil, &config.Config{}, zap.NewNop())

	from := time.Now().Add(-time.Hour).UnixMilli()
	recorder := get(t, server, "/logs?from="+strconv.FormatInt(from, 10))
	var docs []docResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &docs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	until := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	recorder = get(t, server, "/logs?until="+until)
	docs = nil
	if err := json.Unmarshal(recorder.Body.Bytes(), &docs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents before %s, got %d", until, len(docs))
	}
}

func TestByBlockGroups(t *testing.T) {
	s := newTestSink(t)
	seed(t, s,
		model.LogEntry{Level: model.LevelInfo, Logblock: "A", Message: "a1"},
		model.LogEntry{Level: model.LevelInfo, Logblock: "B", Message: "b1"},
		model.LogEntry{Level: model.LevelInfo, Logblock: "A", Message: "a2"},
	)
	server := NewServer(s, nil, &config.Config{}, zap.NewNop())

	recorder := get(t, server, "/logs/by-block")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var groups []groupResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &groups); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	sizes := map[string]int{}
	for _, g := range groups {
		sizes[g.ID] = len(g.Logs)
	}
	if len(sizes) != 2 || sizes["A"] != 2 || sizes["B"] != 1 {
		t.Fatalf("unexpected groups %v", sizes)
	}
}

func TestStreamWebsocket(t *testing.T) {
	s := newTestSink(t)
	server := NewServer(s, nil, &config.Config{}, zap.NewNop())
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/logs/stream?ids=true"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	seed(t, s, model.LogEntry{Level: model.LevelNotice, Logblock: "ws", Message: "streamed"})

	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	var msg struct {
		Type string       `json:"type"`
		Log  *docResponse `json:"log"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "log" || msg.Log == nil || msg.Log.Content != "streamed" || msg.Log.ID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := NewServer(newTestSink(t), nil, &config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/logs", nil)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestListLogsWithFields(t *testing.T) {
	s := newTestSink(t)
	seed(t, s, model.LogEntry{Level: model.LevelDebug, Logblock: "a", Message: "only content"})
	server := NewServer(s, nil, &config.Config{}, zap.NewNop())

	recorder := get(t, server, "/logs?fields=content,%20level")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var rows []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &rows); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rows) != 1 || rows[0]["content"] != "only content" || rows[0]["level"] != "debug" {
		t.Fatalf("unexpected rows %s", recorder.Body.String())
	}
	if _, ok := rows[0]["context"]; ok {
		t.Fatalf("context was not asked for: %s", recorder.Body.String())
	}

	recorder = get(t, server, "/logs?fields=body")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for an unknown field, got %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestStreamWebsocketRecordsClientEvents(t *testing.T) {
	s := newTestSink(t)
	log := logger.New(logger.WithTransport(s))
	server := NewServer(s, log, &config.Config{}, zap.NewNop())
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/logs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","topic":"orders"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	wsType := model.LogTypeWebSocket
	deadline := time.Now().Add(testTimeout)
	for {
		res, err := s.Query(context.Background(), model.QuerySpec{Context: logger.WebSocketContext, Type: &wsType})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(res.Documents) == 2 {
			for _, doc := range res.Documents {
				if !strings.HasPrefix(doc.Logblock, "subscribe-") {
					t.Fatalf("unexpected logblock %q", doc.Logblock)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 websocket event documents, got %d", len(res.Documents))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
