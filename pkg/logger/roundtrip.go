package logger

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
)

const (
	// RequestContext tags entries of outbound HTTP calls.
	RequestContext = "REQUEST"
	// WebSocketContext tags entries of inbound websocket events.
	WebSocketContext = "WEBSOCKET"
)

// RoundTripper wraps next so every outbound request is logged as a
// rest-client logblock: one entry for the call and one for its outcome.
// A logblock carried by the request context is reused instead of minting one.
// A nil next uses http.DefaultTransport.
func (l *Logger) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next, log: l}
}

type roundTripper struct {
	next http.RoundTripper
	log  *Logger
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	fields := []Field{Context(RequestContext), Type(model.LogTypeRestClient)}

	var lb *Logblock
	if parent := FromContext(req.Context()); parent != nil {
		lb = rt.log.Logblock(parent.ID(), fields...)
	} else {
		lb = rt.log.NewLogblock(blockName(req.URL)+"-"+method, fields...)
	}

	target := method + " " + redact(req.URL)
	callFields := []Field{String("method", method)}
	if query := req.URL.Query(); len(query) > 0 {
		callFields = append(callFields, Any("query", flatten(query)))
	}
	lb.Info("Request "+target, callFields...)

	start := time.Now()
	resp, err := rt.next.RoundTrip(req)
	latency := Any("latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		lb.Error("Request failed on "+target, Err(err), latency)
		return nil, err
	}

	outcome := "[Success]"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "[Error]"
	}
	lb.Log(model.LevelFromStatus(resp.StatusCode),
		outcome+" "+resp.Status+" Response "+target,
		Int("status", resp.StatusCode), latency)
	return resp, nil
}

// blockName turns a URL into host-path-segments, without scheme or query.
func blockName(u *url.URL) string {
	name := u.Host + u.Path
	return strings.Trim(strings.ReplaceAll(name, "/", "-"), "-")
}

// redact drops the query and any user info from the logged URL.
func redact(u *url.URL) string {
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	clean.Fragment = ""
	return clean.String()
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = strings.Join(v, ",")
	}
	return out
}

// LogEvent records an inbound websocket event in a logblock named after it.
func (l *Logger) LogEvent(event string, data any) {
	lb := l.NewLogblock(event, Context(WebSocketContext), Type(model.LogTypeWebSocket))
	lb.Info("The event " + event + " has been called")
	lb.Info("Event body", Any("data", data))
}
