package model

// DefaultContext is used when an entry carries no context.
const DefaultContext = "GENERAL"

type LogType int

const (
	LogTypeBase LogType = iota
	LogTypeRestServer
	LogTypeRestClient
	LogTypeWebSocket
)

func (t LogType) String() string {
	switch t {
	case LogTypeBase:
		return "base"
	case LogTypeRestServer:
		return "rest-server"
	case LogTypeRestClient:
		return "rest-client"
	case LogTypeWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// LogEntry is what collaborators hand to a transport. Message placeholders
// are already resolved by the caller.
type LogEntry struct {
	Level    Level          `json:"level"`
	Message  string         `json:"message"`
	Context  string         `json:"context"`
	Logblock string         `json:"logblock"`
	Type     LogType        `json:"type"`
	Source   string         `json:"source,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`

	// SkipStore keeps the entry out of durable storage. It is never persisted.
	SkipStore bool `json:"-"`
}

// ContextOrDefault returns the entry context, falling back to DefaultContext.
func (e *LogEntry) ContextOrDefault() string {
	if e.Context == "" {
		return DefaultContext
	}
	return e.Context
}
