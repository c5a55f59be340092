package model

import "time"

// Document is a persisted log record. Documents are never mutated after insertion.
type Document struct {
	ID        string    `json:"_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Context   string    `json:"context"`
	Logblock  string    `json:"logblock"`
	Type      LogType   `json:"type"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	Label     string    `json:"label,omitempty"`
}

// Group collects the documents of one logblock.
type Group struct {
	ID   string     `json:"_id"`
	Logs []Document `json:"logs"`
}

// DocumentFields lists the projectable field names of a Document.
var DocumentFields = []string{"_id", "timestamp", "level", "context", "logblock", "type", "content", "source", "hostname", "label"}

// Record is a document reduced to the fields a query asked for. Fields that
// were not asked for are absent rather than zero.
type Record map[string]any

// RecordGroup is a Group whose documents were projected.
type RecordGroup struct {
	ID   string   `json:"_id"`
	Logs []Record `json:"logs"`
}

// Project renders the named fields only. The ID is always kept when set, the
// way document stores return it unless excluded explicitly.
func (d Document) Project(fields []string) Record {
	out := make(Record, len(fields)+1)
	if d.ID != "" {
		out["_id"] = d.ID
	}
	for _, f := range fields {
		switch f {
		case "timestamp":
			out[f] = d.Timestamp
		case "level":
			out[f] = d.Level
		case "context":
			out[f] = d.Context
		case "logblock":
			out[f] = d.Logblock
		case "type":
			out[f] = d.Type
		case "content":
			out[f] = d.Content
		case "source":
			out[f] = d.Source
		case "hostname":
			out[f] = d.Hostname
		case "label":
			out[f] = d.Label
		}
	}
	return out
}

// Project renders every member of the group with the named fields only.
func (g Group) Project(fields []string) RecordGroup {
	logs := make([]Record, 0, len(g.Logs))
	for _, doc := range g.Logs {
		logs = append(logs, doc.Project(fields))
	}
	return RecordGroup{ID: g.ID, Logs: logs}
}

func isDocumentField(name string) bool {
	for _, f := range DocumentFields {
		if f == name {
			return true
		}
	}
	return false
}
