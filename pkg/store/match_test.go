package store

import (
	"testing"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
)

func TestFilterMatch(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := model.Document{
		Timestamp: ts,
		Level:     model.LevelInfo,
		Context:   "PAYMENTS",
		Logblock:  "charge-abc",
		Type:      model.LogTypeRestClient,
		Content:   "charged card",
		Source:    "worker-1",
	}
	before := ts.Add(-time.Minute)
	after := ts.Add(time.Minute)
	info := model.LevelInfo
	errLevel := model.LevelError
	restClient := model.LogTypeRestClient

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"window", Filter{From: &before, Until: &after}, true},
		{"window inclusive", Filter{From: &ts, Until: &ts}, true},
		{"before window", Filter{From: &after}, false},
		{"context substring", Filter{Context: "PAY"}, true},
		{"context case sensitive", Filter{Context: "pay"}, false},
		{"logblock substring", Filter{Logblock: "abc"}, true},
		{"source", Filter{Source: "worker"}, true},
		{"content", Filter{Content: "card"}, true},
		{"type", Filter{Type: &restClient}, true},
		{"level match", Filter{Level: &info}, true},
		{"level mismatch", Filter{Level: &errLevel}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Match(&doc); got != tc.want {
			t.Fatalf("%s: Match() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestApplySortsAndPaginates(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var docs []model.Document
	for i := 0; i < 5; i++ {
		docs = append(docs, model.Document{Timestamp: base.Add(time.Duration(i) * time.Second), Content: string(rune('a' + i))})
	}

	got := Apply(append([]model.Document(nil), docs...), FindOptions{Order: model.OrderDesc, Skip: 1, Limit: 2})
	if len(got) != 2 || got[0].Content != "d" || got[1].Content != "c" {
		t.Fatalf("unexpected page %+v", got)
	}

	got = Apply(append([]model.Document(nil), docs...), FindOptions{Skip: 10})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil page, got %#v", got)
	}
}

func TestGroupDocuments(t *testing.T) {
	docs := []model.Document{
		{Logblock: "B", Content: "b1"},
		{Logblock: "A", Content: "a1"},
		{Logblock: "B", Content: "b2"},
	}
	groups := GroupDocuments(docs)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ID != "A" || groups[1].ID != "B" {
		t.Fatalf("groups not ordered by id: %s, %s", groups[0].ID, groups[1].ID)
	}
	if len(groups[1].Logs) != 2 || groups[1].Logs[0].Content != "b1" || groups[1].Logs[1].Content != "b2" {
		t.Fatalf("unexpected members %+v", groups[1].Logs)
	}
}

func TestGroupFindReadsWholeDocuments(t *testing.T) {
	docs := []model.Document{
		{ID: "1", Logblock: "A", Content: "a1"},
		{ID: "2", Logblock: "B", Content: "b1"},
		{ID: "3", Logblock: "A", Content: "a2"},
	}
	// find reads only the requested columns, like a SQL backend does
	find := func(opts FindOptions) ([]model.Document, error) {
		out := make([]model.Document, 0, len(docs))
		for _, d := range docs {
			if len(opts.Fields) > 0 {
				d = model.Document{ID: d.ID, Content: d.Content}
			}
			out = append(out, d)
		}
		return out, nil
	}

	groups, err := GroupFind(find, FindOptions{Fields: []string{"content"}})
	if err != nil {
		t.Fatalf("group find: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != "A" || groups[1].ID != "B" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if len(groups[0].Logs) != 2 || len(groups[1].Logs) != 1 {
		t.Fatalf("unexpected group sizes %d, %d", len(groups[0].Logs), len(groups[1].Logs))
	}
}
