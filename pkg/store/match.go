package store

import (
	"sort"
	"strings"

	"github.com/superlogger/superlogger/pkg/model"
)

// Match evaluates the filter against a document in process. Backends that
// cannot push a filter down to the server use it.
func (f Filter) Match(doc *model.Document) bool {
	if f.From != nil && doc.Timestamp.Before(*f.From) {
		return false
	}
	if f.Until != nil && doc.Timestamp.After(*f.Until) {
		return false
	}
	if f.Context != "" && !strings.Contains(doc.Context, f.Context) {
		return false
	}
	if f.Logblock != "" && !strings.Contains(doc.Logblock, f.Logblock) {
		return false
	}
	if f.Source != "" && !strings.Contains(doc.Source, f.Source) {
		return false
	}
	if f.Content != "" && !strings.Contains(doc.Content, f.Content) {
		return false
	}
	if f.Type != nil && doc.Type != *f.Type {
		return false
	}
	if f.Level != nil && doc.Level != *f.Level {
		return false
	}
	return true
}

// Apply sorts and paginates docs in place following opts.
func Apply(docs []model.Document, opts FindOptions) []model.Document {
	switch opts.Order {
	case model.OrderAsc:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Timestamp.Before(docs[j].Timestamp) })
	case model.OrderDesc:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Timestamp.After(docs[j].Timestamp) })
	}
	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			return []model.Document{}
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs
}

// GroupFind runs find over whole documents and groups the page by logblock,
// for backends that paginate on the server and group in process.
func GroupFind(find func(FindOptions) ([]model.Document, error), opts FindOptions) ([]model.Group, error) {
	opts.Fields = nil
	docs, err := find(opts)
	if err != nil {
		return nil, err
	}
	return GroupDocuments(docs), nil
}

// GroupDocuments partitions docs by logblock, keeping their relative order
// inside each group. Groups are sorted by logblock.
func GroupDocuments(docs []model.Document) []model.Group {
	index := make(map[string]int)
	groups := make([]model.Group, 0)
	for _, doc := range docs {
		i, ok := index[doc.Logblock]
		if !ok {
			i = len(groups)
			index[doc.Logblock] = i
			groups = append(groups, model.Group{ID: doc.Logblock})
		}
		groups[i].Logs = append(groups[i].Logs, doc)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}
