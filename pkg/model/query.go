package model

import (
	"fmt"
	"time"
)

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// GroupByLogblock is the only supported grouping key.
const GroupByLogblock = "logblock"

const (
	DefaultQueryLimit  = 10
	DefaultQueryWindow = 24 * time.Hour
)

// QuerySpec describes a historical query. Zero values are filled by Normalize.
type QuerySpec struct {
	From     time.Time
	Until    time.Time
	Context  string
	Logblock string
	Source   string
	Content  string
	Type     *LogType
	Level    *Level
	Limit    int
	Start    int
	Order    Order
	Fields   []string
	Group    string
}

// Normalize applies the query defaults relative to now.
func (q QuerySpec) Normalize(now time.Time) (QuerySpec, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Start < 0 {
		q.Start = 0
	}
	if q.Until.IsZero() {
		q.Until = now
	}
	if q.From.IsZero() {
		q.From = q.Until.Add(-DefaultQueryWindow)
	}
	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return q, fmt.Errorf("invalid order %q", q.Order)
	}
	if q.Group != "" && q.Group != GroupByLogblock {
		return q, fmt.Errorf("unsupported group key %q", q.Group)
	}
	for _, f := range q.Fields {
		if !isDocumentField(f) {
			return q, fmt.Errorf("unknown field %q", f)
		}
	}
	return q, nil
}
