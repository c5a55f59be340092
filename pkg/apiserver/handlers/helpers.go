package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/superlogger/superlogger/pkg/model"
)

// parsePage returns the zero based offset of a one based page.
func parsePage(value string, pageSize int) (int, error) {
	if value == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(value)
	if err != nil || page <= 0 {
		return 0, fmt.Errorf("invalid page %q", value)
	}
	return (page - 1) * pageSize, nil
}

// parseTime accepts RFC3339 or unix milliseconds.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", value)
	}
	return t, nil
}

func parseLevel(value string) (*model.Level, error) {
	if value == "" {
		return nil, nil
	}
	level, err := model.ParseLevel(value)
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// parseType accepts the numeric log type or its name.
func parseType(value string) (*model.LogType, error) {
	if value == "" {
		return nil, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		t := model.LogType(n)
		if t.String() == "unknown" {
			return nil, fmt.Errorf("invalid type %q", value)
		}
		return &t, nil
	}
	for t := model.LogTypeBase; t <= model.LogTypeWebSocket; t++ {
		if strings.EqualFold(t.String(), value) {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid type %q", value)
}

func parseOffset(value string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return nil, fmt.Errorf("invalid start %q", value)
	}
	return &parsed, nil
}

func parseBool(value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(value)
}

// parseFields splits a comma separated field list, dropping empty names.
func parseFields(value string) []string {
	var fields []string
	for _, f := range strings.Split(value, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
