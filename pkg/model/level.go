package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is a syslog style severity. Lower values are more severe.
type Level int

const (
	LevelEmergency Level = iota
	LevelAlert
	LevelCritical
	LevelError
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

// LowestLevel accepts every entry when used as a minimum.
const LowestLevel = LevelDebug

var levelNames = [...]string{
	LevelEmergency: "emergency",
	LevelAlert:     "alert",
	LevelCritical:  "critical",
	LevelError:     "error",
	LevelWarning:   "warning",
	LevelNotice:    "notice",
	LevelInfo:      "info",
	LevelDebug:     "debug",
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) Valid() bool {
	return l >= LevelEmergency && l <= LevelDebug
}

// Enabled reports whether an entry at level l passes the minimum threshold min.
func (l Level) Enabled(min Level) bool {
	return l <= min
}

// Levels returns every level from most to least severe.
func Levels() []Level {
	levels := make([]Level, 0, len(levelNames))
	for l := LevelEmergency; l <= LevelDebug; l++ {
		levels = append(levels, l)
	}
	return levels
}

func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// LevelFromStatus maps an HTTP response status to the level used when logging it.
func LevelFromStatus(status int) Level {
	switch {
	case status >= 500:
		return LevelError
	case status >= 400:
		return LevelWarning
	default:
		return LevelDebug
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
