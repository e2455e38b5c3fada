package logs

import (
	"encoding/json"
	"strings"

	"recflow/internal/logging"
)

// Filter selects structured log lines. Zero fields match everything.
type Filter struct {
	RecordingID   string
	CorrelationID string
	// MinLevel is a level name such as "warn"; empty keeps every level.
	MinLevel string
	// DecisionsOnly keeps lines carrying a decision_type attribute.
	DecisionsOnly bool
}

// Entry is the subset of a JSON log line the CLI renders.
type Entry struct {
	Time           string `json:"ts"`
	Level          string `json:"level"`
	Message        string `json:"msg"`
	Component      string `json:"component"`
	RecordingID    string `json:"recording_id"`
	CorrelationID  string `json:"correlation_id"`
	DecisionType   string `json:"decision_type"`
	DecisionResult string `json:"decision_result"`
	StatusFrom     string `json:"status_from"`
	StatusTo       string `json:"status_to"`
	Alert          string `json:"alert"`
}

// Parse decodes one JSON log line.
func Parse(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (f Filter) active() bool {
	return f.RecordingID != "" || f.CorrelationID != "" || f.MinLevel != "" || f.DecisionsOnly
}

// Match reports whether line passes the filter. Unstructured lines pass only
// when the filter is empty.
func (f Filter) Match(line string) bool {
	entry, ok := Parse(line)
	if !ok {
		return !f.active()
	}
	if f.RecordingID != "" && entry.RecordingID != f.RecordingID {
		return false
	}
	if f.CorrelationID != "" && entry.CorrelationID != f.CorrelationID {
		return false
	}
	if f.DecisionsOnly && entry.DecisionType == "" {
		return false
	}
	if f.MinLevel != "" && logging.ParseLevel(entry.Level) < logging.ParseLevel(f.MinLevel) {
		return false
	}
	return true
}

// Apply returns the lines that pass the filter, preserving order.
func (f Filter) Apply(lines []string) []string {
	if !f.active() {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}
