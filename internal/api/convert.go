package api

import (
	"sort"
	"time"

	"snapkeep/internal/deps"
	"snapkeep/internal/history"
)

// FromHistoryEvent converts a history record to its API representation.
func FromHistoryEvent(ev history.Event) HistoryEvent {
	return HistoryEvent{
		ID:         ev.ID,
		RunID:      ev.RunID,
		Kind:       string(ev.Kind),
		Name:       ev.Name,
		Success:    ev.Success,
		Error:      ev.Error,
		Bytes:      ev.Bytes,
		DurationMs: ev.Duration.Milliseconds(),
		At:         formatTime(ev.At),
	}
}

// FromHistoryEvents converts a slice of history records.
func FromHistoryEvents(events []history.Event) []HistoryEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]HistoryEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, FromHistoryEvent(ev))
	}
	return out
}

// FromHistorySummaries converts per-kind aggregates.
func FromHistorySummaries(summaries []history.Summary) []HistorySummary {
	if len(summaries) == 0 {
		return nil
	}
	out := make([]HistorySummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, HistorySummary{
			Kind:      string(s.Kind),
			Successes: s.Successes,
			Failures:  s.Failures,
			LastAt:    formatTime(s.LastAt),
		})
	}
	return out
}

// ScheduleEntries flattens a schedule table in event order.
func ScheduleEntries(table map[string]string) []ScheduleEntry {
	if len(table) == 0 {
		return nil
	}
	out := make([]ScheduleEntry, 0, len(table))
	for event, handler := range table {
		out = append(out, ScheduleEntry{Event: event, Handler: handler})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}

// ParseTime reads a timestamp produced by this package. Empty or malformed
// values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromDependencies converts resolved binary checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DependencyStatus{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Optional:    s.Optional,
			Available:   s.Available,
			Detail:      s.Detail,
			Severity:    s.Severity(),
		})
	}
	return out
}
