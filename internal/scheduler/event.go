package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"snapkeep/internal/clock"
)

// ErrUnknownEvent reports a schedule key that is not a recognised event name.
var ErrUnknownEvent = errors.New("unknown event")

// EventKind enumerates the clock boundaries the scheduler reports.
type EventKind int

const (
	EventMinute EventKind = iota + 1
	EventHour
	EventDay
	EventMonth
	EventYear
	// EventClockTime fires at a specific wall-clock "HH:MM".
	EventClockTime
	// EventMinuteMark fires every hour at ":MM".
	EventMinuteMark
)

func (k EventKind) String() string {
	switch k {
	case EventMinute:
		return "minute"
	case EventHour:
		return "hour"
	case EventDay:
		return "day"
	case EventMonth:
		return "month"
	case EventYear:
		return "year"
	case EventClockTime:
		return "clock_time"
	case EventMinuteMark:
		return "minute_mark"
	default:
		return "unknown"
	}
}

// Event is a parsed schedule key. Name is the canonical key used for lookups.
type Event struct {
	Kind EventKind
	Name string
}

// ParseEvent validates a schedule key and returns its canonical form.
func ParseEvent(name string) (Event, error) {
	trimmed := strings.TrimSpace(name)
	switch strings.ToLower(trimmed) {
	case "minute":
		return Event{Kind: EventMinute, Name: "minute"}, nil
	case "hour":
		return Event{Kind: EventHour, Name: "hour"}, nil
	case "day":
		return Event{Kind: EventDay, Name: "day"}, nil
	case "month":
		return Event{Kind: EventMonth, Name: "month"}, nil
	case "year":
		return Event{Kind: EventYear, Name: "year"}, nil
	}

	if rest, ok := strings.CutPrefix(trimmed, ":"); ok {
		minute, ok := parseField(rest, 59)
		if !ok {
			return Event{}, fmt.Errorf("%w %q: minute mark must be \":MM\"", ErrUnknownEvent, name)
		}
		return Event{Kind: EventMinuteMark, Name: ":" + clock.Pad(minute)}, nil
	}

	if hh, mm, ok := strings.Cut(trimmed, ":"); ok {
		hour, okHour := parseField(hh, 23)
		minute, okMinute := parseField(mm, 59)
		if !okHour || !okMinute {
			return Event{}, fmt.Errorf("%w %q: clock time must be \"HH:MM\"", ErrUnknownEvent, name)
		}
		return Event{Kind: EventClockTime, Name: clock.Pad(hour) + ":" + clock.Pad(minute)}, nil
	}

	return Event{}, fmt.Errorf("%w %q", ErrUnknownEvent, name)
}

func parseField(value string, limit int) (int, bool) {
	if len(value) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > limit {
		return 0, false
	}
	return n, true
}

// eventsBetween lists the events triggered when moving from prev to cur, in
// dispatch order.
func eventsBetween(prev, cur clock.Components) []Event {
	var events []Event
	if cur.Minute != prev.Minute {
		events = append(events,
			Event{Kind: EventMinute, Name: "minute"},
			Event{Kind: EventClockTime, Name: cur.HH + ":" + cur.MI},
			Event{Kind: EventMinuteMark, Name: ":" + cur.MI},
		)
	}
	if cur.Hour != prev.Hour {
		events = append(events, Event{Kind: EventHour, Name: "hour"})
	}
	if cur.Day != prev.Day {
		events = append(events, Event{Kind: EventDay, Name: "day"})
	}
	if cur.Month != prev.Month {
		events = append(events, Event{Kind: EventMonth, Name: "month"})
	}
	if cur.Year != prev.Year {
		events = append(events, Event{Kind: EventYear, Name: "year"})
	}
	return events
}
