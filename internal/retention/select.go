package retention

import (
	"strings"
	"time"

	"snapkeep/internal/clock"
	"snapkeep/internal/config"
)

// Candidate is a remote listing line whose date falls before the cutoff.
type Candidate struct {
	Line string
	Date time.Time
}

// Select scans lines in order and returns the stale line chosen by policy.
// Lines without a YYYY-MM-DD token are ignored; a date is stale when its
// local midnight is strictly before cutoff. The chosen line is returned as
// listed, surrounding spaces included, since it names the file to delete.
func Select(lines []string, cutoff time.Time, loc *time.Location, policy string) (Candidate, bool) {
	var (
		chosen Candidate
		found  bool
	)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		date, ok := clock.ParseDateToken(line, loc)
		if !ok || !date.Before(cutoff) {
			continue
		}
		switch policy {
		case config.SelectionFirst:
			return Candidate{Line: line, Date: date}, true
		case config.SelectionOldest:
			if !found || date.Before(chosen.Date) {
				chosen, found = Candidate{Line: line, Date: date}, true
			}
		default:
			chosen, found = Candidate{Line: line, Date: date}, true
		}
	}
	return chosen, found
}

// Cutoff is keepDays whole days of seconds before now.
func Cutoff(now time.Time, keepDays int) time.Time {
	return now.Add(-time.Duration(keepDays) * 24 * time.Hour)
}
