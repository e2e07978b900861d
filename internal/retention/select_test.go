package retention

import (
	"testing"
	"time"

	"snapkeep/internal/config"
)

func TestSelectPolicies(t *testing.T) {
	lines := []string{
		"2021-03-01.jpg",
		"no date here",
		"2019-07-04.jpg",
		"2024-05-05.jpg",
		"2020-02-02.jpg",
	}
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		policy string
		want   string
	}{
		{config.SelectionLast, "2020-02-02.jpg"},
		{config.SelectionFirst, "2021-03-01.jpg"},
		{config.SelectionOldest, "2019-07-04.jpg"},
		{"", "2020-02-02.jpg"},
	}
	for _, tc := range cases {
		got, ok := Select(lines, cutoff, time.UTC, tc.policy)
		if !ok || got.Line != tc.want {
			t.Fatalf("policy %q selected %q (ok=%v), want %q", tc.policy, got.Line, ok, tc.want)
		}
	}
}

func TestSelectNothingStale(t *testing.T) {
	cutoff := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := Select([]string{"2020-01-01.jpg", "", "  ", "notes"}, cutoff, time.UTC, config.SelectionLast); ok {
		t.Fatal("expected no candidate")
	}
}

func TestSelectKeepsLineVerbatim(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Select([]string{" cam 2020-01-01.jpg  "}, cutoff, time.UTC, config.SelectionLast)
	if !ok || got.Line != " cam 2020-01-01.jpg  " {
		t.Fatalf("selected %q, want the listing line unchanged", got.Line)
	}
}

func TestSelectOldestTieKeepsFirst(t *testing.T) {
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Select([]string{"a-2020-01-01.jpg", "b-2020-01-01.jpg"}, cutoff, time.UTC, config.SelectionOldest)
	if !ok || got.Line != "a-2020-01-01.jpg" {
		t.Fatalf("selected %q", got.Line)
	}
}

func TestCutoff(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if got := Cutoff(now, 30); !got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Cutoff = %s", got)
	}
}
