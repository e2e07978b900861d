package clock_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"snapkeep/internal/clock"
)

func TestDecomposePadsSingleDigitFields(t *testing.T) {
	loc := time.FixedZone("test", 0)
	c := clock.Decompose(time.Date(2024, time.March, 5, 7, 8, 9, 250*int(time.Millisecond), loc))

	checks := map[string]string{
		"YYYY":       c.YYYY,
		"MM":         c.MM,
		"DD":         c.DD,
		"HH":         c.HH,
		"MI":         c.MI,
		"SS":         c.SS,
		"DatePath":   c.DatePath,
		"TimeString": c.TimeString,
	}
	want := map[string]string{
		"YYYY":       "2024",
		"MM":         "03",
		"DD":         "05",
		"HH":         "07",
		"MI":         "08",
		"SS":         "09",
		"DatePath":   "2024/03/05",
		"TimeString": "07:08:09",
	}
	for key, got := range checks {
		if got != want[key] {
			t.Errorf("%s = %q, want %q", key, got, want[key])
		}
	}
	if c.Millisecond != 250 {
		t.Errorf("Millisecond = %d, want 250", c.Millisecond)
	}
	if c.Hour12 != 7 || c.AMPM != "am" {
		t.Errorf("unexpected 12h projection: %d %s", c.Hour12, c.AMPM)
	}
}

func TestPadMatchesRawValueAtTenAndAbove(t *testing.T) {
	for value := 0; value < 60; value++ {
		got := clock.Pad(value)
		if value < 10 {
			if len(got) != 2 || got[0] != '0' {
				t.Fatalf("Pad(%d) = %q, want two characters with leading zero", value, got)
			}
			continue
		}
		if got != strconv.Itoa(value) {
			t.Fatalf("Pad(%d) = %q, want %q", value, got, strconv.Itoa(value))
		}
	}
}

func TestDecomposeSameMinute(t *testing.T) {
	loc := time.FixedZone("test", 3600)
	base := time.Date(2023, time.December, 31, 23, 59, 0, 0, loc)
	first := clock.Decompose(base)
	for offset := time.Duration(0); offset < time.Minute; offset += 7 * time.Second {
		other := clock.Decompose(base.Add(offset))
		if other.Minute != first.Minute || other.MI != first.MI {
			t.Fatalf("minute changed within the same minute at +%s: %d vs %d", offset, other.Minute, first.Minute)
		}
	}
}

func TestHour12Boundaries(t *testing.T) {
	cases := []struct {
		hour   int
		want   int
		period string
	}{
		{0, 12, "am"},
		{1, 1, "am"},
		{11, 11, "am"},
		{12, 12, "pm"},
		{13, 1, "pm"},
		{23, 11, "pm"},
	}
	for _, tc := range cases {
		c := clock.Decompose(time.Date(2024, 1, 1, tc.hour, 0, 0, 0, time.UTC))
		if c.Hour12 != tc.want || c.AMPM != tc.period {
			t.Errorf("hour %d: got %d%s, want %d%s", tc.hour, c.Hour12, c.AMPM, tc.want, tc.period)
		}
	}
}

func TestTZLabel(t *testing.T) {
	cases := []struct {
		offset int
		want   string
	}{
		{0, "GMT+0"},
		{2 * 3600, "GMT+2"},
		{-5 * 3600, "GMT-5"},
		{-(5*3600 + 1800), "GMT-5.5"},
	}
	for _, tc := range cases {
		loc := time.FixedZone("x", tc.offset)
		c := clock.Decompose(time.Date(2024, 1, 1, 0, 0, 0, 0, loc))
		if c.TZ != tc.want {
			t.Errorf("offset %d: TZ = %q, want %q", tc.offset, c.TZ, tc.want)
		}
	}
}

func TestFromInputsAgree(t *testing.T) {
	loc := time.FixedZone("test", -4*3600)
	instant := time.Date(2018, time.May, 21, 0, 0, 10, 0, loc)

	inputs := []any{
		instant,
		&instant,
		instant.Unix(),
		int(instant.Unix()),
		float64(instant.Unix()),
		"2018-05-21 00:00:10",
		"2018-05-21T04:00:10Z",
	}
	for _, input := range inputs {
		c, err := clock.From(input, loc)
		if err != nil {
			t.Fatalf("From(%v) returned error: %v", input, err)
		}
		if c.Epoch != instant.Unix() {
			t.Errorf("From(%v) epoch = %d, want %d", input, c.Epoch, instant.Unix())
		}
		if c.DatePath != "2018/05/21" || c.TimeString != "00:00:10" {
			t.Errorf("From(%v) = %s %s", input, c.DatePath, c.TimeString)
		}
	}
}

func TestFromRejectsUnparseableInput(t *testing.T) {
	if _, err := clock.From("not a date", time.UTC); !errors.Is(err, clock.ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
	if _, err := clock.From(struct{}{}, time.UTC); !errors.Is(err, clock.ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable for unsupported type, got %v", err)
	}
}

func TestParseDateTokenUsesLocalMidnight(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	got, ok := clock.ParseDateToken("-rw-r--r-- 1 cam cam 5123 2018-05-21-00-00-10.jpg", loc)
	if !ok {
		t.Fatal("expected date token")
	}
	want := time.Date(2018, time.May, 21, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("ParseDateToken = %s, want %s", got, want)
	}
	if _, ok := clock.ParseDateToken("README.txt", loc); ok {
		t.Fatal("expected no token in line without a date")
	}
}

func TestFileStamp(t *testing.T) {
	c := clock.Decompose(time.Date(2018, time.May, 21, 0, 0, 10, 0, time.UTC))
	if got := clock.FileStamp(c); got != "2018-05-21-00-00-10" {
		t.Fatalf("FileStamp = %q", got)
	}
}
