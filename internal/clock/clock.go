package clock

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable reports an input that cannot be turned into an instant.
var ErrUnparseable = errors.New("unparseable instant")

// Components is a calendar decomposition of a single instant. Every field is a
// projection of Time in Time's location.
type Components struct {
	Time        time.Time
	Epoch       int64
	Year        int
	Month       int
	Day         int
	Weekday     time.Weekday
	Hour        int
	Minute      int
	Second      int
	Millisecond int
	OffsetHours float64

	YYYY string
	MM   string
	DD   string
	HH   string
	MI   string
	SS   string

	// DatePath is yyyy/mm/dd.
	DatePath string
	// TimeString is hh:mm:ss.
	TimeString string

	Hour12 int
	AMPM   string
	TZ     string
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
}

// Decompose projects t into calendar components using t's location.
func Decompose(t time.Time) Components {
	_, offset := t.Zone()
	c := Components{
		Time:        t,
		Epoch:       t.Unix(),
		Year:        t.Year(),
		Month:       int(t.Month()),
		Day:         t.Day(),
		Weekday:     t.Weekday(),
		Hour:        t.Hour(),
		Minute:      t.Minute(),
		Second:      t.Second(),
		Millisecond: t.Nanosecond() / int(time.Millisecond),
		OffsetHours: float64(offset) / 3600,
	}

	c.YYYY = strconv.Itoa(c.Year)
	c.MM = Pad(c.Month)
	c.DD = Pad(c.Day)
	c.HH = Pad(c.Hour)
	c.MI = Pad(c.Minute)
	c.SS = Pad(c.Second)

	c.Hour12 = c.Hour % 12
	if c.Hour12 == 0 {
		c.Hour12 = 12
	}
	c.AMPM = "am"
	if c.Hour >= 12 {
		c.AMPM = "pm"
	}

	c.DatePath = c.YYYY + "/" + c.MM + "/" + c.DD
	c.TimeString = c.HH + ":" + c.MI + ":" + c.SS
	c.TZ = formatTZ(c.OffsetHours)
	return c
}

// Now decomposes the current instant in loc. A nil loc means local time.
func Now(loc *time.Location) Components {
	return Decompose(In(time.Now(), loc))
}

// From decomposes a time.Time, a pointer to one, epoch seconds of any numeric
// type, or a date string. Strings without an explicit offset are read in loc.
// A nil value decomposes the current instant.
func From(value any, loc *time.Location) (Components, error) {
	if loc == nil {
		loc = time.Local
	}
	switch v := value.(type) {
	case nil:
		return Now(loc), nil
	case time.Time:
		return Decompose(v.In(loc)), nil
	case *time.Time:
		if v == nil {
			return Now(loc), nil
		}
		return Decompose(v.In(loc)), nil
	case int:
		return fromEpoch(int64(v), 0, loc), nil
	case int32:
		return fromEpoch(int64(v), 0, loc), nil
	case int64:
		return fromEpoch(v, 0, loc), nil
	case uint:
		return fromEpoch(int64(v), 0, loc), nil
	case uint32:
		return fromEpoch(int64(v), 0, loc), nil
	case uint64:
		if v > math.MaxInt64 {
			return Components{}, fmt.Errorf("%w: epoch %d out of range", ErrUnparseable, v)
		}
		return fromEpoch(int64(v), 0, loc), nil
	case float32:
		return fromFloatEpoch(float64(v), loc)
	case float64:
		return fromFloatEpoch(v, loc)
	case string:
		t, err := Parse(v, loc)
		if err != nil {
			return Components{}, err
		}
		return Decompose(t), nil
	default:
		return Components{}, fmt.Errorf("%w: unsupported type %T", ErrUnparseable, value)
	}
}

// Parse reads a date string using the supported layouts. Layouts without a zone
// are interpreted in loc.
func Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseable)
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, value)
}

// In converts t to loc, treating a nil loc as local time.
func In(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t.Local()
	}
	return t.In(loc)
}

// Pad renders values below ten with a leading zero.
func Pad(value int) string {
	if value >= 0 && value < 10 {
		return "0" + strconv.Itoa(value)
	}
	return strconv.Itoa(value)
}

var dateToken = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// ParseDateToken returns local midnight of the first YYYY-MM-DD token in line.
func ParseDateToken(line string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	match := dateToken.FindString(line)
	if match == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02", match, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var nonWord = regexp.MustCompile(`\W`)

// FileStamp renders c as yyyy-mm-dd-hh-mm-ss for use in file names.
func FileStamp(c Components) string {
	return nonWord.ReplaceAllString(c.DatePath+"-"+c.TimeString, "-")
}

func fromEpoch(sec, nsec int64, loc *time.Location) Components {
	return Decompose(time.Unix(sec, nsec).In(loc))
}

func fromFloatEpoch(value float64, loc *time.Location) (Components, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Components{}, fmt.Errorf("%w: epoch %v", ErrUnparseable, value)
	}
	sec, frac := math.Modf(value)
	return fromEpoch(int64(sec), int64(math.Round(frac*1e9)), loc), nil
}

func formatTZ(offsetHours float64) string {
	sign := ""
	if offsetHours >= 0 {
		sign = "+"
	}
	return "GMT" + sign + strconv.FormatFloat(offsetHours, 'f', -1, 64)
}
