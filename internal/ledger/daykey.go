package ledger

import (
	"errors"
	"fmt"
	"time"
)

const dayKeyLayout = "02012006"

// ErrInvalidDayKey is returned when a string is not a DDMMYYYY calendar day.
var ErrInvalidDayKey = errors.New("ledger: invalid day key")

// DayKey encodes a calendar day as DDMMYYYY, e.g. 05112025.
// Day keys do not sort lexicographically; compare them with Before.
type DayKey string

// FromTime returns the day key of t in t's location.
func FromTime(t time.Time) DayKey {
	return DayKey(t.Format(dayKeyLayout))
}

// ParseDayKey validates raw and returns it as a DayKey.
func ParseDayKey(raw string) (DayKey, error) {
	if len(raw) != len(dayKeyLayout) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDayKey, raw)
	}
	t, err := time.Parse(dayKeyLayout, raw)
	if err != nil || t.Format(dayKeyLayout) != raw {
		return "", fmt.Errorf("%w: %q", ErrInvalidDayKey, raw)
	}
	return DayKey(raw), nil
}

// String implements fmt.Stringer.
func (k DayKey) String() string { return string(k) }

// Valid reports whether k is a well formed day key.
func (k DayKey) Valid() bool {
	_, err := ParseDayKey(string(k))
	return err == nil
}

// Time returns midnight of the day in loc. Invalid keys yield the zero time.
func (k DayKey) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dayKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Bounds returns the half-open [start, end) interval covered by the day.
func (k DayKey) Bounds(loc *time.Location) (time.Time, time.Time) {
	start := k.Time(loc)
	return start, start.AddDate(0, 0, 1)
}

// Previous returns the day before k.
func (k DayKey) Previous() DayKey {
	return FromTime(k.Time(time.UTC).AddDate(0, 0, -1))
}

// Next returns the day after k.
func (k DayKey) Next() DayKey {
	return FromTime(k.Time(time.UTC).AddDate(0, 0, 1))
}

// Before reports whether k is an earlier calendar day than other.
func (k DayKey) Before(other DayKey) bool {
	return k.Time(time.UTC).Before(other.Time(time.UTC))
}

// Yesterday returns the day key preceding now in now's location.
func Yesterday(now time.Time) DayKey {
	return FromTime(now.AddDate(0, 0, -1))
}

// MaxDaysBetween bounds the enumeration done by DaysBetween.
const MaxDaysBetween = 3660

// SpanDays counts the days from first to last inclusive without enumerating
// them. It returns 0 for invalid keys or an inverted range.
func SpanDays(first, last DayKey) int {
	if !first.Valid() || !last.Valid() || last.Before(first) {
		return 0
	}
	secs := last.Time(time.UTC).Unix() - first.Time(time.UTC).Unix()
	return int(secs/86400) + 1
}

// DaysBetween lists the day keys from first to last inclusive, oldest first.
// Ranges longer than MaxDaysBetween yield nil.
func DaysBetween(first, last DayKey) []DayKey {
	span := SpanDays(first, last)
	if span == 0 || span > MaxDaysBetween {
		return nil
	}
	days := make([]DayKey, 0, span)
	for d := first; ; d = d.Next() {
		days = append(days, d)
		if d == last {
			break
		}
	}
	return days
}
