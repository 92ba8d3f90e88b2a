package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the granularity of a query window span.
type Unit int

const (
	UnitMinute Unit = iota
	UnitHour
	UnitDay
	UnitWeek
)

// String returns a human-readable representation of the Unit.
func (u Unit) String() string {
	switch u {
	case UnitMinute:
		return "minute"
	case UnitHour:
		return "hour"
	case UnitDay:
		return "day"
	case UnitWeek:
		return "week"
	default:
		return "unknown"
	}
}

// Duration returns the length of one unit.
func (u Unit) Duration() time.Duration {
	switch u {
	case UnitMinute:
		return time.Minute
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Window expresses a query span of Count units ending at the query's "now".
type Window struct {
	Count int
	Unit  Unit
}

// Duration returns the total window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.Count) * w.Unit.Duration()
}

// Valid reports whether the window is usable.
func (w Window) Valid() bool {
	return w.Count > 0 && w.Unit.Duration() > 0
}

// String returns the compact span form, e.g. "6h" or "2w".
func (w Window) String() string {
	var suffix string
	switch w.Unit {
	case UnitMinute:
		suffix = "m"
	case UnitHour:
		suffix = "h"
	case UnitDay:
		suffix = "d"
	case UnitWeek:
		suffix = "w"
	}
	return fmt.Sprintf("%d%s", w.Count, suffix)
}

// ParseWindow parses a compact span like "30m", "6h", "7d", "2w".
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Window{}, fmt.Errorf("invalid window %q", s)
	}

	var unit Unit
	switch s[len(s)-1] {
	case 'm':
		unit = UnitMinute
	case 'h':
		unit = UnitHour
	case 'd':
		unit = UnitDay
	case 'w':
		unit = UnitWeek
	default:
		return Window{}, fmt.Errorf("invalid window unit in %q (want m, h, d or w)", s)
	}

	count, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || count <= 0 {
		return Window{}, fmt.Errorf("invalid window count in %q", s)
	}

	return Window{Count: count, Unit: unit}, nil
}
