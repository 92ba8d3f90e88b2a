package types

import (
	"fmt"
	"time"
)

// PartitionKey identifies one weekly partition by ISO year and ISO week.
type PartitionKey struct {
	Year int
	Week int
}

// KeyForTime returns the partition key for a timestamp.
func KeyForTime(t time.Time) PartitionKey {
	year, week := t.UTC().ISOWeek()
	return PartitionKey{Year: year, Week: week}
}

// KeyForUnix returns the partition key for a Unix-seconds timestamp.
func KeyForUnix(ts int64) PartitionKey {
	return KeyForTime(time.Unix(ts, 0))
}

// String returns the display form of the key, e.g. "2025-W33".
func (k PartitionKey) String() string {
	return fmt.Sprintf("%d-W%02d", k.Year, k.Week)
}

// Filename returns the partition file name, e.g. "metrics_2025_W33.plog".
func (k PartitionKey) Filename() string {
	return fmt.Sprintf("metrics_%d_W%02d.plog", k.Year, k.Week)
}

// ParseFilename parses a partition file name back into its key.
func ParseFilename(name string) (PartitionKey, error) {
	var k PartitionKey
	if _, err := fmt.Sscanf(name, "metrics_%d_W%d.plog", &k.Year, &k.Week); err != nil {
		return PartitionKey{}, fmt.Errorf("parse partition filename %q: %w", name, err)
	}
	if k.Week < 1 || k.Week > 53 {
		return PartitionKey{}, fmt.Errorf("parse partition filename %q: week %d out of range", name, k.Week)
	}
	return k, nil
}

// IsZero returns true for the zero key.
func (k PartitionKey) IsZero() bool {
	return k.Year == 0 && k.Week == 0
}

// Start returns the first instant of the partition's week (Monday 00:00 UTC).
func (k PartitionKey) Start() time.Time {
	// January 4th is always in ISO week 1.
	jan4 := time.Date(k.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	wd := int(jan4.Weekday())
	if wd == 0 {
		wd = 7
	}
	week1 := jan4.AddDate(0, 0, 1-wd)
	return week1.AddDate(0, 0, (k.Week-1)*7)
}

// End returns the first instant of the following week.
func (k PartitionKey) End() time.Time {
	return k.Start().AddDate(0, 0, 7)
}

// Next returns the key of the following week.
func (k PartitionKey) Next() PartitionKey {
	return KeyForTime(k.Start().AddDate(0, 0, 7))
}

// Prev returns the key of the preceding week.
func (k PartitionKey) Prev() PartitionKey {
	return KeyForTime(k.Start().AddDate(0, 0, -7))
}

// Before reports whether k covers an earlier week than other.
func (k PartitionKey) Before(other PartitionKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Week < other.Week
}

// Contains reports whether the timestamp falls inside this partition's week.
func (k PartitionKey) Contains(ts int64) bool {
	return KeyForUnix(ts) == k
}

// PartitionInfo holds display metadata for one discoverable partition.
type PartitionInfo struct {
	Key       PartitionKey
	Path      string
	SizeBytes int64
	StartDate time.Time
	EndDate   time.Time
	Current   bool
}
