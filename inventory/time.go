/*
time.go - Inclusive rental date ranges

PURPOSE:
  DateRange is the window a booking holds its units for. Both ends are
  inclusive and normalized to UTC at second precision, so the memory,
  SQLite and PostgreSQL stores all compare ranges identically.

OVERLAP:
  a.Start <= b.End && b.Start <= a.End
  A booking ending on day X blocks a booking starting on day X: a unit has
  to come back before it can go out again.

DURATION:
  Days() = floor((End - Start) / 24h) + 1, minimum 1.
  Days(2026, March, 10, 12) spans 3 rental days.

SEE ALSO:
  - availability.go: Uses Overlaps against active assignments
  - types.go: Booking.Duration
*/
package inventory

import "time"

// =============================================================================
// DATE RANGE - Inclusive [Start, End] rental window
// =============================================================================

const day = 24 * time.Hour

// DateRange is an inclusive rental window. Times are kept in UTC at second
// precision so every store compares them the same way.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange normalizes and validates a range.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: normalize(start), End: normalize(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// MustDateRange panics on an invalid range. Intended for tests and scenarios.
func MustDateRange(start, end time.Time) DateRange {
	r, err := NewDateRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Days returns a range covering whole calendar days from start to end (UTC).
func Days(year int, month time.Month, startDay, endDay int) DateRange {
	return MustDateRange(
		time.Date(year, month, startDay, 0, 0, 0, 0, time.UTC),
		time.Date(year, month, endDay, 0, 0, 0, 0, time.UTC),
	)
}

func normalize(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

// Validate rejects ranges whose end precedes their start.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return &DateRangeError{Start: r.Start, End: r.End}
	}
	return nil
}

// Overlaps is inclusive on both ends: a booking ending on day X and one
// starting on day X overlap, since a unit must come back before going out.
func (r DateRange) Overlaps(other DateRange) bool {
	return !other.Start.After(r.End) && !r.Start.After(other.End)
}

// Days is floor((end-start)/1 day) + 1, never below 1.
func (r DateRange) Days() int {
	n := int(r.End.Sub(r.Start)/day) + 1
	if n < 1 {
		return 1
	}
	return n
}

func (r DateRange) Equal(other DateRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

func (r DateRange) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

func (r DateRange) String() string {
	return r.Start.Format(time.RFC3339) + ".." + r.End.Format(time.RFC3339)
}
