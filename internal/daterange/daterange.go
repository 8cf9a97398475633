package daterange

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

const layout = "2006-01-02"

var ErrInvalidRange = errors.New("daterange: end must not be before start")

// DayRange is a closed interval of calendar days [Start, End].
// Both bounds are UTC midnights; the time of day is discarded on construction.
type DayRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func New(start, end time.Time) (DayRange, error) {
	if start.IsZero() || end.IsZero() {
		return DayRange{}, ErrInvalidRange
	}
	dr := DayRange{Start: Day(start), End: Day(end)}
	if dr.End.Before(dr.Start) {
		return DayRange{}, ErrInvalidRange
	}
	return dr, nil
}

// Parse builds a range from two YYYY-MM-DD strings.
func Parse(start, end string) (DayRange, error) {
	s, err := time.Parse(layout, start)
	if err != nil {
		return DayRange{}, fmt.Errorf("%w: start %q", ErrInvalidRange, start)
	}
	e, err := time.Parse(layout, end)
	if err != nil {
		return DayRange{}, fmt.Errorf("%w: end %q", ErrInvalidRange, end)
	}
	return New(s, e)
}

// Single is the one-day range containing t.
func Single(t time.Time) DayRange {
	d := Day(t)
	return DayRange{Start: d, End: d}
}

func (dr DayRange) Validate() error {
	if dr.Start.IsZero() || dr.End.IsZero() || dr.End.Before(dr.Start) {
		return ErrInvalidRange
	}
	return nil
}

// Overlaps reports whether the two ranges share at least one day.
// Ranges that touch on a boundary day overlap.
func (dr DayRange) Overlaps(other DayRange) bool {
	return !dr.Start.After(other.End) && !other.Start.After(dr.End)
}

func (dr DayRange) Contains(other DayRange) bool {
	return !other.Start.Before(dr.Start) && !other.End.After(dr.End)
}

func (dr DayRange) ContainsDay(t time.Time) bool {
	d := Day(t)
	return !d.Before(dr.Start) && !d.After(dr.End)
}

// Len is the number of days covered, bounds included.
func (dr DayRange) Len() int {
	return int(dr.End.Sub(dr.Start).Hours()/24) + 1
}

// Nights is the number of overnight stays. A same-day range counts as one night.
func (dr DayRange) Nights() int {
	if n := dr.Len() - 1; n > 0 {
		return n
	}
	return 1
}

// Days yields every day of the range in order. The sequence can be ranged over
// any number of times.
func (dr DayRange) Days() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if dr.Validate() != nil {
			return
		}
		for d := dr.Start; !d.After(dr.End); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

func (dr DayRange) String() string {
	return dr.Start.Format(layout) + ".." + dr.End.Format(layout)
}
