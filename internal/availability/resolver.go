package availability

import (
	"slices"

	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/models"
)

// Filter decides whether an interval takes part in a check.
type Filter func(Interval) bool

// ExcludeSource ignores the interval of the given booking or block.
func ExcludeSource(source string) Filter {
	return func(iv Interval) bool { return iv.Source() != source }
}

// IgnorePending leaves only confirmed bookings and blocks.
func IgnorePending() Filter {
	return func(iv Interval) bool { return !iv.IsPending() }
}

func All(filters ...Filter) Filter {
	return func(iv Interval) bool {
		for _, f := range filters {
			if f != nil && !f(iv) {
				return false
			}
		}
		return true
	}
}

// Check walks beds in (room, bed) order and each bed's intervals by start day,
// reporting the first one that overlaps r. A nil filter counts every interval.
func Check(ix *Index, beds []models.BedID, r daterange.DayRange, filter Filter) domain.AvailabilityResult {
	ordered := slices.Clone(beds)
	slices.SortFunc(ordered, models.CompareBedID)

	for _, bed := range ordered {
		for _, iv := range ix.Intervals[bed] {
			if iv.Range.Start.After(r.End) {
				break
			}
			if filter != nil && !filter(iv) {
				continue
			}
			if iv.Range.Overlaps(r) {
				return domain.AvailabilityResult{
					Available: false,
					Conflict: &domain.ConflictError{
						Bed:         bed,
						Source:      iv.Source(),
						SourceScope: iv.Scope,
						Range:       iv.Range,
					},
				}
			}
		}
	}
	return domain.AvailabilityResult{Available: true}
}
