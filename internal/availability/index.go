package availability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/locator"
	"beds4crew/internal/models"
)

const (
	KindBooking = "booking"
	KindBlock   = "block"
)

// Interval is one occupied span on one bed.
type Interval struct {
	Range  daterange.DayRange `json:"range"`
	Kind   string             `json:"kind"`
	RefID  int64              `json:"ref_id"`
	Status string             `json:"status,omitempty"`
	Scope  models.Scope       `json:"scope"`
}

// Source identifies the booking or block behind the interval, e.g. "booking:42".
func (iv Interval) Source() string {
	return SourceOf(iv.Kind, iv.RefID)
}

func SourceOf(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func (iv Interval) IsPending() bool {
	return iv.Kind == KindBooking && iv.Status == models.StatusPending
}

// Index maps every bed of a property to its occupied intervals sorted by start
// day. It is a read-only view rebuilt from persisted bookings and blocks and is
// safe to share between goroutines once built.
type Index struct {
	Property  *models.Property            `json:"property"`
	BuiltAt   time.Time                   `json:"built_at"`
	Intervals map[models.BedID][]Interval `json:"intervals"`
	Skipped   []string                    `json:"skipped,omitempty"`
}

// Build scans pending and confirmed bookings plus blocked periods. Blocks whose
// scope no longer resolves are listed in Skipped instead of failing the build.
func Build(ctx context.Context, p *models.Property, bookings []*models.Booking, blocks []*models.BlockedPeriod) (*Index, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: property is nil", domain.ErrInvalidResource)
	}

	ix := &Index{
		Property:  p,
		BuiltAt:   time.Now(),
		Intervals: make(map[models.BedID][]Interval),
	}
	for _, bed := range locator.AllBeds(p) {
		ix.Intervals[bed] = nil
	}

	for _, b := range bookings {
		if err := checkBudget(ctx); err != nil {
			return nil, err
		}
		if b.PropertyID != p.ID || !b.Occupies() {
			continue
		}
		for _, bb := range b.BookedBeds {
			ix.Intervals[bb.Bed] = append(ix.Intervals[bb.Bed], Interval{
				Range:  b.Range,
				Kind:   KindBooking,
				RefID:  b.ID,
				Status: b.Status,
				Scope:  b.Scope,
			})
		}
	}

	for _, bp := range blocks {
		if err := checkBudget(ctx); err != nil {
			return nil, err
		}
		if bp.PropertyID != p.ID {
			continue
		}
		beds, err := locator.Expand(p, bp.Scope)
		if err != nil {
			ix.Skipped = append(ix.Skipped, SourceOf(KindBlock, bp.ID))
			continue
		}
		for _, bed := range beds {
			ix.Intervals[bed] = append(ix.Intervals[bed], Interval{
				Range: bp.Range,
				Kind:  KindBlock,
				RefID: bp.ID,
				Scope: bp.Scope,
			})
		}
	}

	for bed, ivs := range ix.Intervals {
		slices.SortFunc(ivs, func(a, b Interval) int {
			if c := a.Range.Start.Compare(b.Range.Start); c != 0 {
				return c
			}
			return strings.Compare(a.Source(), b.Source())
		})
		ix.Intervals[bed] = ivs
	}
	return ix, nil
}

func checkBudget(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}

func (ix *Index) PropertyID() int64 {
	if ix.Property == nil {
		return 0
	}
	return ix.Property.ID
}

// OccupiedIntervals returns a copy of the bed's intervals sorted by start day.
func (ix *Index) OccupiedIntervals(bed models.BedID) []Interval {
	return slices.Clone(ix.Intervals[bed])
}

// Beds lists indexed beds in (room, bed) order.
func (ix *Index) Beds() []models.BedID {
	beds := make([]models.BedID, 0, len(ix.Intervals))
	for bed := range ix.Intervals {
		beds = append(beds, bed)
	}
	slices.SortFunc(beds, models.CompareBedID)
	return beds
}

// At returns the first interval holding the bed on the given day.
func (ix *Index) At(bed models.BedID, day time.Time) (Interval, bool) {
	d := daterange.Day(day)
	for _, iv := range ix.Intervals[bed] {
		if iv.Range.Start.After(d) {
			break
		}
		if iv.Range.ContainsDay(d) {
			return iv, true
		}
	}
	return Interval{}, false
}
