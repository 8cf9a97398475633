package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beds4crew/internal/availability"
	"beds4crew/internal/cache"
	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/locator"
	"beds4crew/internal/metrics"
	"beds4crew/internal/models"

	"github.com/rs/zerolog"
)

const (
	cacheAvailability = "availability"
	cacheUnread       = "unread"
)

// generations counts invalidations per cache key. A value computed at
// generation g is only stored while the key is still at g.
type generations struct {
	mu  sync.Mutex
	gen map[string]uint64
}

func newGenerations() *generations {
	return &generations{gen: make(map[string]uint64)}
}

func (g *generations) current(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen[key]
}

func (g *generations) bump(key string) {
	g.mu.Lock()
	g.gen[key]++
	g.mu.Unlock()
}

// storeIfCurrent writes v unless key was invalidated after gen was read. An
// invalidation racing with the write removes the entry again.
func storeIfCurrent[V any](ctx context.Context, g *generations, store cache.Store[V], key string, gen uint64, v V, ttl time.Duration, logger *zerolog.Logger) {
	if g.current(key) != gen {
		return
	}
	if err := store.Set(ctx, key, v, ttl); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
		return
	}
	if g.current(key) != gen {
		if err := store.Delete(ctx, key); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("cache delete failed")
		}
	}
}

type deleter interface {
	Delete(ctx context.Context, key string) error
}

func (s *BookingService) invalidate(ctx context.Context, store deleter, key string) {
	s.gens.bump(key)
	if err := store.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

func (s *BookingService) invalidateProperty(ctx context.Context, propertyID int64) {
	s.invalidate(ctx, s.indexes, cache.AvailabilityKey(propertyID))
}

func (s *BookingService) invalidateUnread(ctx context.Context, userID int64) {
	s.invalidate(ctx, s.unread, cache.UnreadKey(userID))
}

// index serves the property's availability index from the cache, rebuilding it
// on a miss. The property row is always read fresh: a cached index built from an
// older version of the property (deactivated, rooms changed) counts as a miss.
func (s *BookingService) index(ctx context.Context, propertyID int64) (*availability.Index, *models.Property, error) {
	key := cache.AvailabilityKey(propertyID)
	gen := s.gens.current(key)

	p, err := s.repo.LoadProperty(ctx, propertyID)
	if err != nil {
		return nil, nil, err
	}

	ix, ok, err := s.indexes.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
	}
	if err == nil && ok && ix != nil && ix.Property != nil && ix.Property.Version == p.Version {
		metrics.CacheHit(cacheAvailability)
		return ix, p, nil
	}
	metrics.CacheMiss(cacheAvailability)

	ix, err = s.buildIndex(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	storeIfCurrent(ctx, s.gens, s.indexes, key, gen, ix, s.opts.CacheTTL, s.logger)
	return ix, p, nil
}

// buildIndex rebuilds the index from persisted records within the build budget.
func (s *BookingService) buildIndex(ctx context.Context, p *models.Property) (*availability.Index, error) {
	buildCtx := ctx
	if s.opts.IndexBuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, s.opts.IndexBuildTimeout)
		defer cancel()
	}

	started := time.Now()
	ix, err := s.loadAndBuild(buildCtx, p)
	metrics.ObserveIndexBuild(time.Since(started))
	if err != nil {
		if !errors.Is(err, domain.ErrTimeout) && errors.Is(buildCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: property %d: %v", domain.ErrTimeout, p.ID, err)
		}
		return nil, err
	}

	for _, src := range ix.Skipped {
		s.logger.Warn().Int64("property_id", p.ID).Str("source", src).Msg("block no longer resolves, skipped")
	}
	return ix, nil
}

func (s *BookingService) loadAndBuild(ctx context.Context, p *models.Property) (*availability.Index, error) {
	bookings, err := s.repo.LoadActiveBookingsForProperty(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	blocks, err := s.repo.LoadBlockedPeriods(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return availability.Build(ctx, p, bookings, blocks)
}

func (s *BookingService) CheckAvailability(ctx context.Context, propertyID int64, scope models.Scope, start, end time.Time) (domain.AvailabilityResult, error) {
	dr, err := daterange.New(start, end)
	if err != nil {
		return domain.AvailabilityResult{}, err
	}
	ix, p, err := s.index(ctx, propertyID)
	if err != nil {
		return domain.AvailabilityResult{}, err
	}
	beds, err := locator.Resolve(p, scope)
	if err != nil {
		return domain.AvailabilityResult{}, err
	}
	return availability.Check(ix, beds, dr, nil), nil
}

// readRange validates a read window and caps its length.
func (s *BookingService) readRange(start, end time.Time) (daterange.DayRange, error) {
	dr, err := daterange.New(start, end)
	if err != nil {
		return daterange.DayRange{}, err
	}
	if dr.Len() > s.opts.MaxBookingDays {
		return daterange.DayRange{}, fmt.Errorf("%w: window of %d days exceeds %d", domain.ErrInvalidRange, dr.Len(), s.opts.MaxBookingDays)
	}
	return dr, nil
}

// Calendar reports the whole-property state of every day in the window.
func (s *BookingService) Calendar(ctx context.Context, propertyID int64, start, end time.Time) ([]models.CalendarDay, error) {
	dr, err := s.readRange(start, end)
	if err != nil {
		return nil, err
	}
	ix, p, err := s.index(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: property %d is inactive", domain.ErrInvalidResource, propertyID)
	}

	beds := ix.Beds()
	today := s.today()
	days := make([]models.CalendarDay, 0, dr.Len())
	for day := range dr.Days() {
		var booked, blocked int
		for _, bed := range beds {
			iv, ok := ix.At(bed, day)
			if !ok {
				continue
			}
			if iv.Kind == availability.KindBlock {
				blocked++
			} else {
				booked++
			}
		}

		free := len(beds) - booked - blocked
		state := models.DayPartial
		switch {
		case free == len(beds):
			state = models.DayFree
		case blocked == len(beds):
			state = models.DayBlocked
		case free == 0:
			state = models.DayBooked
		}
		days = append(days, models.CalendarDay{
			Date:      day,
			State:     state,
			FreeBeds:  free,
			TotalBeds: len(beds),
			Past:      day.Before(today),
		})
	}
	return days, nil
}

// Occupancy builds the host's bed by day grid used for exports.
func (s *BookingService) Occupancy(ctx context.Context, propertyID int64, start, end time.Time, actor models.Actor) (*domain.OccupancyGrid, error) {
	dr, err := s.readRange(start, end)
	if err != nil {
		return nil, err
	}
	ix, p, err := s.index(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if p.HostID != actor.UserID {
		return nil, fmt.Errorf("%w: user %d is not the host of property %d", domain.ErrNotAuthorized, actor.UserID, propertyID)
	}

	grid := &domain.OccupancyGrid{
		Property: p,
		Beds:     locator.Snapshot(p, ix.Beds()),
	}
	for day := range dr.Days() {
		grid.Days = append(grid.Days, day)
	}

	grid.Cells = make([][]models.BedDay, len(grid.Beds))
	for i, bb := range grid.Beds {
		row := make([]models.BedDay, len(grid.Days))
		for j, day := range grid.Days {
			cell := models.BedDay{Bed: bb.Bed, State: models.DayFree}
			if iv, ok := ix.At(bb.Bed, day); ok {
				cell.Source = iv.Source()
				cell.State = models.DayBooked
				if iv.Kind == availability.KindBlock {
					cell.State = models.DayBlocked
				}
			}
			row[j] = cell
		}
		grid.Cells[i] = row
	}
	return grid, nil
}
