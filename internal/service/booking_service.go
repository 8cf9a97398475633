package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beds4crew/internal/availability"
	"beds4crew/internal/cache"
	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/events"
	"beds4crew/internal/locator"
	"beds4crew/internal/metrics"
	"beds4crew/internal/models"

	"github.com/rs/zerolog"
)

// confirmAttempts is the number of optimistic commits tried before a confirm gives up.
const confirmAttempts = 2

type Options struct {
	IndexBuildTimeout time.Duration
	MaxBookingDays    int
	AllowPastStart    bool
	CacheTTL          time.Duration
	Now               func() time.Time
}

type BookingService struct {
	repo     domain.Repository
	indexes  cache.Store[*availability.Index]
	unread   cache.Store[int]
	eventBus domain.EventPublisher
	locks    *propertyLocks
	gens     *generations
	opts     Options
	logger   *zerolog.Logger
}

var _ domain.BookingService = (*BookingService)(nil)

// NewBookingService wires the service. Nil caches fall back to in-process stores.
func NewBookingService(
	repo domain.Repository,
	indexes cache.Store[*availability.Index],
	unread cache.Store[int],
	eventBus domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	if opts.MaxBookingDays <= 0 {
		opts.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if indexes == nil {
		indexes = cache.NewMemory[*availability.Index](opts.CacheTTL, opts.Now)
	}
	if unread == nil {
		unread = cache.NewMemory[int](opts.CacheTTL, opts.Now)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BookingService{
		repo:     repo,
		indexes:  indexes,
		unread:   unread,
		eventBus: eventBus,
		locks:    newPropertyLocks(),
		gens:     newGenerations(),
		opts:     opts,
		logger:   logger,
	}
}

func (s *BookingService) today() time.Time {
	return daterange.Day(s.opts.Now())
}

// validateStay checks the admission window of a new booking.
func (s *BookingService) validateStay(dr daterange.DayRange) error {
	today := s.today()
	if !s.opts.AllowPastStart && dr.Start.Before(today) {
		return fmt.Errorf("%w: start %s is in the past", domain.ErrInvalidRange, dr.Start.Format(time.DateOnly))
	}
	horizon := today.AddDate(0, 0, s.opts.MaxBookingDays)
	if dr.End.After(horizon) {
		return fmt.Errorf("%w: end %s is more than %d days ahead", domain.ErrInvalidRange, dr.End.Format(time.DateOnly), s.opts.MaxBookingDays)
	}
	return nil
}

func (s *BookingService) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*models.Booking, error) {
	dr, err := daterange.New(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	if err := s.validateStay(dr); err != nil {
		return nil, err
	}

	p, err := s.repo.LoadProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if p.HostID == req.GuestID {
		return nil, fmt.Errorf("%w: host %d cannot book own property", domain.ErrNotAuthorized, req.GuestID)
	}

	beds, err := locator.Resolve(p, req.Scope)
	if err != nil {
		return nil, err
	}

	// Свежий индекс: решение о допуске не принимается по кэшу
	ix, err := s.buildIndex(ctx, p)
	if err != nil {
		return nil, err
	}
	if res := availability.Check(ix, beds, dr, nil); !res.Available {
		s.recordConflict(res.Conflict)
		return nil, res.Conflict
	}

	booking := &models.Booking{
		PropertyID: p.ID,
		GuestID:    req.GuestID,
		HostID:     p.HostID,
		Range:      dr,
		Scope:      req.Scope,
		BookedBeds: locator.Snapshot(p, beds),
		TotalPrice: locator.NightlyPrice(p, beds) * int64(dr.Nights()),
		Status:     models.StatusPending,
	}
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}

	s.invalidateProperty(ctx, p.ID)
	metrics.IncTransition(models.StatusPending)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("property_id", p.ID).
		Int64("guest_id", req.GuestID).
		Str("range", dr.String()).
		Msg("booking created")

	s.publishEvent(events.EventBookingCreated, booking, req.GuestID, "")
	return booking, nil
}

// ConfirmBooking re-checks the booking against confirmed bookings and blocks
// under the property lock. A lost optimistic commit is retried once.
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	var lastErr error
	for attempt := 1; attempt <= confirmAttempts; attempt++ {
		booking, err := s.confirmOnce(ctx, bookingID, actor)
		if err == nil {
			return booking, nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn().Int64("booking_id", bookingID).Int("attempt", attempt).Msg("confirm lost an optimistic commit")
	}
	metrics.IncConflict("version")
	return nil, fmt.Errorf("%w: booking %d: %v", domain.ErrBookingConflict, bookingID, lastErr)
}

func (s *BookingService) confirmOnce(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.HostID != actor.UserID {
		return nil, fmt.Errorf("%w: user %d is not the host of booking %d", domain.ErrNotAuthorized, actor.UserID, bookingID)
	}
	if !models.CanTransition(booking.Status, models.StatusConfirmed) {
		return nil, invalidTransition(booking, models.StatusConfirmed)
	}

	unlock := s.locks.lock(booking.PropertyID)
	defer unlock()

	p, err := s.repo.LoadProperty(ctx, booking.PropertyID)
	if err != nil {
		return nil, err
	}
	ix, err := s.buildIndex(ctx, p)
	if err != nil {
		return nil, err
	}

	// Чужие pending не мешают подтверждению, только confirmed и блокировки
	source := availability.SourceOf(availability.KindBooking, booking.ID)
	filter := availability.All(availability.ExcludeSource(source), availability.IgnorePending())
	if res := availability.Check(ix, booking.BedIDs(), booking.Range, filter); !res.Available {
		s.recordConflict(res.Conflict)
		return nil, res.Conflict
	}

	if err := s.repo.ConfirmBookingWithVersion(ctx, booking.ID, booking.Version, p.ID, p.Version); err != nil {
		return nil, err
	}
	s.invalidateProperty(ctx, p.ID)

	booking.Status = models.StatusConfirmed
	booking.Version++
	booking.UpdatedAt = s.opts.Now().UTC()

	metrics.IncTransition(models.StatusConfirmed)
	s.logger.Info().Int64("booking_id", booking.ID).Int64("host_id", actor.UserID).Msg("booking confirmed")
	s.publishEvent(events.EventBookingConfirmed, booking, actor.UserID, "")
	return booking, nil
}

func (s *BookingService) RejectBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	return s.transition(ctx, bookingID, actor, models.StatusRejected, events.EventBookingRejected, func(b *models.Booking) bool {
		return b.HostID == actor.UserID
	})
}

// CancelBooking is open to both parties.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	return s.transition(ctx, bookingID, actor, models.StatusCancelled, events.EventBookingCancelled, func(b *models.Booking) bool {
		return b.IsParty(actor.UserID)
	})
}

// transition moves a booking to a terminal status, which frees its beds. A lost
// update is re-read once: a concurrent confirm may have left the booking in a
// state the move is still legal from.
func (s *BookingService) transition(
	ctx context.Context,
	bookingID int64,
	actor models.Actor,
	to, eventType string,
	allowed func(*models.Booking) bool,
) (*models.Booking, error) {
	var booking *models.Booking
	for attempt := 1; ; attempt++ {
		var err error
		booking, err = s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return nil, err
		}
		if !allowed(booking) {
			return nil, fmt.Errorf("%w: user %d may not move booking %d to %s", domain.ErrNotAuthorized, actor.UserID, bookingID, to)
		}
		if !models.CanTransition(booking.Status, to) {
			return nil, invalidTransition(booking, to)
		}

		err = s.repo.UpdateBookingStatusWithVersion(ctx, booking.ID, booking.Version, to)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
		if attempt == 2 {
			return nil, fmt.Errorf("%w: booking %d changed while moving to %s", domain.ErrInvalidTransition, bookingID, to)
		}
		s.logger.Debug().Int64("booking_id", bookingID).Str("status", to).Msg("booking changed concurrently, re-reading")
	}

	// Инвалидация строго после записи статуса
	s.invalidateProperty(ctx, booking.PropertyID)

	booking.Status = to
	booking.Version++
	booking.UpdatedAt = s.opts.Now().UTC()

	metrics.IncTransition(to)
	s.logger.Info().Int64("booking_id", booking.ID).Int64("actor_id", actor.UserID).Str("status", to).Msg("booking status changed")
	s.publishEvent(eventType, booking, actor.UserID, "")
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.IsParty(actor.UserID) {
		return nil, fmt.Errorf("%w: booking %d", domain.ErrNotAuthorized, bookingID)
	}
	return booking, nil
}

func (s *BookingService) ListGuestBookings(ctx context.Context, actor models.Actor) ([]*models.Booking, error) {
	return s.repo.ListGuestBookings(ctx, actor.UserID)
}

func (s *BookingService) ListHostBookings(ctx context.Context, actor models.Actor) ([]*models.Booking, error) {
	return s.repo.ListHostBookings(ctx, actor.UserID)
}

func invalidTransition(b *models.Booking, to string) error {
	return fmt.Errorf("%w: booking %d is %s, cannot become %s", domain.ErrInvalidTransition, b.ID, b.Status, to)
}

func (s *BookingService) recordConflict(c *domain.ConflictError) {
	kind, _, _ := strings.Cut(c.Source, ":")
	metrics.IncConflict(kind)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, changedBy int64, message string) {
	if s.eventBus == nil {
		return
	}

	beds := make([]string, len(booking.BookedBeds))
	for i, bb := range booking.BookedBeds {
		beds[i] = bb.Bed.String()
	}
	payload := events.BookingEventPayload{
		BookingID:  booking.ID,
		PropertyID: booking.PropertyID,
		GuestID:    booking.GuestID,
		HostID:     booking.HostID,
		Status:     booking.Status,
		Start:      booking.Range.Start,
		End:        booking.Range.End,
		Beds:       beds,
		ChangedBy:  changedBy,
		Message:    message,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
