package domain

import (
	"context"
	"time"

	"beds4crew/internal/models"
)

type Repository interface {
	LoadProperty(ctx context.Context, id int64) (*models.Property, error)
	LoadActiveBookingsForProperty(ctx context.Context, propertyID int64) ([]*models.Booking, error)
	LoadBlockedPeriods(ctx context.Context, propertyID int64) ([]*models.BlockedPeriod, error)

	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	ConfirmBookingWithVersion(ctx context.Context, id, bookingVersion, propertyID, propertyVersion int64) error
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status string) error
	ListGuestBookings(ctx context.Context, guestID int64) ([]*models.Booking, error)
	ListHostBookings(ctx context.Context, hostID int64) ([]*models.Booking, error)

	AppendMessage(ctx context.Context, bookingID int64, msg *models.Message) error
	MarkRead(ctx context.Context, bookingID, userID int64, at time.Time) error
	CountUnread(ctx context.Context, userID int64) (int, error)

	SaveBlockedPeriod(ctx context.Context, block *models.BlockedPeriod) error
	DeleteBlockedPeriod(ctx context.Context, propertyID, blockID int64) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type BookingService interface {
	CheckAvailability(ctx context.Context, propertyID int64, scope models.Scope, start, end time.Time) (AvailabilityResult, error)
	CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	RejectBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	AppendMessage(ctx context.Context, bookingID int64, actor models.Actor, text string) (*models.Message, error)
	MarkRead(ctx context.Context, bookingID int64, actor models.Actor) error
	UnreadCount(ctx context.Context, actor models.Actor) (int, error)
	GetBooking(ctx context.Context, bookingID int64, actor models.Actor) (*models.Booking, error)
	ListGuestBookings(ctx context.Context, actor models.Actor) ([]*models.Booking, error)
	ListHostBookings(ctx context.Context, actor models.Actor) ([]*models.Booking, error)
	AddBlockedPeriod(ctx context.Context, req AddBlockRequest) (*models.BlockedPeriod, error)
	RemoveBlockedPeriod(ctx context.Context, propertyID, blockID int64, actor models.Actor) error
	Calendar(ctx context.Context, propertyID int64, start, end time.Time) ([]models.CalendarDay, error)
	Occupancy(ctx context.Context, propertyID int64, start, end time.Time, actor models.Actor) (*OccupancyGrid, error)
}

type CreateBookingRequest struct {
	PropertyID int64
	GuestID    int64
	Scope      models.Scope
	Start      time.Time
	End        time.Time
}

type AddBlockRequest struct {
	PropertyID int64
	Actor      models.Actor
	Scope      models.Scope
	Start      time.Time
	End        time.Time
	Reason     string
}

// AvailabilityResult is the answer to an availability check. Conflict is set
// only when the request is not bookable.
type AvailabilityResult struct {
	Available bool           `json:"available"`
	Conflict  *ConflictError `json:"conflict,omitempty"`
}

// OccupancyGrid is a per-bed, per-day occupancy table of a property.
type OccupancyGrid struct {
	Property *models.Property
	Days     []time.Time
	Beds     []models.BookedBed
	Cells    [][]models.BedDay // Cells[bed][day]
}
