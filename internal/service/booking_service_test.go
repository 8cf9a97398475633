package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beds4crew/internal/daterange"
	"beds4crew/internal/domain"
	"beds4crew/internal/events"
	"beds4crew/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) LoadProperty(ctx context.Context, id int64) (*models.Property, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Property), args.Error(1)
}
func (m *mockRepo) LoadActiveBookingsForProperty(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) LoadBlockedPeriods(ctx context.Context, id int64) ([]*models.BlockedPeriod, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.BlockedPeriod), args.Error(1)
}
func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) ConfirmBookingWithVersion(ctx context.Context, id, bv, pid, pv int64) error {
	return m.Called(ctx, id, bv, pid, pv).Error(0)
}
func (m *mockRepo) UpdateBookingStatusWithVersion(ctx context.Context, id, v int64, s string) error {
	return m.Called(ctx, id, v, s).Error(0)
}
func (m *mockRepo) ListGuestBookings(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) ListHostBookings(ctx context.Context, id int64) ([]*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}
func (m *mockRepo) AppendMessage(ctx context.Context, id int64, msg *models.Message) error {
	return m.Called(ctx, id, msg).Error(0)
}
func (m *mockRepo) MarkRead(ctx context.Context, id, userID int64, at time.Time) error {
	return m.Called(ctx, id, userID, at).Error(0)
}
func (m *mockRepo) CountUnread(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *mockRepo) SaveBlockedPeriod(ctx context.Context, b *models.BlockedPeriod) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) DeleteBlockedPeriod(ctx context.Context, pid, id int64) error {
	return m.Called(ctx, pid, id).Error(0)
}

type recordingBus struct {
	mu     sync.Mutex
	types  []string
	events []interface{}
}

func (r *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	r.events = append(r.events, payload)
	return nil
}

func (r *recordingBus) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

var testNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

const (
	hostID  = int64(10)
	guestID = int64(77)
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)
	return d
}

func dayRange(t *testing.T, start, end string) daterange.DayRange {
	t.Helper()
	dr, err := daterange.Parse(start, end)
	require.NoError(t, err)
	return dr
}

// hostel has a dorm with B1 (50) and B2 (40) and a private room with one bed.
func hostel() *models.Property {
	return &models.Property{
		ID:       1,
		HostID:   hostID,
		Title:    "Harbour Hostel",
		IsActive: true,
		Version:  3,
		Rooms: []models.Room{
			{Index: 0, Label: "Dorm", Beds: []models.Bed{
				{Index: 0, Label: "B1", PricePerNight: 50},
				{Index: 1, Label: "B2", PricePerNight: 40},
			}},
			{Index: 1, Label: "Private", IsPrivate: true, Beds: []models.Bed{
				{Index: 0, Label: "Double", PricePerNight: 100},
			}},
		},
	}
}

func bedID(room, b int) models.BedID {
	return models.BedID{PropertyID: 1, Room: room, Bed: b}
}

func pendingBooking(id int64, r daterange.DayRange, beds ...models.BedID) *models.Booking {
	b := &models.Booking{
		ID:         id,
		PropertyID: 1,
		GuestID:    guestID,
		HostID:     hostID,
		Range:      r,
		Scope:      models.EntireScope(),
		Status:     models.StatusPending,
		Version:    1,
	}
	for _, bed := range beds {
		b.BookedBeds = append(b.BookedBeds, models.BookedBed{Bed: bed})
	}
	return b
}

func newTestService(repo domain.Repository, bus domain.EventPublisher) *BookingService {
	logger := zerolog.Nop()
	return NewBookingService(repo, nil, nil, bus, Options{
		IndexBuildTimeout: time.Second,
		Now:               func() time.Time { return testNow },
	}, &logger)
}

func expectIndex(repo *mockRepo, p *models.Property, bookings []*models.Booking, blocks []*models.BlockedPeriod) {
	repo.On("LoadProperty", mock.Anything, p.ID).Return(p, nil)
	repo.On("LoadActiveBookingsForProperty", mock.Anything, p.ID).Return(bookings, nil)
	repo.On("LoadBlockedPeriods", mock.Anything, p.ID).Return(blocks, nil)
}

var (
	host  = models.Actor{UserID: hostID, Role: models.RoleHost}
	guest = models.Actor{UserID: guestID, Role: models.RoleGuest}
)

func TestCreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo := new(mockRepo)
		bus := &recordingBus{}
		svc := newTestService(repo, bus)
		expectIndex(repo, hostel(), nil, nil)
		repo.On("CreateBooking", mock.Anything, mock.AnythingOfType("*models.Booking")).
			Run(func(args mock.Arguments) {
				b := args.Get(1).(*models.Booking)
				b.ID = 42
				b.Version = 1
			}).Return(nil)

		b, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1,
			GuestID:    guestID,
			Scope:      models.RoomScope(0),
			Start:      day(t, "2025-07-10"),
			End:        day(t, "2025-07-12"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), b.ID)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.Equal(t, hostID, b.HostID)
		assert.Equal(t, []models.BedID{bedID(0, 0), bedID(0, 1)}, b.BedIDs())
		assert.Equal(t, "Dorm, B1", b.BookedBeds[0].Label)
		// two nights at 50 + 40
		assert.Equal(t, int64(180), b.TotalPrice)
		assert.Equal(t, []string{events.EventBookingCreated}, bus.Types())
		repo.AssertExpectations(t)
	})

	t.Run("ConflictOnFirstBed", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		existing := pendingBooking(5, dayRange(t, "2025-07-10", "2025-07-12"), bedID(0, 0))
		expectIndex(repo, hostel(), []*models.Booking{existing}, nil)

		_, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1,
			GuestID:    guestID + 1,
			Scope:      models.EntireScope(),
			Start:      day(t, "2025-07-11"),
			End:        day(t, "2025-07-13"),
		})
		require.ErrorIs(t, err, domain.ErrBookingConflict)
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, bedID(0, 0), conflict.Bed)
		assert.Equal(t, "booking:5", conflict.Source)
		repo.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	})

	t.Run("OtherBedFree", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		existing := pendingBooking(5, dayRange(t, "2025-07-10", "2025-07-12"), bedID(0, 0))
		expectIndex(repo, hostel(), []*models.Booking{existing}, nil)
		repo.On("CreateBooking", mock.Anything, mock.Anything).Return(nil)

		b, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1,
			GuestID:    guestID + 1,
			Scope:      models.BedScope(0, 1),
			Start:      day(t, "2025-07-11"),
			End:        day(t, "2025-07-13"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(80), b.TotalPrice)
	})

	t.Run("BlockedPeriod", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		block := &models.BlockedPeriod{ID: 9, PropertyID: 1, Range: dayRange(t, "2025-07-01", "2025-07-31"), Scope: models.RoomScope(1)}
		expectIndex(repo, hostel(), nil, []*models.BlockedPeriod{block})

		_, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1,
			GuestID:    guestID,
			Scope:      models.BedScope(1, 0),
			Start:      day(t, "2025-07-20"),
			End:        day(t, "2025-07-20"),
		})
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "block:9", conflict.Source)
		assert.Equal(t, models.ScopeRoom, conflict.SourceScope.Kind())
	})

	t.Run("HostCannotBookOwnProperty", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("LoadProperty", mock.Anything, int64(1)).Return(hostel(), nil)

		_, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1, GuestID: hostID, Start: day(t, "2025-07-10"), End: day(t, "2025-07-11"),
		})
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("InvalidRanges", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)

		cases := map[string][2]string{
			"EndBeforeStart": {"2025-07-12", "2025-07-10"},
			"StartInPast":    {"2025-05-31", "2025-06-02"},
			"BeyondHorizon":  {"2026-06-01", "2026-06-03"},
		}
		for name, r := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
					PropertyID: 1, GuestID: guestID, Start: day(t, r[0]), End: day(t, r[1]),
				})
				assert.ErrorIs(t, err, domain.ErrInvalidRange)
			})
		}
		repo.AssertNotCalled(t, "LoadProperty", mock.Anything, mock.Anything)
	})

	t.Run("InactiveProperty", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		p := hostel()
		p.IsActive = false
		repo.On("LoadProperty", mock.Anything, int64(1)).Return(p, nil)

		_, err := svc.CreateBooking(ctx, domain.CreateBookingRequest{
			PropertyID: 1, GuestID: guestID, Start: day(t, "2025-07-10"), End: day(t, "2025-07-11"),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidResource)
	})
}

func TestConfirmBooking(t *testing.T) {
	ctx := context.Background()
	r := dayRange(t, "2025-07-10", "2025-07-12")

	t.Run("IgnoresOtherPending", func(t *testing.T) {
		repo := new(mockRepo)
		bus := &recordingBus{}
		svc := newTestService(repo, bus)
		target := pendingBooking(1, r, bedID(0, 0))
		competitor := pendingBooking(2, r, bedID(0, 0))
		repo.On("GetBooking", mock.Anything, int64(1)).Return(target, nil)
		expectIndex(repo, hostel(), []*models.Booking{target, competitor}, nil)
		repo.On("ConfirmBookingWithVersion", mock.Anything, int64(1), int64(1), int64(1), int64(3)).Return(nil)

		b, err := svc.ConfirmBooking(ctx, 1, host)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		assert.Equal(t, int64(2), b.Version)
		assert.Equal(t, []string{events.EventBookingConfirmed}, bus.Types())
	})

	t.Run("ConflictWithConfirmedLeavesPending", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		target := pendingBooking(1, r, bedID(0, 0))
		confirmed := pendingBooking(2, dayRange(t, "2025-07-12", "2025-07-14"), bedID(0, 0))
		confirmed.Status = models.StatusConfirmed
		repo.On("GetBooking", mock.Anything, int64(1)).Return(target, nil)
		expectIndex(repo, hostel(), []*models.Booking{target, confirmed}, nil)

		_, err := svc.ConfirmBooking(ctx, 1, host)
		var conflict *domain.ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "booking:2", conflict.Source)
		assert.Equal(t, models.StatusPending, target.Status)
		repo.AssertNotCalled(t, "ConfirmBookingWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "UpdateBookingStatusWithVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RetriesOnceAfterLostCommit", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil).Once()
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil).Once()
		expectIndex(repo, hostel(), nil, nil)
		repo.On("ConfirmBookingWithVersion", mock.Anything, int64(1), int64(1), int64(1), int64(3)).
			Return(domain.ErrConcurrentModification).Once()
		repo.On("ConfirmBookingWithVersion", mock.Anything, int64(1), int64(1), int64(1), int64(3)).
			Return(nil).Once()

		b, err := svc.ConfirmBooking(ctx, 1, host)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		repo.AssertNumberOfCalls(t, "ConfirmBookingWithVersion", 2)
	})

	t.Run("SecondLostCommitIsConflict", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil)
		expectIndex(repo, hostel(), nil, nil)
		repo.On("ConfirmBookingWithVersion", mock.Anything, int64(1), int64(1), int64(1), int64(3)).
			Return(domain.ErrConcurrentModification)

		_, err := svc.ConfirmBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrBookingConflict)
		repo.AssertNumberOfCalls(t, "ConfirmBookingWithVersion", confirmAttempts)
	})

	t.Run("OnlyHost", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil)

		_, err := svc.ConfirmBooking(ctx, 1, guest)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("OnlyFromPending", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		b := pendingBooking(1, r, bedID(0, 0))
		b.Status = models.StatusCancelled
		repo.On("GetBooking", mock.Anything, int64(1)).Return(b, nil)

		_, err := svc.ConfirmBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestRejectBooking(t *testing.T) {
	ctx := context.Background()
	r := dayRange(t, "2025-07-10", "2025-07-12")

	t.Run("SecondRejectFails", func(t *testing.T) {
		repo := new(mockRepo)
		bus := &recordingBus{}
		svc := newTestService(repo, bus)
		rejected := pendingBooking(1, r, bedID(0, 0))
		rejected.Status = models.StatusRejected
		rejected.Version = 2
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil).Once()
		repo.On("GetBooking", mock.Anything, int64(1)).Return(rejected, nil).Once()
		repo.On("UpdateBookingStatusWithVersion", mock.Anything, int64(1), int64(1), models.StatusRejected).Return(nil).Once()

		b, err := svc.RejectBooking(ctx, 1, host)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, b.Status)

		_, err = svc.RejectBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, []string{events.EventBookingRejected}, bus.Types())
		repo.AssertExpectations(t)
	})

	t.Run("ConfirmedCannotBeRejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		b := pendingBooking(1, r, bedID(0, 0))
		b.Status = models.StatusConfirmed
		repo.On("GetBooking", mock.Anything, int64(1)).Return(b, nil)

		_, err := svc.RejectBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("GuestCannotReject", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil)

		_, err := svc.RejectBooking(ctx, 1, guest)
		assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	})

	t.Run("LostUpdate", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, r, bedID(0, 0)), nil)
		repo.On("UpdateBookingStatusWithVersion", mock.Anything, int64(1), int64(1), models.StatusRejected).
			Return(domain.ErrConcurrentModification)

		_, err := svc.RejectBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	r := dayRange(t, "2025-07-10", "2025-07-12")

	confirmed := func() *models.Booking {
		b := pendingBooking(1, r, bedID(0, 0))
		b.Status = models.StatusConfirmed
		b.Version = 4
		return b
	}

	for _, actor := range []models.Actor{guest, host} {
		repo := new(mockRepo)
		svc := newTestService(repo, nil)
		repo.On("GetBooking", mock.Anything, int64(1)).Return(confirmed(), nil)
		repo.On("UpdateBookingStatusWithVersion", mock.Anything, int64(1), int64(4), models.StatusCancelled).Return(nil)

		b, err := svc.CancelBooking(ctx, 1, actor)
		require.NoError(t, err, "actor %d", actor.UserID)
		assert.Equal(t, models.StatusCancelled, b.Status)
	}

	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	repo.On("GetBooking", mock.Anything, int64(1)).Return(confirmed(), nil)
	_, err := svc.CancelBooking(ctx, 1, models.Actor{UserID: 999, Role: models.RoleGuest})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestTransitionRacingConfirm(t *testing.T) {
	ctx := context.Background()
	r := dayRange(t, "2025-07-10", "2025-07-12")

	// the host confirms between our read and our write
	racedRepo := func(to string) *mockRepo {
		repo := new(mockRepo)
		pending := pendingBooking(1, r, bedID(0, 0))
		confirmed := pendingBooking(1, r, bedID(0, 0))
		confirmed.Status = models.StatusConfirmed
		confirmed.Version = 2
		repo.On("GetBooking", mock.Anything, int64(1)).Return(pending, nil).Once()
		repo.On("GetBooking", mock.Anything, int64(1)).Return(confirmed, nil).Once()
		repo.On("UpdateBookingStatusWithVersion", mock.Anything, int64(1), int64(1), to).
			Return(domain.ErrConcurrentModification).Once()
		return repo
	}

	t.Run("CancelStillLegal", func(t *testing.T) {
		repo := racedRepo(models.StatusCancelled)
		repo.On("UpdateBookingStatusWithVersion", mock.Anything, int64(1), int64(2), models.StatusCancelled).Return(nil).Once()
		bus := &recordingBus{}
		svc := newTestService(repo, bus)

		b, err := svc.CancelBooking(ctx, 1, guest)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		assert.Equal(t, int64(3), b.Version)
		assert.Equal(t, []string{events.EventBookingCancelled}, bus.Types())
		repo.AssertExpectations(t)
	})

	t.Run("RejectNoLongerLegal", func(t *testing.T) {
		repo := racedRepo(models.StatusRejected)
		svc := newTestService(repo, nil)

		_, err := svc.RejectBooking(ctx, 1, host)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		repo.AssertExpectations(t)
		repo.AssertNumberOfCalls(t, "UpdateBookingStatusWithVersion", 1)
	})
}

func TestCheckAvailabilityServedFromCache(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	repo.On("LoadProperty", mock.Anything, int64(1)).Return(hostel(), nil)
	repo.On("LoadActiveBookingsForProperty", mock.Anything, int64(1)).Return(nil, nil).Once()
	repo.On("LoadBlockedPeriods", mock.Anything, int64(1)).Return(nil, nil).Once()

	for i := 0; i < 3; i++ {
		res, err := svc.CheckAvailability(ctx, 1, models.EntireScope(), day(t, "2025-07-01"), day(t, "2025-07-03"))
		require.NoError(t, err)
		assert.True(t, res.Available)
	}
	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "LoadActiveBookingsForProperty", 1)

	_, err := svc.CheckAvailability(ctx, 1, models.BedScope(0, 7), day(t, "2025-07-01"), day(t, "2025-07-03"))
	assert.ErrorIs(t, err, domain.ErrInvalidResource)

	_, err = svc.CheckAvailability(ctx, 1, models.EntireScope(), day(t, "2025-07-03"), day(t, "2025-07-01"))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestCheckAvailabilityRebuildsOnNewPropertyVersion(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	svc := newTestService(repo, nil)

	active := hostel()
	deactivated := hostel()
	deactivated.IsActive = false
	deactivated.Version = active.Version + 1

	repo.On("LoadProperty", mock.Anything, int64(1)).Return(active, nil).Once()
	repo.On("LoadProperty", mock.Anything, int64(1)).Return(deactivated, nil)
	repo.On("LoadActiveBookingsForProperty", mock.Anything, int64(1)).Return(nil, nil)
	repo.On("LoadBlockedPeriods", mock.Anything, int64(1)).Return(nil, nil)

	res, err := svc.CheckAvailability(ctx, 1, models.BedScope(0, 1), day(t, "2025-07-01"), day(t, "2025-07-03"))
	require.NoError(t, err)
	require.True(t, res.Available)

	_, err = svc.CheckAvailability(ctx, 1, models.BedScope(0, 1), day(t, "2025-07-01"), day(t, "2025-07-03"))
	assert.ErrorIs(t, err, domain.ErrInvalidResource)

	_, err = svc.Calendar(ctx, 1, day(t, "2025-07-01"), day(t, "2025-07-03"))
	assert.ErrorIs(t, err, domain.ErrInvalidResource)

	// the stale index was not served
	repo.AssertNumberOfCalls(t, "LoadActiveBookingsForProperty", 2)
}

func TestIndexBuildTimeout(t *testing.T) {
	repo := new(mockRepo)
	logger := zerolog.Nop()
	svc := NewBookingService(repo, nil, nil, nil, Options{
		IndexBuildTimeout: 20 * time.Millisecond,
		Now:               func() time.Time { return testNow },
	}, &logger)

	repo.On("LoadProperty", mock.Anything, int64(1)).Return(hostel(), nil)
	repo.On("LoadActiveBookingsForProperty", mock.Anything, int64(1)).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	_, err := svc.CheckAvailability(context.Background(), 1, models.EntireScope(), day(t, "2025-07-01"), day(t, "2025-07-03"))
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCalendar(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	b := pendingBooking(1, dayRange(t, "2025-06-02", "2025-06-03"), bedID(0, 0), bedID(0, 1))
	b.Status = models.StatusConfirmed
	blocks := []*models.BlockedPeriod{
		{ID: 3, PropertyID: 1, Range: dayRange(t, "2025-06-03", "2025-06-04"), Scope: models.RoomScope(1)},
		{ID: 4, PropertyID: 1, Range: dayRange(t, "2025-06-05", "2025-06-05"), Scope: models.EntireScope()},
	}
	expectIndex(repo, hostel(), []*models.Booking{b}, blocks)

	days, err := svc.Calendar(context.Background(), 1, day(t, "2025-05-31"), day(t, "2025-06-06"))
	require.NoError(t, err)
	require.Len(t, days, 7)

	states := make([]string, len(days))
	for i, d := range days {
		states[i] = d.State
		assert.Equal(t, 3, d.TotalBeds)
	}
	assert.Equal(t, []string{
		models.DayFree,    // 05-31
		models.DayFree,    // 06-01
		models.DayPartial, // 06-02 dorm booked
		models.DayBooked,  // 06-03 dorm booked, private blocked
		models.DayPartial, // 06-04 private blocked
		models.DayBlocked, // 06-05
		models.DayFree,    // 06-06
	}, states)
	assert.True(t, days[0].Past)
	assert.False(t, days[1].Past)
	assert.Equal(t, 1, days[2].FreeBeds)

	_, err = svc.Calendar(context.Background(), 1, day(t, "2025-01-01"), day(t, "2027-01-01"))
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestOccupancy(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	b := pendingBooking(1, dayRange(t, "2025-06-02", "2025-06-02"), bedID(0, 1))
	expectIndex(repo, hostel(), []*models.Booking{b}, nil)

	grid, err := svc.Occupancy(context.Background(), 1, day(t, "2025-06-01"), day(t, "2025-06-03"), host)
	require.NoError(t, err)
	require.Len(t, grid.Beds, 3)
	require.Len(t, grid.Days, 3)
	assert.Equal(t, "Dorm, B2", grid.Beds[1].Label)
	assert.Equal(t, models.DayBooked, grid.Cells[1][1].State)
	assert.Equal(t, "booking:1", grid.Cells[1][1].Source)
	assert.Equal(t, models.DayFree, grid.Cells[0][1].State)

	_, err = svc.Occupancy(context.Background(), 1, day(t, "2025-06-01"), day(t, "2025-06-03"), guest)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestGetBookingVisibility(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, nil)
	repo.On("GetBooking", mock.Anything, int64(1)).Return(pendingBooking(1, dayRange(t, "2025-07-01", "2025-07-02"), bedID(0, 0)), nil)
	repo.On("GetBooking", mock.Anything, int64(2)).Return(nil, domain.ErrNotFound)

	_, err := svc.GetBooking(context.Background(), 1, guest)
	assert.NoError(t, err)
	_, err = svc.GetBooking(context.Background(), 1, models.Actor{UserID: 5})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = svc.GetBooking(context.Background(), 2, guest)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPropertyLocks(t *testing.T) {
	locks := newPropertyLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(1)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())

	// different properties do not wait for each other
	unlockA := locks.lock(1)
	unlockB := locks.lock(2)
	assert.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
}
