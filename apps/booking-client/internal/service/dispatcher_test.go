package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/gateway"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/guard"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/repository"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
	"github.com/prohmpiriya/homeservice-client/pkg/retry"
)

// mockBookingAPI is a mock implementation of BookingAPI
type mockBookingAPI struct {
	mock.Mock
}

func (m *mockBookingAPI) Mine(ctx context.Context) ([]*domain.Booking, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]*domain.Booking)
	return list, args.Error(1)
}

func (m *mockBookingAPI) Act(ctx context.Context, bookingID string, action domain.Action) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID, action)
	b, _ := args.Get(0).(*domain.Booking)
	return b, args.Error(1)
}

func (m *mockBookingAPI) Create(ctx context.Context, workerID string, n domain.NewBooking, idempotencyKey string) (*domain.Booking, error) {
	args := m.Called(ctx, workerID, n, idempotencyKey)
	b, _ := args.Get(0).(*domain.Booking)
	return b, args.Error(1)
}

func (m *mockBookingAPI) Rate(ctx context.Context, review domain.Review) (domain.RatingSummary, error) {
	args := m.Called(ctx, review)
	return args.Get(0).(domain.RatingSummary), args.Error(1)
}

// mockNavigator records redirects
type mockNavigator struct {
	mock.Mock
}

func (m *mockNavigator) Redirect(surface guard.Surface) {
	m.Called(surface)
}

var fastRetry = &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}

type dispatcherFixture struct {
	api   *mockBookingAPI
	nav   *mockNavigator
	cache *repository.BookingCache
	store *store.MemoryStore
	d     *Dispatcher
}

func newDispatcherFixture(t *testing.T, role domain.Role, bookings ...*domain.Booking) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		api:   &mockBookingAPI{},
		nav:   &mockNavigator{},
		cache: repository.NewBookingCache(),
		store: store.NewMemoryStore(domain.Session{AccessToken: "tok", RefreshToken: "ref", Role: role, UserID: "7"}),
	}
	f.cache.Load(bookings)
	f.d = NewDispatcher(f.api, f.cache, f.store, f.nav, &DispatcherConfig{Retry: fastRetry}, nil)
	t.Cleanup(func() {
		f.api.AssertExpectations(t)
		f.nav.AssertExpectations(t)
	})
	return f
}

func testBooking(id string, status domain.Status) *domain.Booking {
	return &domain.Booking{
		ID:            id,
		CustomerID:    "7",
		WorkerID:      "9",
		ServiceID:     "3",
		ScheduledDate: "2026-11-02",
		ScheduledTime: "10:30",
		Status:        status,
	}
}

func TestPerform_CancelIsVisibleBeforeServerConfirms(t *testing.T) {
	f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusPending))

	var events []repository.Event
	f.cache.Subscribe(func(e repository.Event) { events = append(events, e) })

	f.api.On("Act", mock.Anything, "b1", domain.ActionCancel).
		Run(func(mock.Arguments) {
			b, err := f.cache.Get("b1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCancelled, b.Status, "optimistic state is visible during the call")
		}).
		Return(&domain.Booking{ID: "b1", Status: domain.StatusCancelled}, nil).Once()

	got, err := f.d.Perform(context.Background(), "b1", domain.ActionCancel)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, "2026-11-02", got.ScheduledDate, "partial server answer is merged")

	require.Len(t, events, 2)
	assert.True(t, events[0].Optimistic)
	assert.False(t, events[1].Optimistic)
	assert.Equal(t, domain.StatusCancelled, events[1].Booking.Status)
}

func TestPerform_ServerRecordIsAuthoritative(t *testing.T) {
	f := newDispatcherFixture(t, domain.RoleWorker, testBooking("b1", domain.StatusPending))
	f.api.On("Act", mock.Anything, "b1", domain.ActionAccept).
		Return(&domain.Booking{ID: "b1", Status: domain.StatusAccepted, ScheduledTime: "11:00"}, nil).Once()

	got, err := f.d.Perform(context.Background(), "b1", domain.ActionAccept)

	require.NoError(t, err)
	cached, _ := f.cache.Get("b1")
	assert.Equal(t, got, cached)
	assert.Equal(t, "11:00", cached.ScheduledTime)
}

func TestPerform_EmptyServerAnswerKeepsExpectedStatus(t *testing.T) {
	f := newDispatcherFixture(t, domain.RoleWorker, testBooking("b1", domain.StatusAccepted))
	f.api.On("Act", mock.Anything, "b1", domain.ActionComplete).Return(&domain.Booking{}, nil).Once()

	got, err := f.d.Perform(context.Background(), "b1", domain.ActionComplete)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "b1", got.ID)
}

func TestPerform_RoleGatingNeverReachesNetwork(t *testing.T) {
	tests := []struct {
		name   string
		role   domain.Role
		status domain.Status
		action domain.Action
	}{
		{"customer accept", domain.RoleCustomer, domain.StatusPending, domain.ActionAccept},
		{"customer decline", domain.RoleCustomer, domain.StatusPending, domain.ActionDecline},
		{"customer complete", domain.RoleCustomer, domain.StatusAccepted, domain.ActionComplete},
		{"worker cancel", domain.RoleWorker, domain.StatusPending, domain.ActionCancel},
		{"guest cancel", domain.RoleGuest, domain.StatusPending, domain.ActionCancel},
		{"terminal", domain.RoleWorker, domain.StatusDeclined, domain.ActionAccept},
		{"cancel accepted", domain.RoleCustomer, domain.StatusAccepted, domain.ActionCancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t, tt.role, testBooking("b1", tt.status))
			events := 0
			f.cache.Subscribe(func(repository.Event) { events++ })

			_, err := f.d.Perform(context.Background(), "b1", tt.action)

			assert.True(t, errors.Is(err, domain.ErrForbidden))
			var de *DispatchError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "b1", de.BookingID)
			assert.Equal(t, tt.action, de.Action)

			assert.Zero(t, events)
			f.api.AssertNotCalled(t, "Act", mock.Anything, mock.Anything, mock.Anything)
			cached, _ := f.cache.Get("b1")
			assert.Equal(t, tt.status, cached.Status)
		})
	}
}

func TestPerform_RollbackRestoresPreActionValue(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{"network", &gateway.Error{Kind: gateway.KindNetwork, Message: "request failed"}, gateway.ErrNetwork},
		{"validation", &gateway.Error{Kind: gateway.KindValidation, StatusCode: 400}, gateway.ErrValidation},
		{"not found", &gateway.Error{Kind: gateway.KindNotFound, StatusCode: 404}, gateway.ErrNotFound},
		{"forbidden", &gateway.Error{Kind: gateway.KindForbidden, StatusCode: 403}, gateway.ErrForbidden},
		{"server", &gateway.Error{Kind: gateway.KindServer, StatusCode: 500}, gateway.ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := testBooking("b1", domain.StatusPending)
			f := newDispatcherFixture(t, domain.RoleWorker, original)
			f.api.On("Act", mock.Anything, "b1", domain.ActionAccept).Return(nil, tt.err).Once()

			_, err := f.d.Perform(context.Background(), "b1", domain.ActionAccept)

			assert.True(t, errors.Is(err, tt.is))
			cached, _ := f.cache.Get("b1")
			assert.Equal(t, original, cached)
			f.nav.AssertNotCalled(t, "Redirect", mock.Anything)
		})
	}
}

func TestPerform_ConflictReloadsBooking(t *testing.T) {
	f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusPending), testBooking("b2", domain.StatusPending))
	f.api.On("Act", mock.Anything, "b1", domain.ActionCancel).
		Return(nil, &gateway.Error{Kind: gateway.KindConflict, StatusCode: 409}).Once()
	f.api.On("Mine", mock.Anything).
		Return([]*domain.Booking{testBooking("b1", domain.StatusAccepted), testBooking("b2", domain.StatusDeclined)}, nil).Once()

	_, err := f.d.Perform(context.Background(), "b1", domain.ActionCancel)

	assert.True(t, errors.Is(err, gateway.ErrConflict))
	b1, _ := f.cache.Get("b1")
	assert.Equal(t, domain.StatusAccepted, b1.Status, "conflict refreshes the booking from the server")
	b2, _ := f.cache.Get("b2")
	assert.Equal(t, domain.StatusPending, b2.Status, "only the conflicting booking is reloaded")
}

func TestPerform_SessionExpiredRedirectsToLogin(t *testing.T) {
	original := testBooking("b1", domain.StatusPending)
	f := newDispatcherFixture(t, domain.RoleWorker, original)
	f.api.On("Act", mock.Anything, "b1", domain.ActionAccept).
		Return(nil, &gateway.Error{Kind: gateway.KindSessionExpired, StatusCode: 401}).Once()
	f.nav.On("Redirect", guard.SurfaceLogin).Once()

	_, err := f.d.Perform(context.Background(), "b1", domain.ActionAccept)

	assert.True(t, gateway.IsSessionExpired(err))
	cached, _ := f.cache.Get("b1")
	assert.Equal(t, original, cached)
}

func TestPerform_UnknownBookingAndNonStatusAction(t *testing.T) {
	f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusAccepted))

	_, err := f.d.Perform(context.Background(), "missing", domain.ActionCancel)
	assert.True(t, errors.Is(err, domain.ErrBookingNotFound))

	_, err = f.d.Perform(context.Background(), "b1", domain.ActionRate)
	assert.True(t, errors.Is(err, domain.ErrUnknownAction))
}

func TestRate(t *testing.T) {
	t.Run("accepted booking", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusAccepted))
		f.api.On("Rate", mock.Anything, domain.Review{WorkerID: "9", Rating: 5, Text: "great"}).
			Return(domain.RatingSummary{AverageRating: 4.5, TotalRatings: 2}, nil).Once()

		got, err := f.d.Rate(context.Background(), "b1", 5, "great")

		require.NoError(t, err)
		assert.Equal(t, 2, got.TotalRatings)
		cached, _ := f.cache.Get("b1")
		assert.Equal(t, domain.StatusAccepted, cached.Status)
	})

	t.Run("pending booking", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusPending))

		_, err := f.d.Rate(context.Background(), "b1", 5, "")

		assert.True(t, errors.Is(err, domain.ErrForbidden))
		f.api.AssertNotCalled(t, "Rate", mock.Anything, mock.Anything)
	})

	t.Run("worker", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleWorker, testBooking("b1", domain.StatusCompleted))

		_, err := f.d.Rate(context.Background(), "b1", 4, "")

		assert.True(t, errors.Is(err, domain.ErrForbidden))
	})

	t.Run("rating out of range", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer, testBooking("b1", domain.StatusCompleted))

		_, err := f.d.Rate(context.Background(), "b1", 6, "")

		assert.True(t, errors.Is(err, domain.ErrInvalidRating))
		f.api.AssertNotCalled(t, "Rate", mock.Anything, mock.Anything)
	})
}

func TestBook(t *testing.T) {
	req := domain.NewBooking{ServiceID: "3", ScheduledDate: "2026-11-02", ScheduledTime: "10:30"}

	t.Run("retries with the same idempotency key", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer)
		expected := req
		expected.WorkerID = "9"

		var keys []string
		record := func(args mock.Arguments) { keys = append(keys, args.String(3)) }
		f.api.On("Create", mock.Anything, "9", expected, mock.AnythingOfType("string")).Run(record).
			Return(nil, &gateway.Error{Kind: gateway.KindNetwork}).Once()
		f.api.On("Create", mock.Anything, "9", expected, mock.AnythingOfType("string")).Run(record).
			Return(&domain.Booking{ID: "41"}, nil).Once()

		got, err := f.d.Book(context.Background(), "9", req)

		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.NotEmpty(t, keys[0])
		assert.Equal(t, keys[0], keys[1])

		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, "7", got.CustomerID)
		cached, err := f.cache.Get("41")
		require.NoError(t, err)
		assert.Equal(t, "9", cached.WorkerID)
	})

	t.Run("workers cannot book", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleWorker)

		_, err := f.d.Book(context.Background(), "9", req)

		assert.True(t, errors.Is(err, domain.ErrForbidden))
	})

	t.Run("invalid schedule", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer)
		bad := req
		bad.ScheduledDate = "02/11/2026"

		_, err := f.d.Book(context.Background(), "9", bad)

		assert.True(t, errors.Is(err, domain.ErrInvalidSchedule))
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleCustomer)
		f.api.On("Create", mock.Anything, "9", mock.Anything, mock.Anything).
			Return(nil, &gateway.Error{Kind: gateway.KindValidation, StatusCode: 400}).Once()

		_, err := f.d.Book(context.Background(), "9", req)

		assert.True(t, errors.Is(err, gateway.ErrValidation))
		assert.Zero(t, f.cache.Len())
	})
}

func TestRefresh(t *testing.T) {
	t.Run("retries transport failures", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleWorker)
		f.api.On("Mine", mock.Anything).Return(nil, &gateway.Error{Kind: gateway.KindNetwork}).Twice()
		f.api.On("Mine", mock.Anything).Return([]*domain.Booking{testBooking("b1", domain.StatusPending)}, nil).Once()

		require.NoError(t, f.d.Refresh(context.Background()))
		assert.Equal(t, 1, f.cache.Len())
	})

	t.Run("session expiry redirects", func(t *testing.T) {
		f := newDispatcherFixture(t, domain.RoleWorker, testBooking("b1", domain.StatusPending))
		f.api.On("Mine", mock.Anything).Return(nil, &gateway.Error{Kind: gateway.KindSessionExpired}).Once()
		f.nav.On("Redirect", guard.SurfaceLogin).Once()

		err := f.d.Refresh(context.Background())

		assert.True(t, gateway.IsSessionExpired(err))
		assert.Equal(t, 1, f.cache.Len(), "a failed refresh keeps the cache")
	})
}

func TestDispatchError_Message(t *testing.T) {
	err := &DispatchError{BookingID: "b1", Action: domain.ActionCancel, Err: errors.New("boom")}
	assert.Equal(t, "cancel booking b1: boom", err.Error())

	err = &DispatchError{Action: actionBook, Err: errors.New("boom")}
	assert.Equal(t, "book: boom", err.Error())
}
