package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/gateway"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/guard"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/repository"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	"github.com/prohmpiriya/homeservice-client/pkg/retry"
	"github.com/prohmpiriya/homeservice-client/pkg/telemetry"
)

// actionBook labels booking creation in a DispatchError
const actionBook domain.Action = "book"

// DispatchError is returned by every failed dispatcher operation
type DispatchError struct {
	BookingID string
	Action    domain.Action
	Err       error
}

func (e *DispatchError) Error() string {
	if e.BookingID == "" {
		return fmt.Sprintf("%s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("%s booking %s: %v", e.Action, e.BookingID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Navigator moves the UI to another surface
type Navigator interface {
	Redirect(surface guard.Surface)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(surface guard.Surface)

// Redirect calls f
func (f NavigatorFunc) Redirect(surface guard.Surface) { f(surface) }

// SessionSource exposes the current session snapshot
type SessionSource interface {
	Read() domain.Session
}

// DispatcherConfig contains configuration for the dispatcher
type DispatcherConfig struct {
	// Retry applies to listing and creation; both are safe to repeat
	Retry *retry.Config
}

// Dispatcher validates booking actions locally, applies them
// optimistically and reconciles the cache with the server's answer
type Dispatcher struct {
	api      BookingAPI
	cache    *repository.BookingCache
	sessions SessionSource
	nav      Navigator
	retrier  *retry.Retrier
	log      *logger.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	api BookingAPI,
	cache *repository.BookingCache,
	sessions SessionSource,
	nav Navigator,
	cfg *DispatcherConfig,
	log *logger.Logger,
) *Dispatcher {
	retryCfg := *retry.DefaultConfig()
	if cfg != nil && cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}
	// Only transport failures are retried
	retryCfg.ShouldRetry = gateway.IsRetryable

	if nav == nil {
		nav = NavigatorFunc(func(guard.Surface) {})
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		api:      api,
		cache:    cache,
		sessions: sessions,
		nav:      nav,
		retrier:  retry.New(&retryCfg),
		log:      log.With(zap.String("component", "dispatcher")),
	}
}

// Cache returns the booking cache the dispatcher maintains
func (d *Dispatcher) Cache() *repository.BookingCache {
	return d.cache
}

// Perform applies a status-changing action to a cached booking
func (d *Dispatcher) Perform(ctx context.Context, bookingID string, action domain.Action) (result *domain.Booking, err error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatcher.perform",
		attribute.String("booking.id", bookingID),
		attribute.String("booking.action", action.String()),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if !action.ChangesStatus() {
		return nil, &DispatchError{BookingID: bookingID, Action: action, Err: domain.ErrUnknownAction}
	}

	current, err := d.cache.Get(bookingID)
	if err != nil {
		return nil, &DispatchError{BookingID: bookingID, Action: action, Err: err}
	}
	role := d.sessions.Read().Role

	next, err := domain.Transition(current.Status, action, role)
	if err != nil {
		return nil, &DispatchError{BookingID: bookingID, Action: action, Err: err}
	}

	pending, err := d.cache.ApplyOptimistic(bookingID, next)
	if err != nil {
		return nil, &DispatchError{BookingID: bookingID, Action: action, Err: err}
	}

	updated, err := d.api.Act(ctx, bookingID, action)
	if err != nil {
		return nil, d.fail(ctx, pending, action, err)
	}

	updated.ID = bookingID
	if updated.Status == "" {
		updated.Status = next
	}
	committed := d.cache.Commit(updated)
	d.log.Info("booking action applied",
		zap.String("booking_id", bookingID),
		zap.String("action", action.String()),
		zap.String("status", committed.Status.String()),
	)
	return committed, nil
}

// fail rolls back an optimistic change and reacts to the failure kind
func (d *Dispatcher) fail(ctx context.Context, p repository.Pending, action domain.Action, err error) error {
	d.cache.Rollback(p)

	switch {
	case gateway.IsSessionExpired(err):
		d.log.Warn("session expired during booking action", zap.String("booking_id", p.ID))
		d.nav.Redirect(guard.SurfaceLogin)
	case errors.Is(err, gateway.ErrConflict):
		d.log.Info("booking changed on the server, reloading", zap.String("booking_id", p.ID))
		if _, reloadErr := d.Reload(ctx, p.ID); reloadErr != nil {
			d.log.Warn("reload after conflict failed", zap.String("booking_id", p.ID), zap.Error(reloadErr))
		}
	default:
		d.log.Warn("booking action failed",
			zap.String("booking_id", p.ID),
			zap.String("action", action.String()),
			zap.Error(err),
		)
	}
	return &DispatchError{BookingID: p.ID, Action: action, Err: err}
}

// Rate reviews the worker of a cached booking. No status changes.
func (d *Dispatcher) Rate(ctx context.Context, bookingID string, rating int, text string) (domain.RatingSummary, error) {
	current, err := d.cache.Get(bookingID)
	if err != nil {
		return domain.RatingSummary{}, &DispatchError{BookingID: bookingID, Action: domain.ActionRate, Err: err}
	}
	if _, err := domain.Transition(current.Status, domain.ActionRate, d.sessions.Read().Role); err != nil {
		return domain.RatingSummary{}, &DispatchError{BookingID: bookingID, Action: domain.ActionRate, Err: err}
	}

	review := domain.Review{WorkerID: current.WorkerID, Rating: rating, Text: text}
	if err := review.Validate(); err != nil {
		return domain.RatingSummary{}, &DispatchError{BookingID: bookingID, Action: domain.ActionRate, Err: err}
	}

	summary, err := d.api.Rate(ctx, review)
	if err != nil {
		if gateway.IsSessionExpired(err) {
			d.nav.Redirect(guard.SurfaceLogin)
		}
		return domain.RatingSummary{}, &DispatchError{BookingID: bookingID, Action: domain.ActionRate, Err: err}
	}
	d.log.Info("worker rated", zap.String("worker_id", review.WorkerID), zap.Int("rating", rating))
	return summary, nil
}

// Book creates a pending booking with a worker. Customers only.
func (d *Dispatcher) Book(ctx context.Context, workerID string, n domain.NewBooking) (*domain.Booking, error) {
	sess := d.sessions.Read()
	if sess.Role != domain.RoleCustomer || sess.IsGuest() {
		return nil, &DispatchError{Action: actionBook, Err: fmt.Errorf("%w: only customers can book a worker", domain.ErrForbidden)}
	}

	n.WorkerID = workerID
	if err := n.Validate(); err != nil {
		return nil, &DispatchError{Action: actionBook, Err: err}
	}

	// One key for every attempt, so a retried creation is deduplicated
	key := uuid.NewString()
	var created *domain.Booking
	res := d.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = d.api.Create(ctx, workerID, n, key)
		return err
	})
	if res.Err != nil {
		if gateway.IsSessionExpired(res.Err) {
			d.nav.Redirect(guard.SurfaceLogin)
		}
		return nil, &DispatchError{Action: actionBook, Err: res.Err}
	}

	if created.Status == "" {
		created.Status = domain.StatusPending
	}
	if created.WorkerID == "" {
		created.WorkerID = workerID
	}
	if created.CustomerID == "" {
		created.CustomerID = sess.UserID
	}
	if created.ServiceID == "" {
		created.ServiceID = n.ServiceID
	}
	if created.ScheduledDate == "" {
		created.ScheduledDate, created.ScheduledTime = n.ScheduledDate, n.ScheduledTime
	}
	if created.ID == "" {
		// Without an id the record cannot be addressed; reload to find it
		return created, d.Refresh(ctx)
	}

	d.log.Info("booking created", zap.String("booking_id", created.ID), zap.String("worker_id", workerID))
	return d.cache.Insert(created), nil
}

// Refresh reloads every booking of the session from the server
func (d *Dispatcher) Refresh(ctx context.Context) error {
	var list []*domain.Booking
	res := d.retrier.DoWithCallback(ctx, func(ctx context.Context) error {
		var err error
		list, err = d.api.Mine(ctx)
		return err
	}, func(attempt int, err error, next time.Duration) {
		d.log.Debug("retrying booking list", zap.Int("attempt", attempt), zap.Duration("next", next), zap.Error(err))
	})
	if res.Err != nil {
		if gateway.IsSessionExpired(res.Err) {
			d.nav.Redirect(guard.SurfaceLogin)
		}
		return fmt.Errorf("refresh bookings: %w", res.Err)
	}

	d.cache.Load(list)
	d.log.Debug("bookings refreshed", zap.Int("count", len(list)), zap.Int("attempts", res.Attempts))
	return nil
}

// Reload replaces one cached booking with the server's version
func (d *Dispatcher) Reload(ctx context.Context, bookingID string) (*domain.Booking, error) {
	list, err := d.api.Mine(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range list {
		if b.ID == bookingID {
			return d.cache.Commit(b), nil
		}
	}
	return nil, domain.ErrBookingNotFound
}
