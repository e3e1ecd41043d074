package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/dto"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/gateway"
)

// Requester sends authenticated backend calls
type Requester interface {
	Do(ctx context.Context, method, path string, body, out interface{}, opts ...gateway.RequestOption) error
}

// BookingAPI defines the booking endpoints of the backend
type BookingAPI interface {
	// Mine lists the bookings of the current session, scoped by role on the server
	Mine(ctx context.Context) ([]*domain.Booking, error)

	// Act applies a status action; the result may be a partial record
	Act(ctx context.Context, bookingID string, action domain.Action) (*domain.Booking, error)

	// Create books a worker
	Create(ctx context.Context, workerID string, n domain.NewBooking, idempotencyKey string) (*domain.Booking, error)

	// Rate submits a review and returns the worker's new aggregate
	Rate(ctx context.Context, review domain.Review) (domain.RatingSummary, error)
}

// bookingAPI implements BookingAPI over the gateway
type bookingAPI struct {
	gw Requester
}

// NewBookingAPI creates a new booking API
func NewBookingAPI(gw Requester) BookingAPI {
	return &bookingAPI{gw: gw}
}

// Mine lists the current session's bookings
func (a *bookingAPI) Mine(ctx context.Context) ([]*domain.Booking, error) {
	var list dto.BookingList
	if err := a.gw.Do(ctx, http.MethodGet, "/bookings/mine", nil, &list); err != nil {
		return nil, err
	}
	return dto.ToDomainList(list)
}

// Act applies a status action
func (a *bookingAPI) Act(ctx context.Context, bookingID string, action domain.Action) (*domain.Booking, error) {
	path := fmt.Sprintf("/bookings/%s/%s/", url.PathEscape(bookingID), action)

	var resp dto.BookingResponse
	if err := a.gw.Do(ctx, http.MethodPatch, path, nil, &resp); err != nil {
		return nil, err
	}
	b, err := resp.ToDomain()
	if err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = bookingID
	}
	return b, nil
}

// Create books a worker
func (a *bookingAPI) Create(ctx context.Context, workerID string, n domain.NewBooking, idempotencyKey string) (*domain.Booking, error) {
	path := fmt.Sprintf("/workers/%s/book/", url.PathEscape(workerID))

	var resp dto.BookingResponse
	err := a.gw.Do(ctx, http.MethodPost, path, dto.NewCreateBookingRequest(n), &resp,
		gateway.WithIdempotencyKey(idempotencyKey))
	if err != nil {
		return nil, err
	}
	return resp.ToDomain()
}

// Rate submits a review
func (a *bookingAPI) Rate(ctx context.Context, review domain.Review) (domain.RatingSummary, error) {
	path := fmt.Sprintf("/workers/%s/rate/", url.PathEscape(review.WorkerID))

	var resp dto.RatingResponse
	err := a.gw.Do(ctx, http.MethodPost, path, dto.RateRequest{Rating: review.Rating, Review: review.Text}, &resp)
	if err != nil {
		return domain.RatingSummary{}, err
	}
	return resp.ToDomain(), nil
}
