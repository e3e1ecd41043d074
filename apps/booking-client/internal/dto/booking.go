package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
)

// ID accepts both JSON numbers and strings; the backend uses integer keys
type ID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// ref is a related record that may be inlined as an object or given as a key
type ref struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Services string `json:"services"`
	User     *struct {
		ID       ID     `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func (r *ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return r.ID.UnmarshalJSON(data)
	}
	type plain ref
	return json.Unmarshal(data, (*plain)(r))
}

func (r *ref) label() string {
	if r == nil {
		return ""
	}
	if r.Name != "" {
		return r.Name
	}
	if r.Services != "" {
		return r.Services
	}
	if r.User != nil {
		return r.User.Username
	}
	return ""
}

// BookingResponse is a booking as returned by the backend. Related records
// arrive either flat (worker_id) or nested (worker: {...}).
type BookingResponse struct {
	ID          ID        `json:"id"`
	CustomerID  ID        `json:"customer_id"`
	WorkerID    ID        `json:"worker_id"`
	ServiceID   ID        `json:"service_id"`
	User        *ref      `json:"user"`
	Customer    *ref      `json:"customer"`
	Worker      *ref      `json:"worker"`
	Service     *ref      `json:"service"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
	WorkerName  string    `json:"worker_name"`
	ServiceName string    `json:"service_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToDomain converts the wire booking. An unknown status is an error.
func (r *BookingResponse) ToDomain() (*domain.Booking, error) {
	b := &domain.Booking{
		ID:            string(r.ID),
		CustomerID:    firstID(r.CustomerID, r.Customer, r.User),
		WorkerID:      firstID(r.WorkerID, r.Worker),
		ServiceID:     firstID(r.ServiceID, r.Service),
		ScheduledDate: r.Date,
		ScheduledTime: r.Time,
		CreatedAt:     r.CreatedAt,
		Notes:         r.Notes,
		WorkerName:    r.WorkerName,
		ServiceName:   r.ServiceName,
	}
	if b.WorkerName == "" {
		b.WorkerName = r.Worker.label()
	}
	if b.ServiceName == "" {
		b.ServiceName = r.Service.label()
	}
	if r.Status != "" {
		status, err := domain.ParseStatus(r.Status)
		if err != nil {
			return nil, err
		}
		b.Status = status
	}
	return b, nil
}

func firstID(flat ID, refs ...*ref) string {
	if flat != "" {
		return string(flat)
	}
	for _, r := range refs {
		if r != nil && r.ID != "" {
			return string(r.ID)
		}
	}
	return ""
}

// ToDomainList converts a booking list
func ToDomainList(items []BookingResponse) ([]*domain.Booking, error) {
	out := make([]*domain.Booking, 0, len(items))
	for i := range items {
		b, err := items[i].ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// BookingList is a booking listing, either a bare array or a paginated
// object carrying "results"
type BookingList []BookingResponse

// UnmarshalJSON implements json.Unmarshaler
func (l *BookingList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var page struct {
			Results []BookingResponse `json:"results"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		*l = page.Results
		return nil
	}
	var items []BookingResponse
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}

// CreateBookingRequest represents booking creation request
type CreateBookingRequest struct {
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes,omitempty"`
}

// NewCreateBookingRequest builds the request from a validated domain value.
// Numeric service keys are sent as numbers.
func NewCreateBookingRequest(n domain.NewBooking) CreateBookingRequest {
	return CreateBookingRequest{
		ServiceID: n.ServiceID,
		Date:      n.ScheduledDate,
		Time:      n.ScheduledTime,
		Notes:     n.Notes,
	}
}

// MarshalJSON implements json.Marshaler
func (r CreateBookingRequest) MarshalJSON() ([]byte, error) {
	type alias CreateBookingRequest
	if n, err := strconv.ParseInt(r.ServiceID, 10, 64); err == nil {
		return json.Marshal(struct {
			ServiceID int64 `json:"service_id"`
			alias
		}{n, alias(r)})
	}
	return json.Marshal(alias(r))
}

// RateRequest represents a worker rating request
type RateRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review,omitempty"`
}

// RatingResponse represents the worker rating aggregate
type RatingResponse struct {
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

// ToDomain converts the rating aggregate
func (r *RatingResponse) ToDomain() domain.RatingSummary {
	return domain.RatingSummary{AverageRating: r.AverageRating, TotalRatings: r.TotalRatings}
}
