package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the status of a booking
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Statuses lists every status
var Statuses = []Status{StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusCompleted}

// IsValid checks if the status is a valid Status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal is true for statuses with no outgoing transitions
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status case-insensitively
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return s, nil
}

// Booking is the local mirror of a backend booking record
type Booking struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	WorkerID      string    `json:"worker_id"`
	ServiceID     string    `json:"service_id"`
	ScheduledDate string    `json:"date"`
	ScheduledTime string    `json:"time"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`

	// Display fields, optional on the wire
	Notes       string `json:"notes,omitempty"`
	WorkerName  string `json:"worker_name,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Clone returns an independent copy
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Merge overlays the non-empty fields of update onto a copy of b. Mutation
// endpoints may answer with a partial record, commonly just the status.
func (b *Booking) Merge(update *Booking) *Booking {
	out := b.Clone()
	if out == nil {
		return update.Clone()
	}
	if update == nil {
		return out
	}
	if update.ID != "" {
		out.ID = update.ID
	}
	if update.CustomerID != "" {
		out.CustomerID = update.CustomerID
	}
	if update.WorkerID != "" {
		out.WorkerID = update.WorkerID
	}
	if update.ServiceID != "" {
		out.ServiceID = update.ServiceID
	}
	if update.ScheduledDate != "" {
		out.ScheduledDate = update.ScheduledDate
	}
	if update.ScheduledTime != "" {
		out.ScheduledTime = update.ScheduledTime
	}
	if update.Status != "" {
		out.Status = update.Status
	}
	if !update.CreatedAt.IsZero() {
		out.CreatedAt = update.CreatedAt
	}
	if update.Notes != "" {
		out.Notes = update.Notes
	}
	if update.WorkerName != "" {
		out.WorkerName = update.WorkerName
	}
	if update.ServiceName != "" {
		out.ServiceName = update.ServiceName
	}
	return out
}

// ValidateID validates the booking ID
func (b *Booking) ValidateID() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrInvalidBookingID
	}
	return nil
}

// NewBooking describes a booking a customer asks for
type NewBooking struct {
	WorkerID      string
	ServiceID     string
	ScheduledDate string // YYYY-MM-DD
	ScheduledTime string // HH:MM
	Notes         string
}

// Validate validates the booking request fields
func (n NewBooking) Validate() error {
	if strings.TrimSpace(n.WorkerID) == "" {
		return ErrInvalidWorkerID
	}
	if strings.TrimSpace(n.ServiceID) == "" {
		return ErrInvalidServiceID
	}
	if _, err := time.Parse("2006-01-02", n.ScheduledDate); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalidSchedule, n.ScheduledDate)
	}
	if _, err := parseClock(n.ScheduledTime); err != nil {
		return fmt.Errorf("%w: time %q", ErrInvalidSchedule, n.ScheduledTime)
	}
	return nil
}

func parseClock(v string) (time.Time, error) {
	if t, err := time.Parse("15:04", v); err == nil {
		return t, nil
	}
	return time.Parse("15:04:05", v)
}

// Review is a customer rating of the worker behind a booking
type Review struct {
	WorkerID string
	Rating   int
	Text     string
}

// Validate checks the rating range
func (r Review) Validate() error {
	if strings.TrimSpace(r.WorkerID) == "" {
		return ErrInvalidWorkerID
	}
	if r.Rating < 1 || r.Rating > 5 {
		return ErrInvalidRating
	}
	return nil
}

// RatingSummary is the worker aggregate returned after a rating
type RatingSummary struct {
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}
