package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{"Accepted", StatusAccepted, false},
		{" COMPLETED ", StatusCompleted, false},
		{"declined", StatusDeclined, false},
		{"cancelled", StatusCancelled, false},
		{"canceled", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStatus)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusAccepted.IsTerminal())
	assert.True(t, StatusDeclined.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
}

func TestBooking_Merge(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cached := &Booking{
		ID:            "b1",
		CustomerID:    "c1",
		WorkerID:      "w1",
		ServiceID:     "s1",
		ScheduledDate: "2025-03-04",
		ScheduledTime: "10:00",
		Status:        StatusPending,
		CreatedAt:     created,
		WorkerName:    "Asha",
	}

	merged := cached.Merge(&Booking{ID: "b1", Status: StatusCancelled})

	assert.Equal(t, StatusCancelled, merged.Status)
	assert.Equal(t, "w1", merged.WorkerID)
	assert.Equal(t, "Asha", merged.WorkerName)
	assert.Equal(t, created, merged.CreatedAt)
	assert.Equal(t, StatusPending, cached.Status, "merge must not mutate the receiver")

	var empty *Booking
	assert.Equal(t, "b2", empty.Merge(&Booking{ID: "b2"}).ID)
}

func TestNewBooking_Validate(t *testing.T) {
	valid := NewBooking{WorkerID: "w1", ServiceID: "s1", ScheduledDate: "2025-03-04", ScheduledTime: "14:30"}
	assert.NoError(t, valid.Validate())

	withSeconds := valid
	withSeconds.ScheduledTime = "14:30:00"
	assert.NoError(t, withSeconds.Validate())

	tests := []struct {
		name   string
		mutate func(n *NewBooking)
		want   error
	}{
		{"missing worker", func(n *NewBooking) { n.WorkerID = " " }, ErrInvalidWorkerID},
		{"missing service", func(n *NewBooking) { n.ServiceID = "" }, ErrInvalidServiceID},
		{"bad date", func(n *NewBooking) { n.ScheduledDate = "04/03/2025" }, ErrInvalidSchedule},
		{"bad time", func(n *NewBooking) { n.ScheduledTime = "2pm" }, ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			assert.ErrorIs(t, n.Validate(), tt.want)
		})
	}
}

func TestReview_Validate(t *testing.T) {
	for rating := 1; rating <= 5; rating++ {
		assert.NoError(t, Review{WorkerID: "w1", Rating: rating}.Validate())
	}
	assert.ErrorIs(t, Review{WorkerID: "w1", Rating: 0}.Validate(), ErrInvalidRating)
	assert.ErrorIs(t, Review{WorkerID: "w1", Rating: 6}.Validate(), ErrInvalidRating)
	assert.ErrorIs(t, Review{Rating: 3}.Validate(), ErrInvalidWorkerID)
}
