package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
)

func TestLoginRequest_Validate(t *testing.T) {
	ok, _ := (&LoginRequest{Username: "asha", Password: "pw"}).Validate()
	assert.True(t, ok)

	ok, msg := (&LoginRequest{Username: " ", Password: "pw"}).Validate()
	assert.False(t, ok)
	assert.Equal(t, "Username is required", msg)

	ok, msg = (&LoginRequest{Username: "asha"}).Validate()
	assert.False(t, ok)
	assert.Equal(t, "Password is required", msg)
}

func TestRegisterRequest_ForRole(t *testing.T) {
	base := RegisterRequest{Username: "asha", Password: "secret1", Address: "Pune", Profession: "plumber"}

	customer := base.ForRole(domain.RoleCustomer)
	assert.Equal(t, "user", customer.Type)
	assert.Equal(t, "Pune", customer.Address)
	assert.Empty(t, customer.Profession)

	worker := base.ForRole(domain.RoleWorker)
	assert.Empty(t, worker.Type)
	assert.Equal(t, "asha", worker.Name)
	assert.Equal(t, "Pune", worker.Location)
	assert.Empty(t, worker.Address)
	assert.Equal(t, "plumber", worker.Profession)
}

func TestRegisterRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
		ok   bool
	}{
		{"valid", RegisterRequest{Username: "asha", Password: "secret1", Email: "a@example.com"}, true},
		{"no email is fine", RegisterRequest{Username: "asha", Password: "secret1"}, true},
		{"missing username", RegisterRequest{Password: "secret1"}, false},
		{"short password", RegisterRequest{Username: "asha", Password: "abc"}, false},
		{"bad email", RegisterRequest{Username: "asha", Password: "secret1", Email: "nope"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := tt.req.Validate()
			assert.Equal(t, tt.ok, ok)
		})
	}
}
