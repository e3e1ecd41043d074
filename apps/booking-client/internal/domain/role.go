package domain

import (
	"fmt"
	"strings"
)

// Role identifies who is acting
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
)

// Roles lists every role
var Roles = []Role{RoleGuest, RoleCustomer, RoleWorker}

// IsValid checks if the role is one of the closed set
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleCustomer, RoleWorker:
		return true
	}
	return false
}

// IsAuthenticated is true for every role except Guest
func (r Role) IsAuthenticated() bool {
	return r == RoleCustomer || r == RoleWorker
}

// String returns the string representation of Role
func (r Role) String() string {
	return string(r)
}

// ParseRole maps the role claim issued by the backend. The backend calls
// customers "user"; an empty or unknown claim is an error.
func ParseRole(claim string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(claim)) {
	case "user", "customer":
		return RoleCustomer, nil
	case "worker":
		return RoleWorker, nil
	}
	return RoleGuest, fmt.Errorf("%w: %q", ErrUnknownRole, claim)
}
