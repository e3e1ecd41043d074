package dto

import (
	"strings"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
)

// LoginRequest represents login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks that both credentials are present
func (r *LoginRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.Username) == "" {
		return false, "Username is required"
	}
	if r.Password == "" {
		return false, "Password is required"
	}
	return true, ""
}

// LoginResponse represents the login response issued by the backend
type LoginResponse struct {
	Access   string `json:"access"`
	Refresh  string `json:"refresh"`
	Role     string `json:"role"`
	Username string `json:"username"`
}

// RefreshRequest represents token refresh request
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse represents token refresh response; Refresh is set only
// when the backend rotates refresh tokens
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// RegisterRequest represents registration request. Worker-only fields are
// ignored for customer accounts.
type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	Type       string `json:"type,omitempty"`
	Name       string `json:"name,omitempty"`
	Profession string `json:"profession,omitempty"`
	Experience string `json:"experience,omitempty"`
	Location   string `json:"location,omitempty"`
	Bio        string `json:"bio,omitempty"`
}

// ForRole fills the discriminating fields the backend expects per account kind
func (r RegisterRequest) ForRole(role domain.Role) RegisterRequest {
	switch role {
	case domain.RoleWorker:
		r.Type = ""
		if r.Name == "" {
			r.Name = r.Username
		}
		if r.Location == "" {
			r.Location = r.Address
		}
		r.Address = ""
	default:
		r.Type = "user"
		r.Name, r.Profession, r.Experience, r.Location, r.Bio = "", "", "", "", ""
	}
	return r
}

// Validate validates registration fields
func (r *RegisterRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.Username) == "" {
		return false, "Username is required"
	}
	if len(r.Password) < 6 {
		return false, "Password must be at least 6 characters"
	}
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		return false, "Email is invalid"
	}
	return true, ""
}
