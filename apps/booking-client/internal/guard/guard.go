// Package guard decides which surfaces the current session may open.
package guard

import (
	"strings"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
)

// Surface is a navigable screen
type Surface string

const (
	SurfaceHome            Surface = "/"
	SurfaceLogin           Surface = "/login"
	SurfaceCustomerProfile Surface = "/profile/me"
	SurfaceWorkerDashboard Surface = "/worker/dashboard"
	SurfaceBooking         Surface = "/booking/"
)

// RoleSet is the set of roles allowed on a surface. An empty set is public.
type RoleSet map[domain.Role]struct{}

// Roles builds a RoleSet
func Roles(roles ...domain.Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether r is in the set
func (s RoleSet) Has(r domain.Role) bool {
	_, ok := s[r]
	return ok
}

// Decision is the outcome of Authorize
type Decision struct {
	Allowed  bool
	Redirect Surface
}

// Home returns the landing surface of a role
func Home(r domain.Role) Surface {
	switch r {
	case domain.RoleCustomer:
		return SurfaceCustomerProfile
	case domain.RoleWorker:
		return SurfaceWorkerDashboard
	default:
		return SurfaceLogin
	}
}

// Authorize decides from the session snapshot alone
func Authorize(s domain.Session, required RoleSet) Decision {
	if len(required) == 0 {
		return Decision{Allowed: true}
	}

	role := s.Role
	if s.IsGuest() {
		role = domain.RoleGuest
	}
	if required.Has(role) {
		return Decision{Allowed: true}
	}
	return Decision{Redirect: Home(role)}
}

// Watch calls fn with a fresh decision now and after every store change.
// Decisions come from the snapshot, so a listener that writes during
// notification never leaves fn with an outdated answer.
func Watch(st store.CredentialStore, required RoleSet, fn func(Decision)) store.Unsubscribe {
	unsub := st.Subscribe(func(store.Change) {
		fn(Authorize(st.Read(), required))
	})
	fn(Authorize(st.Read(), required))
	return unsub
}

// Route binds a path pattern to the roles it requires
type Route struct {
	Pattern string
	Prefix  bool
	Roles   RoleSet
}

// Routes are the client surfaces; anything unlisted is public
var Routes = []Route{
	{Pattern: string(SurfaceBooking), Prefix: true, Roles: Roles(domain.RoleCustomer)},
	{Pattern: string(SurfaceCustomerProfile), Roles: Roles(domain.RoleCustomer)},
	{Pattern: string(SurfaceWorkerDashboard), Roles: Roles(domain.RoleWorker)},
}

// ForPath returns the roles required by path
func ForPath(path string) RoleSet {
	path = "/" + strings.Trim(path, "/")
	for _, r := range Routes {
		pattern := "/" + strings.Trim(r.Pattern, "/")
		if r.Prefix && strings.HasPrefix(path, pattern+"/") {
			return r.Roles
		}
		if !r.Prefix && path == pattern {
			return r.Roles
		}
	}
	return nil
}
