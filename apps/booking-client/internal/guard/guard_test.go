package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
)

func session(role domain.Role) domain.Session {
	if role == domain.RoleGuest {
		return domain.GuestSession()
	}
	return domain.Session{AccessToken: "tok", RefreshToken: "ref", Role: role, UserID: "1"}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		role     domain.Role
		required RoleSet
		want     Decision
	}{
		{"public for guest", domain.RoleGuest, nil, Decision{Allowed: true}},
		{"public for worker", domain.RoleWorker, Roles(), Decision{Allowed: true}},
		{"guest on protected", domain.RoleGuest, Roles(domain.RoleCustomer), Decision{Redirect: SurfaceLogin}},
		{"customer allowed", domain.RoleCustomer, Roles(domain.RoleCustomer), Decision{Allowed: true}},
		{"worker on customer surface", domain.RoleWorker, Roles(domain.RoleCustomer), Decision{Redirect: SurfaceWorkerDashboard}},
		{"customer on worker surface", domain.RoleCustomer, Roles(domain.RoleWorker), Decision{Redirect: SurfaceCustomerProfile}},
		{"either role", domain.RoleWorker, Roles(domain.RoleCustomer, domain.RoleWorker), Decision{Allowed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(session(tt.role), tt.required))
		})
	}
}

func TestAuthorize_RoleWithoutTokenIsGuest(t *testing.T) {
	s := domain.Session{Role: domain.RoleCustomer}

	assert.Equal(t, Decision{Redirect: SurfaceLogin}, Authorize(s, Roles(domain.RoleCustomer)))
}

func TestWatch_ReevaluatesOnEveryChange(t *testing.T) {
	st := store.NewMemoryStore(session(domain.RoleCustomer))

	var got []Decision
	unsub := Watch(st, Roles(domain.RoleCustomer), func(d Decision) { got = append(got, d) })

	require.NoError(t, st.Clear())
	st.ApplyExternal(session(domain.RoleCustomer))
	st.ApplyExternal(session(domain.RoleWorker))

	unsub()
	require.NoError(t, st.Clear())

	assert.Equal(t, []Decision{
		{Allowed: true},
		{Redirect: SurfaceLogin},
		{Allowed: true},
		{Redirect: SurfaceWorkerDashboard},
	}, got)
}

func TestWatch_LastDecisionFollowsSnapshot(t *testing.T) {
	st := store.NewMemoryStore(domain.GuestSession())
	// Registered first, so its nested write completes before Watch sees the login
	st.Subscribe(func(c store.Change) {
		if c.Session.Role == domain.RoleWorker {
			require.NoError(t, st.Clear())
		}
	})

	var got []Decision
	Watch(st, Roles(domain.RoleWorker), func(d Decision) { got = append(got, d) })
	require.NoError(t, st.Write(session(domain.RoleWorker)))

	require.NotEmpty(t, got)
	assert.Equal(t, Decision{Redirect: SurfaceLogin}, got[len(got)-1])
	assert.True(t, st.Read().IsGuest())
}

func TestForPath(t *testing.T) {
	tests := []struct {
		path string
		want RoleSet
	}{
		{"/", nil},
		{"/login", nil},
		{"/booking/42", Roles(domain.RoleCustomer)},
		{"/booking/42/", Roles(domain.RoleCustomer)},
		{"/booking", nil},
		{"/profile/me", Roles(domain.RoleCustomer)},
		{"profile/me/", Roles(domain.RoleCustomer)},
		{"/worker/dashboard", Roles(domain.RoleWorker)},
		{"/workers/3", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ForPath(tt.path))
		})
	}
}

func TestHome(t *testing.T) {
	assert.Equal(t, SurfaceLogin, Home(domain.RoleGuest))
	assert.Equal(t, SurfaceCustomerProfile, Home(domain.RoleCustomer))
	assert.Equal(t, SurfaceWorkerDashboard, Home(domain.RoleWorker))
}
