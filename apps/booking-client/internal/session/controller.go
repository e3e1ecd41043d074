package session

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/dto"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/gateway"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
)

// Auth errors
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnknownRole          = domain.ErrUnknownRole
	ErrLoginFailed          = errors.New("login failed")
	ErrRegistrationRejected = errors.New("registration rejected")
)

// AuthError is returned by Login and Register
type AuthError struct {
	Reason  error
	Message string
	Fields  map[string][]string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Reason.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Transport is the part of the gateway the controller needs
type Transport interface {
	Do(ctx context.Context, method, path string, body, out interface{}, opts ...gateway.RequestOption) error
	InvalidateRenewal()
}

// Config holds the authentication endpoints
type Config struct {
	LoginPath          string
	RegisterPath       string
	WorkerRegisterPath string
}

// Credentials are the login form values
type Credentials struct {
	Username string
	Password string
}

// Controller is the only writer of session data besides token renewal
type Controller struct {
	cfg   Config
	gw    Transport
	store store.CredentialStore
	log   *logger.Logger

	mu    sync.Mutex
	unsub store.Unsubscribe
}

// NewController creates a session controller
func NewController(cfg Config, gw Transport, st store.CredentialStore, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{
		cfg:   cfg,
		gw:    gw,
		store: st,
		log:   log.With(zap.String("component", "session")),
	}
}

// Current returns the session snapshot
func (c *Controller) Current() domain.Session {
	return c.store.Read()
}

// Login authenticates and stores the session issued by the backend. The
// role is taken from the backend's claim.
func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	req := dto.LoginRequest{Username: creds.Username, Password: creds.Password}
	if ok, msg := req.Validate(); !ok {
		return &AuthError{Reason: ErrInvalidCredentials, Message: msg}
	}

	var resp dto.LoginResponse
	if err := c.gw.Do(ctx, http.MethodPost, c.cfg.LoginPath, req, &resp, gateway.Unauthenticated()); err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindValidation, gateway.KindUnauthorized:
			return &AuthError{Reason: ErrInvalidCredentials, Err: err}
		}
		return &AuthError{Reason: ErrLoginFailed, Err: err}
	}
	if resp.Access == "" {
		return &AuthError{Reason: ErrLoginFailed, Message: "no access token issued"}
	}

	role, err := domain.ParseRole(resp.Role)
	if err != nil {
		c.log.Warn("login rejected: unknown role claim", zap.String("role", resp.Role))
		return &AuthError{Reason: ErrUnknownRole, Message: resp.Role}
	}

	username := resp.Username
	if username == "" {
		username = creds.Username
	}
	sess := domain.Session{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		Role:         role,
		UserID:       userID(resp.Access, username),
		Username:     username,
	}

	// A renewal for a previous session must not overwrite the new one
	c.gw.InvalidateRenewal()
	if err := c.store.Write(sess); err != nil {
		c.log.Warn("session not persisted", zap.Error(err))
	}
	c.log.Info("logged in", zap.String("username", username), zap.String("role", role.String()))
	return nil
}

// Register creates a customer or worker account. It does not log in.
func (c *Controller) Register(ctx context.Context, role domain.Role, req dto.RegisterRequest) error {
	var path string
	switch role {
	case domain.RoleCustomer:
		path = c.cfg.RegisterPath
	case domain.RoleWorker:
		path = c.cfg.WorkerRegisterPath
	default:
		return &AuthError{Reason: ErrUnknownRole, Message: role.String()}
	}

	req = req.ForRole(role)
	if ok, msg := req.Validate(); !ok {
		return &AuthError{Reason: ErrRegistrationRejected, Message: msg}
	}

	if err := c.gw.Do(ctx, http.MethodPost, path, req, nil, gateway.Unauthenticated()); err != nil {
		var ge *gateway.Error
		if errors.As(err, &ge) && (ge.Kind == gateway.KindValidation || ge.Kind == gateway.KindConflict) {
			return &AuthError{Reason: ErrRegistrationRejected, Message: ge.Message, Fields: ge.Fields, Err: err}
		}
		return err
	}
	c.log.Info("account registered", zap.String("username", req.Username), zap.String("role", role.String()))
	return nil
}

// Logout ends the session. Renewals still in flight are discarded.
func (c *Controller) Logout() error {
	c.gw.InvalidateRenewal()
	if err := c.store.Clear(); err != nil {
		c.log.Warn("failed to clear session", zap.Error(err))
		return err
	}
	c.log.Info("logged out")
	return nil
}

// Start watches for sessions changed by another context and starts the
// store's watcher when the storage is shared.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unsub == nil {
		c.unsub = c.store.Subscribe(c.onChange)
	}
	c.mu.Unlock()

	if s, ok := c.store.(store.Syncer); ok {
		return s.Start(ctx)
	}
	return nil
}

// Close stops watching and releases the store's watcher
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.mu.Unlock()

	if s, ok := c.store.(store.Syncer); ok {
		return s.Close()
	}
	return nil
}

func (c *Controller) onChange(ch store.Change) {
	if ch.Origin != store.OriginExternal {
		return
	}
	if ch.Session.IsGuest() || !sameIdentity(ch.Session, ch.Previous) {
		c.log.Info("session changed in another context",
			zap.String("role", ch.Session.Role.String()),
			zap.String("previous_role", ch.Previous.Role.String()),
		)
		c.gw.InvalidateRenewal()
	}
}

func sameIdentity(a, b domain.Session) bool {
	return a.Role == b.Role && a.UserID == b.UserID && a.Username == b.Username
}

// userID reads the user_id (or sub) claim of the access token
func userID(access, fallback string) string {
	claims, err := gateway.TokenClaims(access)
	if err != nil {
		return fallback
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub
	}
	return fallback
}
