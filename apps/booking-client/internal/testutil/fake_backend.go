// Package testutil provides an in-process fake of the marketplace REST backend.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/dto"
)

// Backend paths served by FakeBackend
const (
	LoginPath          = "/auth/login/"
	RegisterPath       = "/api/user/register"
	WorkerRegisterPath = "/auth/worker/register"
	RefreshPath        = "/api/token/refresh/"
)

var signingKey = []byte("fake-backend-secret")

// User is an account known to the fake backend
type User struct {
	ID       string
	Username string
	Password string
	// Role is the backend claim: "user" or "worker"
	Role string
}

type accessClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Epoch    int64  `json:"epoch"`
	jwt.RegisteredClaims
}

// FakeBackend mimics the booking REST API closely enough for client tests
type FakeBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	users         map[string]*User // by username
	refresh       map[string]string
	bookings      map[string]*domain.Booking
	idempotency   map[string]string
	ratings       map[string][]int
	epoch         int64
	nextBooking   int
	accessTTL     time.Duration
	rotate        bool
	refreshStatus int
	refreshDelay  time.Duration
	beforeAction  func(id string, action domain.Action)
	lastHeaders   http.Header

	RefreshCalls atomic.Int32
	ActionCalls  atomic.Int32
	ListCalls    atomic.Int32
}

// NewFakeBackend starts a fake backend that is closed when t finishes
func NewFakeBackend(t testing.TB) *FakeBackend {
	gin.SetMode(gin.TestMode)

	f := &FakeBackend{
		users:       make(map[string]*User),
		refresh:     make(map[string]string),
		bookings:    make(map[string]*domain.Booking),
		idempotency: make(map[string]string),
		ratings:     make(map[string][]int),
		accessTTL:   time.Hour,
		nextBooking: 1,
	}

	r := gin.New()
	r.Use(gin.Recovery(), f.recordHeaders())
	r.POST(LoginPath, f.login)
	r.POST(RegisterPath, f.register("user"))
	r.POST(WorkerRegisterPath, f.register("worker"))
	r.POST(RefreshPath, f.refreshToken)

	api := r.Group("/", f.authenticate())
	api.GET("/bookings/mine", f.listBookings)
	api.PATCH("/bookings/:id/:action/", f.transition)
	api.POST("/workers/:id/book/", f.createBooking)
	api.POST("/workers/:id/rate/", f.rate)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// AddUser registers an account
func (f *FakeBackend) AddUser(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Username] = &u
}

// AddBooking stores b as server truth
func (f *FakeBackend) AddBooking(b domain.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b.Clone()
	if n, err := strconv.Atoi(b.ID); err == nil && n >= f.nextBooking {
		f.nextBooking = n + 1
	}
}

// Booking returns the server copy of a booking
func (f *FakeBackend) Booking(id string) (domain.Booking, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return domain.Booking{}, false
	}
	return *b, true
}

// SetStatus changes a booking behind the client's back
func (f *FakeBackend) SetStatus(id string, s domain.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.bookings[id]; ok {
		b.Status = s
	}
}

// BookingCount returns the number of stored bookings
func (f *FakeBackend) BookingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bookings)
}

// ExpireAccessTokens makes every access token issued so far answer 401
func (f *FakeBackend) ExpireAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
}

// SetAccessTTL sets the lifetime of newly issued access tokens
func (f *FakeBackend) SetAccessTTL(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessTTL = d
}

// RotateRefreshTokens makes refresh return a new refresh token and revoke the old one
func (f *FakeBackend) RotateRefreshTokens(rotate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotate = rotate
}

// FailRefresh makes the refresh endpoint answer status (0 restores normal behavior)
func (f *FakeBackend) FailRefresh(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
}

// SetRefreshDelay slows down the refresh endpoint
func (f *FakeBackend) SetRefreshDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

// BeforeAction runs fn before a status action is applied
func (f *FakeBackend) BeforeAction(fn func(id string, action domain.Action)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeAction = fn
}

// LastHeaders returns the headers of the most recent request
func (f *FakeBackend) LastHeaders() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHeaders.Clone()
}

// IssueSession logs username in without going through HTTP
func (f *FakeBackend) IssueSession(username string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[username]
	access, refresh := f.issueLocked(u)
	role, _ := domain.ParseRole(u.Role)
	return domain.Session{AccessToken: access, RefreshToken: refresh, Role: role, UserID: u.ID, Username: u.Username}
}

func (f *FakeBackend) issueLocked(u *User) (string, string) {
	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		Epoch:    f.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.accessTTL)),
		},
	}).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	refresh := uuid.NewString()
	f.refresh[refresh] = u.Username
	return access, refresh
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (f *FakeBackend) recordHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		f.mu.Lock()
		f.lastHeaders = c.Request.Header.Clone()
		f.mu.Unlock()
		c.Next()
	}
}

func (f *FakeBackend) login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[req.Username]
	if !ok || u.Password != req.Password {
		detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	access, refresh := f.issueLocked(u)
	c.JSON(http.StatusOK, dto.LoginResponse{Access: access, Refresh: refresh, Role: u.Role, Username: u.Username})
}

func (f *FakeBackend) register(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			detail(c, http.StatusBadRequest, "Invalid request body")
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.users[req.Username]; exists {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"username": []string{"A user with that username already exists."}})
			return
		}
		id := strconv.Itoa(len(f.users) + 100)
		f.users[req.Username] = &User{ID: id, Username: req.Username, Password: req.Password, Role: role}
		c.JSON(http.StatusCreated, gin.H{"message": "Registration successful", "id": id})
	}
}

func (f *FakeBackend) refreshToken(c *gin.Context) {
	f.RefreshCalls.Add(1)

	f.mu.Lock()
	delay, status := f.refreshDelay, f.refreshStatus
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Refresh == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"refresh": []string{"This field is required."}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	username, ok := f.refresh[req.Refresh]
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Token is blacklisted", "code": "token_not_valid"})
		return
	}
	access, next := f.issueLocked(f.users[username])
	if !f.rotate {
		delete(f.refresh, next)
		c.JSON(http.StatusOK, dto.RefreshResponse{Access: access})
		return
	}
	delete(f.refresh, req.Refresh)
	c.JSON(http.StatusOK, dto.RefreshResponse{Access: access, Refresh: next})
}

func (f *FakeBackend) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" {
			detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}

		claims := &accessClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return signingKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		f.mu.Lock()
		stale := claims.Epoch < f.epoch
		f.mu.Unlock()
		if err != nil || stale {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func claimsOf(c *gin.Context) *accessClaims {
	return c.MustGet("claims").(*accessClaims)
}

func (f *FakeBackend) listBookings(c *gin.Context) {
	f.ListCalls.Add(1)
	claims := claimsOf(c)

	f.mu.Lock()
	out := make([]*domain.Booking, 0, len(f.bookings))
	for _, b := range f.bookings {
		if (claims.Role == "worker" && b.WorkerID == claims.UserID) ||
			(claims.Role == "user" && b.CustomerID == claims.UserID) {
			out = append(out, b.Clone())
		}
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, out)
}

func (f *FakeBackend) transition(c *gin.Context) {
	f.ActionCalls.Add(1)
	claims := claimsOf(c)
	id := c.Param("id")

	action, err := domain.ParseAction(c.Param("action"))
	if err != nil || !action.ChangesStatus() {
		detail(c, http.StatusNotFound, "Not found.")
		return
	}
	role, _ := domain.ParseRole(claims.Role)

	f.mu.Lock()
	hook := f.beforeAction
	f.mu.Unlock()
	if hook != nil {
		hook(id, action)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || !owns(b, claims) {
		detail(c, http.StatusNotFound, "Not found.")
		return
	}

	next, err := domain.Transition(b.Status, action, role)
	if err != nil {
		if allowedSomewhere(action, role) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Booking is already %s", b.Status)})
			return
		}
		detail(c, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}
	b.Status = next
	c.JSON(http.StatusOK, gin.H{"id": b.ID, "status": b.Status})
}

func owns(b *domain.Booking, claims *accessClaims) bool {
	if claims.Role == "worker" {
		return b.WorkerID == claims.UserID
	}
	return b.CustomerID == claims.UserID
}

// allowedSomewhere reports whether role may perform action from some status
func allowedSomewhere(action domain.Action, role domain.Role) bool {
	for _, s := range domain.Statuses {
		if _, err := domain.Transition(s, action, role); err == nil {
			return true
		}
	}
	return false
}

func (f *FakeBackend) createBooking(c *gin.Context) {
	claims := claimsOf(c)
	if claims.Role != "user" {
		detail(c, http.StatusForbidden, "Only customers can book workers.")
		return
	}

	var req struct {
		ServiceID dto.ID `json:"service_id"`
		Date      string `json:"date"`
		Time      string `json:"time"`
		Notes     string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Date == "" || req.Time == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"date": []string{"This field is required."}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := c.GetHeader("X-Idempotency-Key")
	if id, seen := f.idempotency[key]; key != "" && seen {
		c.JSON(http.StatusCreated, f.bookings[id])
		return
	}

	b := &domain.Booking{
		ID:            strconv.Itoa(f.nextBooking),
		CustomerID:    claims.UserID,
		WorkerID:      c.Param("id"),
		ServiceID:     string(req.ServiceID),
		ScheduledDate: req.Date,
		ScheduledTime: req.Time,
		Notes:         req.Notes,
		Status:        domain.StatusPending,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	f.nextBooking++
	f.bookings[b.ID] = b
	if key != "" {
		f.idempotency[key] = b.ID
	}
	c.JSON(http.StatusCreated, b)
}

func (f *FakeBackend) rate(c *gin.Context) {
	claims := claimsOf(c)
	workerID := c.Param("id")

	var req dto.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating < 1 || req.Rating > 5 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"rating": []string{"Ensure this value is between 1 and 5."}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	eligible := false
	for _, b := range f.bookings {
		if b.WorkerID == workerID && b.CustomerID == claims.UserID &&
			(b.Status == domain.StatusAccepted || b.Status == domain.StatusCompleted) {
			eligible = true
			break
		}
	}
	if claims.Role != "user" || !eligible {
		detail(c, http.StatusForbidden, "You can only rate workers you have booked.")
		return
	}

	f.ratings[workerID] = append(f.ratings[workerID], req.Rating)
	sum := 0
	for _, r := range f.ratings[workerID] {
		sum += r
	}
	n := len(f.ratings[workerID])
	c.JSON(http.StatusOK, dto.RatingResponse{AverageRating: float64(sum) / float64(n), TotalRatings: n})
}
