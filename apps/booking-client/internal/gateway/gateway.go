package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/store"
	"github.com/prohmpiriya/homeservice-client/pkg/logger"
	"github.com/prohmpiriya/homeservice-client/pkg/response"
	"github.com/prohmpiriya/homeservice-client/pkg/telemetry"
)

const (
	// RequestIDHeader correlates client and server logs
	RequestIDHeader = "X-Request-ID"
	// IdempotencyKeyHeader lets the backend deduplicate retried creations
	IdempotencyKeyHeader = "X-Idempotency-Key"

	maxBodyBytes = 10 << 20
)

// Config holds gateway settings
type Config struct {
	BaseURL          string
	RefreshPath      string
	Timeout          time.Duration
	ExpiryLeeway     time.Duration
	ProactiveRenewal bool
	UserAgent        string
}

// Response is a successful (2xx) backend answer
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
}

// Decode unmarshals the body into out, unwrapping a success envelope
func (r *Response) Decode(out interface{}) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Unwrap(r.Body), out); err != nil {
		return &Error{Kind: KindServer, StatusCode: r.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

// Gateway performs every backend call on behalf of the current session
type Gateway struct {
	cfg    Config
	client *http.Client
	store  store.CredentialStore
	log    *logger.Logger
	now    func() time.Time

	group singleflight.Group

	// generation is bumped whenever the session is replaced or ended; a
	// renewal only writes while its generation is current
	generation atomic.Uint64

	hookMu sync.Mutex
	hooks  map[uint64]func()
	hookID uint64
}

// Option configures a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithClock overrides time.Now for token expiry checks
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway reading and renewing credentials through st
func New(cfg Config, st store.CredentialStore, opts ...Option) *Gateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = "/api/token/refresh/"
	}

	g := &Gateway{
		cfg:   cfg,
		store: st,
		log:   logger.Nop(),
		now:   time.Now,
		hooks: make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: cfg.Timeout}
	}
	g.log = g.log.With(zap.String("component", "gateway"))
	return g
}

type requestOptions struct {
	unauthenticated bool
	header          http.Header
}

// RequestOption customizes a single request
type RequestOption func(*requestOptions)

// Unauthenticated sends no bearer token and never triggers renewal
func Unauthenticated() RequestOption {
	return func(o *requestOptions) { o.unauthenticated = true }
}

// WithHeader adds a request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// WithIdempotencyKey sets the idempotency key header
func WithIdempotencyKey(key string) RequestOption {
	return WithHeader(IdempotencyKeyHeader, key)
}

// Do sends the request and decodes a successful body into out
func (g *Gateway) Do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) error {
	resp, err := g.Request(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Request sends method path with body encoded as JSON. Authenticated
// requests that are rejected with 401 trigger one shared renewal and are
// retried once with the renewed token.
func (g *Gateway) Request(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (resp *Response, err error) {
	o := &requestOptions{header: make(http.Header)}
	for _, opt := range opts {
		opt(o)
	}

	ctx, span := telemetry.StartSpan(ctx, "gateway.request", telemetry.HTTPAttributes(method, path)...)
	defer func() { telemetry.EndSpan(span, err) }()

	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	if o.unauthenticated {
		raw, err := g.send(ctx, method, path, payload, "", requestID, o.header)
		if err != nil {
			return nil, err
		}
		return g.result(raw, requestID, false)
	}

	gen := g.generation.Load()
	token := g.store.Read().AccessToken
	renewed := false

	if token != "" && g.cfg.ProactiveRenewal && g.expiresSoon(token) {
		g.log.Debug("access token close to expiry, renewing first", zap.String("request_id", requestID))
		if token, err = g.renew(ctx, gen, token); err != nil {
			return nil, err
		}
		renewed = true
	}

	raw, err := g.send(ctx, method, path, payload, token, requestID, o.header)
	if err != nil {
		return nil, err
	}
	if raw.StatusCode != http.StatusUnauthorized || token == "" {
		return g.result(raw, requestID, token != "")
	}

	if renewed {
		return nil, g.expire(gen, "renewed token rejected")
	}
	if token, err = g.renew(ctx, gen, token); err != nil {
		return nil, err
	}

	raw, err = g.send(ctx, method, path, payload, token, requestID, o.header)
	if err != nil {
		return nil, err
	}
	if raw.StatusCode == http.StatusUnauthorized {
		// The request is not retried again
		return nil, g.expire(gen, "renewed token rejected")
	}
	return g.result(raw, requestID, true)
}

type rawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token, requestID string, extra http.Header) (*rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.url(path), body)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "invalid request", Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	telemetry.InjectHeaders(ctx, req.Header)

	start := time.Now()
	res, err := g.client.Do(req)
	if err != nil {
		g.log.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, networkError(err)
	}
	defer res.Body.Close()
	telemetry.RecordStatusCode(ctx, res.StatusCode)

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(fmt.Errorf("read response body: %w", err))
	}

	g.log.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", requestID),
	)
	return &rawResponse{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func (g *Gateway) result(raw *rawResponse, requestID string, authenticated bool) (*Response, error) {
	if raw.StatusCode >= 200 && raw.StatusCode < 300 {
		return &Response{StatusCode: raw.StatusCode, Header: raw.Header, Body: raw.Body, RequestID: requestID}, nil
	}
	return nil, statusError(raw.StatusCode, raw.Body, authenticated)
}

func (g *Gateway) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return g.cfg.BaseURL + path
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "failed to encode request body", Err: err}
	}
	return data, nil
}
