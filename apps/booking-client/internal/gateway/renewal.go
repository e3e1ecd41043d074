package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/domain"
	"github.com/prohmpiriya/homeservice-client/apps/booking-client/internal/dto"
	"github.com/prohmpiriya/homeservice-client/pkg/telemetry"
)

// InvalidateRenewal makes every renewal started before this call unable to
// write to the credential store. Logout calls it before clearing the store.
// It never blocks, so store listeners may call it.
func (g *Gateway) InvalidateRenewal() {
	g.generation.Add(1)
}

// OnSessionExpired registers fn to run once per failed renewal. It returns
// a function that removes the hook.
func (g *Gateway) OnSessionExpired(fn func()) func() {
	g.hookMu.Lock()
	id := g.hookID
	g.hookID++
	g.hooks[id] = fn
	g.hookMu.Unlock()

	return func() {
		g.hookMu.Lock()
		delete(g.hooks, id)
		g.hookMu.Unlock()
	}
}

// renew returns an access token newer than stale. Concurrent callers for
// the same (generation, stale token) share one refresh call.
func (g *Gateway) renew(ctx context.Context, gen uint64, stale string) (string, error) {
	if g.generation.Load() != gen {
		return "", g.outdated("session ended during request")
	}

	current := g.store.Read()
	if current.IsGuest() {
		return "", sessionExpired("no active session")
	}
	if current.AccessToken != stale {
		// Another request already renewed
		return current.AccessToken, nil
	}

	key := fmt.Sprintf("%d:%s", gen, stale)
	// The shared call outlives any single waiter's cancellation
	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (interface{}, error) {
		return g.refresh(shared, gen, current)
	})

	select {
	case <-ctx.Done():
		return "", networkError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh performs the single refresh call of a renewal
func (g *Gateway) refresh(ctx context.Context, gen uint64, sess domain.Session) (token string, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "gateway.renew")
	defer func() { telemetry.EndSpan(span, err) }()

	// A previous flight for this key may have finished between the
	// caller's store read and joining the group
	if current := g.store.Read(); current.IsGuest() {
		return "", sessionExpired("no active session")
	} else if current.AccessToken != sess.AccessToken {
		return current.AccessToken, nil
	}

	if !sess.HasRefreshToken() {
		return "", g.expire(gen, "no refresh token")
	}

	payload, err := json.Marshal(dto.RefreshRequest{Refresh: sess.RefreshToken})
	if err != nil {
		return "", err
	}

	raw, err := g.send(ctx, http.MethodPost, g.cfg.RefreshPath, payload, "", uuid.NewString(), nil)
	if err != nil {
		// Transport failure: the session may still be valid
		return "", err
	}

	switch {
	case raw.StatusCode >= 200 && raw.StatusCode < 300:
	case raw.StatusCode == http.StatusBadRequest,
		raw.StatusCode == http.StatusUnauthorized,
		raw.StatusCode == http.StatusForbidden:
		return "", g.expire(gen, "refresh token rejected")
	default:
		return "", statusError(raw.StatusCode, raw.Body, false)
	}

	var out dto.RefreshResponse
	if err := json.Unmarshal(raw.Body, &out); err != nil || out.Access == "" {
		return "", &Error{Kind: KindServer, StatusCode: raw.StatusCode, Message: "malformed refresh response", Err: err}
	}

	if err := g.commit(gen, out); err != nil {
		return "", err
	}
	g.log.Info("access token renewed", zap.Bool("refresh_rotated", out.Refresh != ""))
	return out.Access, nil
}

// commit installs renewed credentials unless the session ended meanwhile.
// The generation is checked under the store's write lock; Login and Logout
// bump it before writing, so their write always lands after a commit that
// passed the check.
func (g *Gateway) commit(gen uint64, out dto.RefreshResponse) error {
	written, err := g.store.Update(func(cur domain.Session) (domain.Session, bool) {
		if g.generation.Load() != gen || cur.IsGuest() {
			return cur, false
		}
		return cur.WithAccessToken(out.Access, out.Refresh), true
	})
	if !written {
		g.log.Debug("discarding renewal that completed after the session changed")
		return g.outdated("session ended during renewal")
	}
	if err != nil {
		g.log.Warn("renewed session not persisted", zap.Error(err))
	}
	return nil
}

// expire clears the session after an irrecoverable authorization failure
// and runs the session-expired hooks. Only the first caller per
// generation clears and notifies, and only while no newer session has
// been installed.
func (g *Gateway) expire(gen uint64, reason string) error {
	if !g.generation.CompareAndSwap(gen, gen+1) {
		return g.outdated(reason)
	}

	cleared, err := g.store.Update(func(cur domain.Session) (domain.Session, bool) {
		return domain.GuestSession(), g.generation.Load() == gen+1 && !cur.IsGuest()
	})
	if err != nil {
		g.log.Warn("failed to clear expired session", zap.Error(err))
	}
	if !cleared {
		return g.outdated(reason)
	}

	g.log.Warn("session expired", zap.String("reason", reason))
	g.runHooks()
	return sessionExpired(reason)
}

// outdated reports a request that lost its session to a newer write. A
// store left as Guest means the session ended; anything else means it was
// replaced and this request's result no longer applies.
func (g *Gateway) outdated(reason string) error {
	if g.store.Read().IsGuest() {
		return sessionExpired(reason)
	}
	return sessionChanged(reason)
}

func (g *Gateway) runHooks() {
	g.hookMu.Lock()
	fns := make([]func(), 0, len(g.hooks))
	for _, fn := range g.hooks {
		fns = append(fns, fn)
	}
	g.hookMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// expiresSoon reads the exp claim without verifying the signature
func (g *Gateway) expiresSoon(token string) bool {
	exp, err := TokenExpiry(token)
	if err != nil || exp.IsZero() {
		return false
	}
	return !g.now().Add(g.cfg.ExpiryLeeway).Before(exp)
}

// TokenExpiry returns the exp claim of a JWT access token (zero if absent)
func TokenExpiry(token string) (time.Time, error) {
	claims, err := TokenClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}

// TokenClaims parses a JWT without verifying it. The client never holds the
// signing key; claims are used only as hints.
func TokenClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IsSessionExpired reports whether err ends the session
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
