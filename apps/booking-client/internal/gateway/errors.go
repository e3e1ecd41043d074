package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prohmpiriya/homeservice-client/pkg/response"
)

// Kind classifies gateway failures
type Kind string

const (
	KindNetwork        Kind = "network"
	KindSessionExpired Kind = "session_expired"
	KindSessionChanged Kind = "session_changed"
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindServer         Kind = "server"
)

// Sentinels matched by errors.Is against any *Error of the same kind
var (
	ErrNetwork        = errors.New("network error")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionChanged = errors.New("session changed during request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrServer         = errors.New("server error")
)

var sentinels = map[Kind]error{
	KindNetwork:        ErrNetwork,
	KindSessionExpired: ErrSessionExpired,
	KindSessionChanged: ErrSessionChanged,
	KindUnauthorized:   ErrUnauthorized,
	KindForbidden:      ErrForbidden,
	KindValidation:     ErrValidation,
	KindConflict:       ErrConflict,
	KindNotFound:       ErrNotFound,
	KindServer:         ErrServer,
}

// Error is returned for every failed gateway call
type Error struct {
	Kind       Kind
	StatusCode int
	Code       string
	Message    string
	Fields     map[string][]string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = sentinels[e.Kind].Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of a gateway error, or "" for other errors
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// IsRetryable is true for transport failures, the only kind callers may retry
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "request failed", Err: err}
}

func sessionExpired(reason string) *Error {
	return &Error{Kind: KindSessionExpired, StatusCode: http.StatusUnauthorized, Message: reason}
}

// sessionChanged is returned to a request whose session was replaced by a
// login or another context while it ran. The current session is untouched.
func sessionChanged(reason string) *Error {
	return &Error{Kind: KindSessionChanged, Message: reason}
}

// statusError maps a non-2xx response to an *Error
func statusError(status int, body []byte, authenticated bool) *Error {
	parsed := response.ParseError(status, body)
	e := &Error{
		StatusCode: status,
		Code:       parsed.Code,
		Message:    parsed.Message,
		Fields:     parsed.Fields,
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindValidation
	case http.StatusUnauthorized:
		if authenticated {
			e.Kind = KindSessionExpired
		} else {
			e.Kind = KindUnauthorized
		}
	case http.StatusForbidden:
		e.Kind = KindForbidden
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusConflict:
		e.Kind = KindConflict
	default:
		e.Kind = KindServer
	}
	return e
}
