package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Response is the success/error envelope some backend services wrap payloads in
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// ErrorData is a normalized error body
type ErrorData struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

const nonFieldErrors = "non_field_errors"

// Unwrap returns the data member of an enveloped success body, or body unchanged
func Unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return body
	}
	if _, ok := probe["success"]; !ok {
		return body
	}
	data, ok := probe["data"]
	if !ok {
		return body
	}
	return data
}

// ParseError normalizes an error body into ErrorData. It understands
// {"detail": ...}, {"error": "..."}, {"error": {"code", "message"}},
// field error maps and non_field_errors. It never returns nil.
func ParseError(status int, body []byte) *ErrorData {
	out := &ErrorData{Code: defaultCode(status)}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &raw); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" || len(text) > 200 || strings.HasPrefix(text, "<") {
			text = http.StatusText(status)
		}
		out.Message = text
		return out
	}

	for key, value := range raw {
		switch key {
		case "detail":
			out.Message = asText(value)
		case "code":
			if code := asText(value); code != "" {
				out.Code = code
			}
		case "error":
			var env envelopeError
			if err := json.Unmarshal(value, &env); err == nil && (env.Code != "" || env.Message != "") {
				if env.Code != "" {
					out.Code = env.Code
				}
				if out.Message == "" {
					out.Message = env.Message
				}
				out.Details = env.Details
			} else if text := asText(value); text != "" && out.Message == "" {
				out.Message = text
			}
		case "success", "data", "meta", "message":
			if key == "message" && out.Message == "" {
				out.Message = asText(value)
			}
		default:
			if msgs := asList(value); len(msgs) > 0 {
				if out.Fields == nil {
					out.Fields = make(map[string][]string)
				}
				out.Fields[key] = msgs
			}
		}
	}

	if out.Message == "" {
		out.Message = firstFieldMessage(out.Fields)
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

// Error formats the error for display
func (e *ErrorData) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func firstFieldMessage(fields map[string][]string) string {
	if msgs, ok := fields[nonFieldErrors]; ok && len(msgs) > 0 {
		return msgs[0]
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(fields[k]) > 0 {
			return fmt.Sprintf("%s: %s", k, fields[k][0])
		}
	}
	return ""
}

func asText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if list := asList(raw); len(list) > 0 {
		return list[0]
	}
	return ""
}

func asList(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []string{s}
	}
	return nil
}

func defaultCode(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}
