package backend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/rooby-r/sygla-h2o-sub001/internal/shared"
)

// APIError is a non-2xx answer of the backend.
type APIError struct {
	Status  int
	Detail  string
	Message string
	// Fields holds per-field validation messages.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if msg := e.UserMessage(); msg != "" {
		return fmt.Sprintf("backend: status %d: %s", e.Status, msg)
	}
	return fmt.Sprintf("backend: status %d", e.Status)
}

// UserMessage returns the most specific human readable text the backend sent.
func (e *APIError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if msgs := e.Fields[name]; len(msgs) > 0 {
			return name + ": " + msgs[0]
		}
	}
	return ""
}

// Is maps the HTTP status onto the shared sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case shared.ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case shared.ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	case shared.ErrForbidden:
		return e.Status == http.StatusForbidden
	case shared.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// messageKeys are read in order; the first non-empty one becomes the message.
var messageKeys = []string{"message", "error", "non_field_errors"}

// decodeAPIError reads the error document. Unknown bodies keep only the status.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
			apiErr.Message = text
		}
		return apiErr
	}
	if raw, ok := doc["detail"]; ok {
		_ = json.Unmarshal(raw, &apiErr.Detail)
	}
	for _, key := range messageKeys {
		raw, ok := doc[key]
		if !ok || apiErr.Message != "" {
			continue
		}
		if msgs := fieldMessages(raw); len(msgs) > 0 {
			apiErr.Message = msgs[0]
		}
	}
	for key, raw := range doc {
		if key == "detail" || slices.Contains(messageKeys, key) {
			continue
		}
		if msgs := fieldMessages(raw); len(msgs) > 0 {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[key] = msgs
		}
	}
	return apiErr
}

func fieldMessages(raw json.RawMessage) []string {
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	var single string
	if json.Unmarshal(raw, &single) == nil && single != "" {
		return []string{single}
	}
	return nil
}
