package airtable

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the remote store. StatusCode drives the
// retry classification downstream; Type and Message come from the Airtable
// error envelope when present.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("airtable: %s %s returned %d (%s: %s)", e.Method, e.URL, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("airtable: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// HTTPStatus implements the classification contract used by the retry layer.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfterHint returns the server-provided wait, zero when absent.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// errorEnvelope matches both shapes Airtable uses:
//
//	{"error": {"type": "INVALID_REQUEST_UNKNOWN", "message": "..."}}
//	{"error": "NOT_FOUND"}
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

func decodeAPIError(method, url string, resp *http.Response) *APIError {
	apiErr := &APIError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
	}

	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(body) == 0 {
		apiErr.Message = resp.Status
		return apiErr
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &detail); err == nil && (detail.Type != "" || detail.Message != "") {
			apiErr.Type = detail.Type
			apiErr.Message = detail.Message
			return apiErr
		}
		var plain string
		if err := json.Unmarshal(envelope.Error, &plain); err == nil {
			apiErr.Message = plain
			return apiErr
		}
	}

	apiErr.Message = string(body)
	return apiErr
}
