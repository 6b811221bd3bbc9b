package fetch

import (
	"errors"
	"fmt"
	"time"
)

// TransportError wraps a network level failure (connection, timeout, DNS).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError reports a 429 response. Hint is the server supplied wait, if any.
type RateLimitedError struct {
	URL     string
	Hint    time.Duration
	HasHint bool
}

func (e *RateLimitedError) Error() string {
	if e.HasHint {
		return fmt.Sprintf("rate limited on %s (retry after %s)", e.URL, e.Hint)
	}
	return fmt.Sprintf("rate limited on %s", e.URL)
}

// ServerError reports a 5xx response.
type ServerError struct {
	URL    string
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d for %s", e.Status, e.URL)
}

// AuthError reports a rejected credential (401/403). It is never retried.
type AuthError struct {
	URL    string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed with status %d for %s", e.Status, e.URL)
}

// RequestError reports any other non-success status.
type RequestError struct {
	URL    string
	Status int
	// Body holds at most maxErrorBody bytes of the response.
	Body string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d for %s", e.Status, e.URL)
	}
	return fmt.Sprintf("request failed with status %d for %s: %s", e.Status, e.URL, e.Body)
}

// RetriesExhaustedError is returned once every attempt failed with a retryable outcome.
type RetriesExhaustedError struct {
	URL        string
	Attempts   int
	LastStatus int
	Last       error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts (last status %d): %v", e.URL, e.Attempts, e.LastStatus, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// IsFatal reports whether err must stop the whole crawl rather than a single item.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusCode extracts the HTTP status carried by a fetch error, or 0.
func StatusCode(err error) int {
	var (
		authErr    *AuthError
		reqErr     *RequestError
		serverErr  *ServerError
		exhausted  *RetriesExhaustedError
		limitedErr *RateLimitedError
	)
	switch {
	case errors.As(err, &exhausted):
		return exhausted.LastStatus
	case errors.As(err, &authErr):
		return authErr.Status
	case errors.As(err, &reqErr):
		return reqErr.Status
	case errors.As(err, &serverErr):
		return serverErr.Status
	case errors.As(err, &limitedErr):
		return 429
	default:
		return 0
	}
}
