package fetch

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Verdict is the top level result of one attempt.
type Verdict int

const (
	// Success means the body can be used.
	Success Verdict = iota
	// Retryable means the attempt may be repeated after a backoff.
	Retryable
	// Fatal means the request must not be repeated.
	Fatal
)

// Class groups retryable failures that share a backoff rule.
type Class string

// Retryable failure classes.
const (
	ClassTransport   Class = "transport"
	ClassRateLimited Class = "rate_limited"
	ClassServer      Class = "server"
)

const maxErrorBody = 200

// Outcome is the classified result of a single attempt.
type Outcome struct {
	Verdict Verdict
	Class   Class
	// Hint is the server requested wait for rate limited responses.
	Hint    time.Duration
	HasHint bool
	Status  int
	Body    []byte
	Err     error
}

// Label names the outcome for metrics.
func (o Outcome) Label() string {
	switch o.Verdict {
	case Success:
		return "success"
	case Retryable:
		return string(o.Class)
	default:
		if _, ok := o.Err.(*AuthError); ok {
			return "auth"
		}
		return "fatal"
	}
}

func classify(url string, resp Response, transportErr error, now time.Time) Outcome {
	if transportErr != nil {
		return Outcome{
			Verdict: Retryable,
			Class:   ClassTransport,
			Err:     &TransportError{URL: url, Err: transportErr},
		}
	}

	status := resp.Status
	switch {
	case status >= 200 && status < 300:
		return Outcome{Verdict: Success, Status: status, Body: resp.Body}
	case status == http.StatusTooManyRequests:
		hint, ok := parseRetryAfter(resp.Header.Get("Retry-After"), now)
		return Outcome{
			Verdict: Retryable,
			Class:   ClassRateLimited,
			Hint:    hint,
			HasHint: ok,
			Status:  status,
			Err:     &RateLimitedError{URL: url, Hint: hint, HasHint: ok},
		}
	case status >= 500 && status < 600:
		return Outcome{
			Verdict: Retryable,
			Class:   ClassServer,
			Status:  status,
			Err:     &ServerError{URL: url, Status: status},
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Outcome{Verdict: Fatal, Status: status, Err: &AuthError{URL: url, Status: status}}
	default:
		return Outcome{
			Verdict: Fatal,
			Status:  status,
			Err:     &RequestError{URL: url, Status: status, Body: truncate(resp.Body, maxErrorBody)},
		}
	}
}

// parseRetryAfter accepts delta seconds (integer or decimal) and HTTP dates.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	return 0, false
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
