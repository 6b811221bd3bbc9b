// Package fetch issues GET requests against the remote API and turns every
// response into a classified outcome. Retryable outcomes are retried under a
// per-class backoff table; fatal outcomes are returned to the caller as typed
// errors (see errors.go).
package fetch
