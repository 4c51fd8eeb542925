package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrCircuitOpen is returned when a provider's breaker rejects a call
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrQueued acknowledges that work was parked in the retry queue
	ErrQueued = errors.New("operation queued for retry")
	// ErrAllProvidersFailed is returned when a replay exhausts the chain
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrNoProviders is returned by a chain with nothing to call
	ErrNoProviders = errors.New("no providers configured")
	// ErrDatastore marks infrastructure failures of the backing store
	ErrDatastore = errors.New("datastore failure")
)

// Class is the error taxonomy used to pick a recovery strategy
type Class int

const (
	// ClassTransient errors fall through to the next provider
	ClassTransient Class = iota + 1
	// ClassSystematic errors are configuration or auth faults
	ClassSystematic
	// ClassCritical errors are infrastructure faults requiring an operator
	ClassCritical
	// ClassCanceled means the caller gave up; not a provider failure
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassSystematic:
		return "systematic"
	case ClassCritical:
		return "critical"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// HTTPError is a non-2xx response from a provider API
type HTTPError struct {
	Provider   string
	Status     int
	Body       string
	RetryAfter time.Duration
}

// NewHTTPError builds an HTTPError, reading any Retry-After header
func NewHTTPError(provider string, status int, body string, header http.Header) *HTTPError {
	e := &HTTPError{Provider: provider, Status: status, Body: truncateBody(body)}
	if header != nil {
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

// StatusCode returns the HTTP status
func (e *HTTPError) StatusCode() int { return e.Status }

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	const max = 512
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}

// ParseRetryAfter reads a Retry-After value in seconds or HTTP-date form
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ClassifiedError is a provider error tagged with its recovery class
type ClassifiedError struct {
	Class      Class
	Provider   string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *ClassifiedError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s error: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s error from %s: %v", e.Class, e.Provider, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify maps err onto the taxonomy. It returns nil for a nil error.
func Classify(provider string, err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Provider == "" {
			copied := *ce
			copied.Provider = provider
			return &copied
		}
		return ce
	}

	out := &ClassifiedError{Provider: provider, Err: err}

	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		out.Status = sc.StatusCode()
		var he *HTTPError
		if errors.As(err, &he) {
			out.RetryAfter = he.RetryAfter
		}
		out.Class = ClassifyStatus(out.Status)
		return out
	}

	switch {
	case errors.Is(err, context.Canceled):
		out.Class = ClassCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCircuitOpen):
		out.Class = ClassTransient
	case errors.Is(err, ErrDatastore):
		out.Class = ClassCritical
	case isNetworkError(err):
		out.Class = ClassTransient
	default:
		// Unrecognized failures are retried elsewhere rather than dropped.
		out.Class = ClassTransient
	}
	return out
}

// ClassifyStatus maps an HTTP status onto the taxonomy
func ClassifyStatus(status int) Class {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ClassTransient
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return ClassSystematic
	case http.StatusInternalServerError:
		return ClassCritical
	}
	switch {
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassSystematic
	default:
		return ClassTransient
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// IsRetryable reports whether err should be retried against the same or
// another provider
func IsRetryable(err error) bool {
	ce := Classify("", err)
	return ce != nil && ce.Class == ClassTransient
}

// QueuedError acknowledges that work was parked for a later retry.
// errors.Is(err, ErrQueued) holds for it.
type QueuedError struct {
	OperationID string
	Cause       error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("operation %s queued for retry: %v", e.OperationID, e.Cause)
}

func (e *QueuedError) Is(target error) bool { return target == ErrQueued }

func (e *QueuedError) Unwrap() error { return e.Cause }
