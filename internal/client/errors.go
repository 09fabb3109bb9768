package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind splits upstream failures into the two classes the retry policy
// cares about.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// ServiceError wraps an upstream failure with its retry classification.
type ServiceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Transient marks an error as safe to retry.
func Transient(op string, err error) *ServiceError {
	return &ServiceError{Kind: KindTransient, Op: op, Err: err}
}

// Permanent marks an error as not worth retrying.
func Permanent(op string, err error) *ServiceError {
	return &ServiceError{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Deadline expiry counts
// as transient; an unclassified error does not.
func IsTransient(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Substrings in upstream error bodies that indicate a retryable condition.
var retryableKeywords = []string{
	"rate limit",
	"ratelimit",
	"throttl",
	"too many requests",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"connection reset",
	"network",
}

// classifyHTTP turns an upstream HTTP failure into a ServiceError. 429,
// 408 and 5xx are transient, other 4xx permanent; the body is also sniffed
// for rate-limit wording since some upstreams hide throttling behind 400s.
func classifyHTTP(op string, statusCode int, body string) *ServiceError {
	err := fmt.Errorf("status %d: %s", statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode >= 500:
		return Transient(op, err)
	}

	lower := strings.ToLower(body)
	for _, kw := range retryableKeywords {
		if strings.Contains(lower, kw) {
			return Transient(op, err)
		}
	}

	return Permanent(op, err)
}
