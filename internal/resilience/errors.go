package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is how a failed call should be treated by a caller's retry logic.
type Class string

const (
	ClassNone        Class = ""
	ClassTransient   Class = "transient"
	ClassRateLimited Class = "rate_limited"
	ClassPermanent   Class = "permanent"
)

// TransientError marks an error as safe to retry. StatusCode is the upstream
// HTTP status when there is one; 429 classifies as rate limited.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"context deadline exceeded",
	"overloaded",
}

var rateLimitMessages = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
}

// Classify maps err onto a retry class. A nil error has no class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if IsRateLimited(err) {
		return ClassRateLimited
	}
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsRateLimited reports whether err signals upstream throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return containsAny(err.Error(), rateLimitMessages)
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout, a refused or reset connection, or a
// message matching a known transient failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	return containsAny(err.Error(), transientMessages) || IsRateLimited(err)
}

// IsTransientHTTPStatus reports whether an upstream status is retryable.
func IsTransientHTTPStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout,
		529: // anthropic "overloaded"
		return true
	}
	return false
}

func containsAny(msg string, needles []string) bool {
	msg = strings.ToLower(msg)
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
