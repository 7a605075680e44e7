// Package resilience classifies external-source failures and guards
// flaky sources with a circuit breaker.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// FailureKind categorizes the outcome of an external fetch.
type FailureKind int

const (
	// KindNotFound is a valid empty result, not an error: the source was
	// checked and had nothing for this record.
	KindNotFound FailureKind = iota
	// KindTimeout is a per-call deadline expiry. Recoverable.
	KindTimeout
	// KindRateLimited is a 429 from the source. Recoverable.
	KindRateLimited
	// KindTransient covers 5xx and network-level faults. Recoverable.
	KindTransient
	// KindFatal covers auth/config problems and non-429 4xx. The stage
	// fails immediately with no retry.
	KindFatal
)

func (k FailureKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchError wraps an error from an external source with its
// classification and the HTTP status, when one was received.
type FetchError struct {
	Kind       FailureKind
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Source + ": " + e.Kind.String()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FailureKind, source string, statusCode int, err error) *FetchError {
	return &FetchError{Kind: kind, Source: source, StatusCode: statusCode, Err: err}
}

// Classify returns the failure kind for an error. Errors that are not
// FetchErrors are classified by network heuristics: timeouts and
// connection-level faults are recoverable, everything else is fatal.
func Classify(err error) FailureKind {
	if err == nil {
		return KindNotFound
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return KindTransient
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return KindTransient
		}
	}

	return KindFatal
}

// IsNotFound reports whether err is a valid-empty result.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindNotFound
}

// IsRecoverable reports whether err should go to the retry queue.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err permanently fails the stage.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == KindFatal
}

// ClassifyHTTPStatus maps a non-success HTTP status code to a failure kind.
func ClassifyHTTPStatus(statusCode int) FailureKind {
	switch {
	case statusCode == 404:
		return KindNotFound
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 408:
		return KindTimeout
	case statusCode >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}
