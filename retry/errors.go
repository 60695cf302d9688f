package retry

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// HTTPError represents a provider HTTP error with its status code.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// QuotaError marks hard quota exhaustion: a non-time-based usage limit, as
// opposed to transient throttling. It is never retried.
type QuotaError struct {
	Err error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %v", e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// IsQuotaExceeded reports whether err is (or wraps) a QuotaError.
func IsQuotaExceeded(err error) bool {
	var quota *QuotaError
	return errors.As(err, &quota)
}

var statusPattern = regexp.MustCompile(`\b(429|5\d\d)\b`)

// StatusFromError extracts an HTTP status code from err, preferring a typed
// HTTPError and falling back to sniffing the message. Returns 0 if none.
func StatusFromError(err error) int {
	if err == nil {
		return 0
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	if m := statusPattern.FindString(err.Error()); m != "" {
		status := 0
		for i := 0; i < len(m); i++ {
			status = status*10 + int(m[i]-'0')
		}
		return status
	}
	return 0
}

// DefaultShouldRetry retries 429 and 5xx-class errors plus transport-level
// network failures. Other 4xx client errors are not retried.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	switch status := StatusFromError(err); {
	case status == 429:
		return true
	case status >= 500 && status < 600:
		return true
	case status != 0:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}

// isQuotaExhaustedMessage detects hard quota exhaustion in a provider error
// message, carefully excluding plain throttling: "rate limit"-style wording
// without a quota reference follows the normal backoff path.
func isQuotaExhaustedMessage(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "quota") {
		return false
	}
	return strings.Contains(msg, "exceeded") ||
		strings.Contains(msg, "exhausted") ||
		strings.Contains(msg, "out of quota")
}
