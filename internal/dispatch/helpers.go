package dispatch

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// maxResponseBodyRead limits how much of a response body is read for error
// messages and provider message ID extraction.
const maxResponseBodyRead = 4096

// TransientError marks a channel failure as retryable. Channels wrap
// network faults, timeouts, 429s, and 5xx responses in it; anything else is
// treated as permanent for the current event.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error chain contains a TransientError.
// An open circuit breaker is deliberately not transient: the breaker has
// already decided the channel is down, and burning further attempts on it
// would only delay the other channels' view of this event.
func IsTransient(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// statusRetryable classifies HTTP response codes: 429 and any 5xx are
// transient, everything else in the error range is permanent.
func statusRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// readBodySnippet reads a bounded prefix of the response body for
// diagnostics. Always best effort.
func readBodySnippet(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxResponseBodyRead))
	return strings.TrimSpace(string(data))
}

// newChannelBreaker builds the standard per-channel circuit breaker: trip
// after five consecutive failures, probe again after 30 seconds.
func newChannelBreaker(name string) *gobreaker.CircuitBreaker[*SendResult] {
	return gobreaker.NewCircuitBreaker[*SendResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}
