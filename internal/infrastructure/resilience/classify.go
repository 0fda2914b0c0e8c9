package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
)

var (
	// Transient is retried and counted against the breaker.
	Transient = ErrorClassification{Retryable: true, RecordFailure: true}
	// Permanent is not retried but still counts as a breaker failure.
	Permanent = ErrorClassification{Retryable: false, RecordFailure: true}
	// Ignored is neither retried nor recorded: caller cancellation and client-side mistakes.
	Ignored = ErrorClassification{}
)

// ClassifyCommon handles the cases every adapter treats the same way. ok is false when
// the adapter has to decide on its own.
func ClassifyCommon(err error) (ErrorClassification, bool) {
	if err == nil {
		return Ignored, true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Ignored, true
	}
	if IsCircuitOpen(err) {
		return Transient, true
	}
	return ErrorClassification{}, false
}

// ClassifyNetwork reports transport-level failures (dial, reset, timeouts) as transient.
func ClassifyNetwork(err error) (ErrorClassification, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient, true
	}
	return ErrorClassification{}, false
}

// ClassifyHTTPStatus maps an upstream status code; 4xx other than 408/429 is the caller's fault.
func ClassifyHTTPStatus(statusCode int) ErrorClassification {
	if RetryableHTTPStatus(statusCode) {
		return Transient
	}
	if statusCode >= http.StatusInternalServerError {
		return Permanent
	}
	return Ignored
}

func RetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
