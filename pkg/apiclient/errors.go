package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrTimeout is returned when an attempt exceeds its timeout. It is never a *StatusError.
	ErrTimeout = errors.New("request timeout")

	// ErrRateLimited is returned when the outbound call budget of the caller is exhausted.
	ErrRateLimited = errors.New("outbound call rate limited")
)

// StatusError is a completed exchange with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}

	return fmt.Sprintf("unexpected status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// RequestError is the terminal failure of a request after all attempts.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Attempts   int
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s) in %s: %v", e.Method, e.URL, e.Attempts, e.Duration.Round(time.Millisecond), e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by an attempt timing out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout, statusErr.StatusCode == http.StatusTooManyRequests:
			return true
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return false
		}
	}

	return true
}
