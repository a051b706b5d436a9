package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-adwatch/models"
)

var (
	// ErrInvalidTarget is returned for malformed targets. It is never retried.
	ErrInvalidTarget = errors.New("scraper: invalid target")
	// ErrPipelineTimeout is returned when the whole strategy chain overran
	// the pipeline-level timeout.
	ErrPipelineTimeout = errors.New("scraper: pipeline timeout")
	// ErrNoFetcher is returned by a strategy whose fetch mode has no fetcher.
	ErrNoFetcher = errors.New("scraper: no fetcher for mode")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates a forbidden response (HTTP 403).
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string {
	return fmt.Errorf("forbidden: %w", e.Err).Error()
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus covers any other non-success status.
type ErrHTTPStatus struct {
	Code int
	Err  error
}

func (e ErrHTTPStatus) Error() string {
	return fmt.Errorf("http_status %d: %w", e.Code, e.Err).Error()
}

func (e ErrHTTPStatus) Unwrap() error {
	return e.Err
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		default:
			return ErrHTTPStatus{Code: statusCode, Err: wrapped}
		}
	}

	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrHTTPStatus
	if errors.As(err, &status) {
		return "http_status"
	}
	if errors.Is(err, ErrNoFetcher) {
		return "no_fetcher"
	}
	return "other"
}

// KindOf maps an error onto the result taxonomy.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorNone
	}
	if errors.Is(err, ErrInvalidTarget) {
		return models.ErrorInvalidTarget
	}
	if errors.Is(err, ErrPipelineTimeout) {
		return models.ErrorFetchTimeout
	}
	switch errorTypeLabel(err) {
	case "timeout":
		return models.ErrorFetchTimeout
	case "forbidden", "not_found", "rate_limited", "http_status":
		return models.ErrorHTTPStatus
	default:
		return models.ErrorFetchNetwork
	}
}

// retryable reports whether another attempt inside the same strategy may help.
func retryable(err error) bool {
	switch errorTypeLabel(err) {
	case "timeout", "connection", "rate_limited":
		return true
	default:
		return false
	}
}
