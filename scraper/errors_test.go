package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aluiziolira/go-adwatch/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: errors.New("Internal Server Error"), statusCode: http.StatusInternalServerError, expected: "http_status"},
		{name: "no fetcher", err: ErrNoFetcher, statusCode: 0, expected: "no_fetcher"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{name: "nil", err: nil, want: models.ErrorNone},
		{name: "invalid target", err: ErrInvalidTarget, want: models.ErrorInvalidTarget},
		{name: "pipeline timeout", err: ErrPipelineTimeout, want: models.ErrorFetchTimeout},
		{name: "fetch timeout", err: ErrTimeout{Err: context.DeadlineExceeded}, want: models.ErrorFetchTimeout},
		{name: "status", err: ErrForbidden{Err: errors.New("Forbidden")}, want: models.ErrorHTTPStatus},
		{name: "network", err: ErrConnection{Err: errors.New("reset")}, want: models.ErrorFetchNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(ErrRateLimited{Err: errors.New("429")}) {
		t.Fatal("rate limited should be retryable")
	}
	if retryable(ErrNotFound{Err: errors.New("404")}) {
		t.Fatal("not found should not be retryable")
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	rp := retryPolicy{maxRetries: 4, base: 200 * time.Millisecond, max: 500 * time.Millisecond}

	if got := rp.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("first backoff = %v", got)
	}
	if got := rp.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v", got)
	}
	if got := rp.backoff(4); got != rp.max {
		t.Fatalf("delay %v should be capped at %v", got, rp.max)
	}
}
