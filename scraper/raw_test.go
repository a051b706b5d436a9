package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

const libraryURL = "https://www.facebook.com/ads/library/?id=1"

func TestRawFetcherReturnsBody(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var gotUA, gotLang, gotReferer string
	transport.RegisterResponder(http.MethodGet, libraryURL, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotLang = req.Header.Get("Accept-Language")
		gotReferer = req.Header.Get("Referer")
		return httpmock.NewStringResponse(http.StatusOK, "<html><body><div>~42 resultados</div></body></html>"), nil
	})

	f := NewRawFetcher(time.Second, WithTransport(transport))
	doc, err := f.Fetch(context.Background(), libraryURL, Strategy{
		ID:        "raw-browser",
		Mode:      ModeRaw,
		Locale:    "pt-PT",
		Headers:   browserHeaders("pt-PT"),
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.StatusCode != http.StatusOK || doc.Mode != ModeRaw {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if !strings.Contains(doc.Body, "~42 resultados") {
		t.Fatalf("body = %q", doc.Body)
	}
	if gotUA != "test-agent" {
		t.Fatalf("user agent = %q", gotUA)
	}
	if gotLang != "pt-PT,pt;q=0.9,en;q=0.8" {
		t.Fatalf("accept-language = %q", gotLang)
	}
	if gotReferer != "https://www.facebook.com/" {
		t.Fatalf("referer = %q", gotReferer)
	}
}

func TestRawFetcherStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "http_status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, libraryURL, httpmock.NewStringResponder(tt.status, ""))

			f := NewRawFetcher(time.Second, WithTransport(transport))
			_, err := f.Fetch(context.Background(), libraryURL, Strategy{ID: "raw-direct", Mode: ModeRaw})
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err %v)", got, tt.expected, err)
			}
		})
	}
}

func TestRawFetcherTransportError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, libraryURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	f := NewRawFetcher(time.Second, WithTransport(transport))
	_, err := f.Fetch(context.Background(), libraryURL, Strategy{ID: "raw-direct", Mode: ModeRaw})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRawFetcherCanceledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, libraryURL, httpmock.NewStringResponder(http.StatusOK, "1 result"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewRawFetcher(time.Second, WithTransport(transport))
	if _, err := f.Fetch(ctx, libraryURL, Strategy{ID: "raw-direct", Mode: ModeRaw}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("expected no request, got %d", got)
	}
}

func TestAcceptLanguage(t *testing.T) {
	tests := map[string]string{
		"":      "en-US,en;q=0.9",
		"en-US": "en-US,en;q=0.9",
		"fr-FR": "fr-FR,fr;q=0.9,en;q=0.8",
	}
	for locale, want := range tests {
		if got := acceptLanguage(locale); got != want {
			t.Fatalf("acceptLanguage(%q) = %q, want %q", locale, got, want)
		}
	}
}
