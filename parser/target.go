package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-adwatch/models"
)

// DefaultCountry is used when a page reference carries no country.
const DefaultCountry = "PT"

const libraryBaseURL = "https://www.facebook.com/ads/library/"

// ErrInvalidURL is wrapped by every URLError.
var ErrInvalidURL = errors.New("invalid ads library url")

// URLError describes why a target URL was rejected.
type URLError struct {
	URL    string
	Reason string
}

func (e *URLError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
}

func (e *URLError) Unwrap() error {
	return ErrInvalidURL
}

// ValidateLibraryURL checks that raw points at the ads library: an http(s)
// URL on facebook.com (or a subdomain) whose path contains /ads/library.
func ValidateLibraryURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &URLError{URL: raw, Reason: "URL cannot be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &URLError{URL: raw, Reason: fmt.Sprintf("invalid URL syntax: %v", err)}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return &URLError{URL: raw, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	host := strings.ToLower(u.Hostname())
	if host != "facebook.com" && !strings.HasSuffix(host, ".facebook.com") {
		return &URLError{URL: raw, Reason: fmt.Sprintf("host %q is not facebook.com", host)}
	}
	if !strings.Contains(u.Path, "/ads/library") {
		return &URLError{URL: raw, Reason: "path must contain /ads/library"}
	}
	return nil
}

// PageURL builds the ads-library URL listing the active ads of a page.
func PageURL(country, pageID string) string {
	q := url.Values{}
	q.Set("active_status", "active")
	q.Set("ad_type", "all")
	q.Set("country", normalizeCountry(country))
	q.Set("view_all_page_id", pageID)
	return libraryBaseURL + "?" + q.Encode()
}

// NewURLTarget validates raw and returns a direct-URL target.
func NewURLTarget(raw string) (models.Target, error) {
	raw = strings.TrimSpace(raw)
	if err := ValidateLibraryURL(raw); err != nil {
		return models.Target{}, err
	}
	return models.Target{Kind: models.KindDirectURL, URL: raw}, nil
}

// NewPageTarget returns a page-reference target. Page IDs are numeric.
func NewPageTarget(country, pageID string) (models.Target, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return models.Target{}, fmt.Errorf("page id cannot be empty")
	}
	for _, r := range pageID {
		if r < '0' || r > '9' {
			return models.Target{}, fmt.Errorf("page id %q must be numeric", pageID)
		}
	}
	return models.Target{
		Kind:    models.KindPageReference,
		Country: normalizeCountry(country),
		PageID:  pageID,
	}, nil
}

// ResolveURL returns the URL to fetch for t, validating it on the way.
func ResolveURL(t models.Target) (string, error) {
	switch t.Kind {
	case models.KindPageReference:
		if t.PageID == "" {
			return "", fmt.Errorf("page target without page id")
		}
		return PageURL(t.Country, t.PageID), nil
	case models.KindDirectURL:
		if err := ValidateLibraryURL(t.URL); err != nil {
			return "", err
		}
		return t.URL, nil
	default:
		return "", fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

func normalizeCountry(country string) string {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return DefaultCountry
	}
	return country
}
