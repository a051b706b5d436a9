package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/aluiziolira/go-adwatch/config"
	"github.com/aluiziolira/go-adwatch/parser"
)

// FetchMode selects the document retrieval mechanism.
type FetchMode string

const (
	// ModeRaw issues a plain HTTP request and returns the body.
	ModeRaw FetchMode = "raw"
	// ModeRendered drives a headless browser and returns the rendered DOM.
	ModeRendered FetchMode = "rendered"
)

// Strategy is one named fetch+extract configuration of the fallback chain.
type Strategy struct {
	ID             string
	Mode           FetchMode
	Locale         string
	Headers        map[string]string
	UserAgent      string
	Proxy          string
	WaitForContent bool
	// Selectors are scanned before the full document text.
	Selectors []string
	// SelectorsOnly disables the full-text scan.
	SelectorsOnly bool
	Timeout       time.Duration
}

// Document is what a Fetcher returns on success.
type Document struct {
	URL        string
	Body       string
	StatusCode int
	Mode       FetchMode
}

// Fetcher retrieves a document for one strategy. Implementations must
// honour ctx and return typed errors (see classifyError).
type Fetcher interface {
	Fetch(ctx context.Context, url string, s Strategy) (*Document, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string, s Strategy) (*Document, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string, s Strategy) (*Document, error) {
	return f(ctx, url, s)
}

// CounterSelectors are the elements that hold the result counter on the
// ads library page.
var CounterSelectors = []string{
	`[data-testid="ads_library_results_count"]`,
	`div[role="main"] span`,
}

func browserHeaders(locale string) map[string]string {
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           acceptLanguage(locale),
		"Cache-Control":             "no-cache",
		"Pragma":                    "no-cache",
		"Referer":                   "https://www.facebook.com/",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Upgrade-Insecure-Requests": "1",
	}
}

// acceptLanguage turns "pt-PT" into "pt-PT,pt;q=0.9,en;q=0.8".
func acceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	lang, _, _ := strings.Cut(locale, "-")
	if lang == "en" {
		return locale + ",en;q=0.9"
	}
	return locale + "," + lang + ";q=0.9,en;q=0.8"
}

// DefaultStrategies returns the fallback chain in priority order.
// Rendered strategies are included only when rendering is enabled and the
// proxy strategy only when a proxy is configured.
func DefaultStrategies(cfg *config.Config) []Strategy {
	var out []Strategy
	if cfg.RenderEnabled {
		out = append(out,
			Strategy{
				ID:             "rendered-counter",
				Mode:           ModeRendered,
				Locale:         cfg.Locale,
				WaitForContent: true,
				Selectors:      CounterSelectors,
				SelectorsOnly:  true,
				Timeout:        cfg.StrategyTimeout,
			},
			Strategy{
				ID:      "rendered-scan",
				Mode:    ModeRendered,
				Locale:  cfg.Locale,
				Timeout: cfg.StrategyTimeout,
			},
		)
	}
	out = append(out,
		Strategy{
			ID:      "raw-direct",
			Mode:    ModeRaw,
			Locale:  cfg.Locale,
			Timeout: cfg.StrategyTimeout,
		},
		Strategy{
			ID:      "raw-browser",
			Mode:    ModeRaw,
			Locale:  cfg.Locale,
			Headers: browserHeaders(cfg.Locale),
			Timeout: cfg.StrategyTimeout,
		},
	)
	if cfg.ProxyURL != "" {
		out = append(out, Strategy{
			ID:      "raw-proxy",
			Mode:    ModeRaw,
			Locale:  cfg.Locale,
			Headers: browserHeaders(cfg.Locale),
			Proxy:   cfg.ProxyURL,
			Timeout: cfg.StrategyTimeout,
		})
	}
	return out
}

// extract runs the pattern extractor over a fetched document: selector
// texts first, then the visible text, then the raw body.
func extract(doc *Document, s Strategy) (parser.Match, bool) {
	parsed, err := parser.ParseHTML(doc.Body)
	if err != nil {
		if s.SelectorsOnly {
			return parser.Match{}, false
		}
		return parser.Extract(doc.Body)
	}
	for _, text := range parsed.SelectorTexts(s.Selectors) {
		if m, ok := parser.Extract(text); ok {
			return m, true
		}
	}
	if s.SelectorsOnly {
		return parser.Match{}, false
	}
	if m, ok := parser.Extract(parsed.VisibleText()); ok {
		return m, true
	}
	return parser.Extract(doc.Body)
}
