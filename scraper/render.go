package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// consentButtons matches the cookie dialog accept buttons we know about.
const consentButtons = `/^\s*(Aceitar|Aceito|Accept|Allow|Permitir todos|Allow all)\s*$/i`

const consentTestID = `[data-testid="cookie-policy-dialog-accept-button"]`

// RenderConfig configures the rendered-mode fetcher.
type RenderConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local one.
	RemoteURL string
	Headless  bool
	// Settle bounds how long to wait for dynamic content after load.
	Settle time.Duration
	Logger *slog.Logger
}

// RenderFetcher loads pages in a stealth browser tab and returns the
// rendered DOM. Browsers are started lazily, one per proxy.
type RenderFetcher struct {
	cfg RenderConfig

	mu        sync.Mutex
	browsers  map[string]*rod.Browser
	launchers []*launcher.Launcher
	closed    bool
}

// NewRenderFetcher returns a fetcher; no browser is started until the
// first Fetch.
func NewRenderFetcher(cfg RenderConfig) *RenderFetcher {
	if cfg.Settle <= 0 {
		cfg.Settle = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RenderFetcher{
		cfg:      cfg,
		browsers: make(map[string]*rod.Browser),
	}
}

func (f *RenderFetcher) browserFor(proxy string) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("render: fetcher is closed")
	}
	if b, ok := f.browsers[proxy]; ok {
		return b, nil
	}

	wsURL := f.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(f.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if proxy != "" {
			parsed, err := url.Parse(proxy)
			if err != nil {
				return nil, fmt.Errorf("render: parse proxy: %w", err)
			}
			l = l.Proxy(parsed.Host)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch: %w", err)
		}
		wsURL = u
		f.launchers = append(f.launchers, l)
		f.cfg.Logger.Info("render: launched local chrome", slog.Bool("proxied", proxy != ""))
	} else if proxy != "" {
		f.cfg.Logger.Warn("render: proxy ignored for remote browser")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("render: connect: %w", err)
	}
	f.browsers[proxy] = b
	return b, nil
}

// Fetch navigates to target in a fresh stealth tab.
func (f *RenderFetcher) Fetch(ctx context.Context, target string, s Strategy) (*Document, error) {
	b, err := f.browserFor(s.Proxy)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("render: create tab: %w", err)
	}
	defer page.Close()

	log := f.cfg.Logger.With(slog.String("strategy", s.ID), slog.String("url", target))

	if s.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: s.Locale}).Call(page); err != nil {
			log.Debug("render: locale override failed", slog.Any("error", err))
		}
	}
	if s.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      s.UserAgent,
			AcceptLanguage: acceptLanguage(s.Locale),
		}); err != nil {
			log.Debug("render: user agent override failed", slog.Any("error", err))
		}
	}
	if len(s.Headers) > 0 {
		pairs := make([]string, 0, len(s.Headers)*2)
		for k, v := range s.Headers {
			pairs = append(pairs, k, v)
		}
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			log.Debug("render: extra headers failed", slog.Any("error", err))
		}
	}

	p := page.Context(ctx)
	if err := p.Navigate(target); err != nil {
		return nil, classifyError(fmt.Errorf("render: navigate: %w", err), 0)
	}
	if err := p.WaitLoad(); err != nil {
		log.Warn("render: wait load", slog.Any("error", err))
	}

	dismissConsent(p, log)

	if s.WaitForContent {
		if err := p.WaitIdle(f.cfg.Settle); err != nil {
			log.Debug("render: wait idle", slog.Any("error", err))
		}
		if len(s.Selectors) > 0 {
			waitForAny(p, s.Selectors, f.cfg.Settle)
		}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, classifyError(fmt.Errorf("render: read dom: %w", err), 0)
	}
	return &Document{
		URL:        target,
		Body:       html,
		StatusCode: 200,
		Mode:       ModeRendered,
	}, nil
}

func dismissConsent(p *rod.Page, log *slog.Logger) {
	if ok, el, err := p.Has(consentTestID); err == nil && ok {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			log.Debug("render: consent dismissed", slog.String("via", "testid"))
			return
		}
	}
	if ok, el, err := p.HasR("button, [role=button]", consentButtons); err == nil && ok {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			log.Debug("render: consent click failed", slog.Any("error", err))
			return
		}
		log.Debug("render: consent dismissed", slog.String("via", "text"))
	}
}

// waitForAny polls until one of the selectors is present or d elapses.
func waitForAny(p *rod.Page, selectors []string, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, sel := range selectors {
			if ok, _, err := p.Has(sel); err == nil && ok {
				return
			}
		}
		select {
		case <-p.GetContext().Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Close shuts down every browser this fetcher started.
func (f *RenderFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	for key, b := range f.browsers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("render: close browser: %w", err)
		}
		delete(f.browsers, key)
	}
	for _, l := range f.launchers {
		l.Cleanup()
	}
	f.launchers = nil
	return firstErr
}
