package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// RawFetcher issues plain HTTP requests through colly. One collector is
// kept per proxy since colly binds the proxy to the shared transport.
type RawFetcher struct {
	timeout   time.Duration
	transport http.RoundTripper

	mu         sync.Mutex
	collectors map[string]*colly.Collector
}

// RawOption configures a RawFetcher.
type RawOption func(*RawFetcher)

// WithTransport replaces the HTTP transport of every collector. Mostly
// useful for tests with a mock transport.
func WithTransport(rt http.RoundTripper) RawOption {
	return func(f *RawFetcher) {
		f.transport = rt
	}
}

// NewRawFetcher builds a raw fetcher whose requests time out after timeout.
func NewRawFetcher(timeout time.Duration, opts ...RawOption) *RawFetcher {
	f := &RawFetcher{
		timeout:    timeout,
		collectors: make(map[string]*colly.Collector),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RawFetcher) collectorFor(proxy string) (*colly.Collector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.collectors[proxy]; ok {
		return c, nil
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(f.timeout)

	if f.transport != nil {
		c.WithTransport(f.transport)
	} else {
		proxyFunc := http.ProxyFromEnvironment
		if proxy != "" {
			parsed, err := url.Parse(proxy)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			proxyFunc = http.ProxyURL(parsed)
		}
		c.WithTransport(&http.Transport{
			Proxy: proxyFunc,
			DialContext: (&net.Dialer{
				Timeout:   f.timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}

	f.collectors[proxy] = c
	return c, nil
}

// Fetch performs one GET for s. Non-2xx statuses come back as typed errors.
func (f *RawFetcher) Fetch(ctx context.Context, target string, s Strategy) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyError(err, 0)
	}

	base, err := f.collectorFor(s.Proxy)
	if err != nil {
		return nil, err
	}
	c := base.Clone()

	var (
		status int
		body   []byte
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	hdr := http.Header{}
	for k, v := range s.Headers {
		hdr.Set(k, v)
	}
	if s.UserAgent != "" {
		hdr.Set("User-Agent", s.UserAgent)
	}
	if hdr.Get("Accept-Language") == "" {
		hdr.Set("Accept-Language", acceptLanguage(s.Locale))
	}

	if err := c.Request(http.MethodGet, target, nil, nil, hdr); err != nil {
		if classified := classifyError(err, status); classified != nil {
			return nil, classified
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyError(err, 0)
	}

	return &Document{
		URL:        target,
		Body:       string(body),
		StatusCode: status,
		Mode:       ModeRaw,
	}, nil
}
