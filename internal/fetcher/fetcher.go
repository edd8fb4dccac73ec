// Package fetcher implements scraper.Fetcher using gocolly.
package fetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/metascrape/internal/metrics"
	"github.com/JakeFAU/metascrape/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	// UserAgents is the pool a user agent is drawn from per request.
	UserAgents []string
	// MinDelay/MaxDelay bound the randomized pre-request pause.
	MinDelay time.Duration
	MaxDelay time.Duration
	Timeout  time.Duration
}

// Fetcher performs a single HTTP GET via a Colly collector. TLS
// certificate validation stays enabled; the default transport is used
// unmodified apart from pooling knobs.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes one HTTP GET after a bounded random pause. Non-2xx
// responses and transport failures come back as *scraper.FetchError;
// retry decisions belong to the caller.
func (f *Fetcher) Fetch(ctx context.Context, url string) (scraper.FetchResponse, error) {
	if err := f.pause(ctx); err != nil {
		return scraper.FetchResponse{}, &scraper.FetchError{URL: url, Err: err}
	}

	var (
		result   scraper.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &result, &fetchErr); err != nil {
		var fe *scraper.FetchError
		if errors.As(err, &fe) {
			metrics.ObserveFetch(fe.StatusCode, time.Since(start))
		}
		return scraper.FetchResponse{}, err
	}
	metrics.ObserveFetch(result.StatusCode, result.Duration)
	return result, nil
}

func (f *Fetcher) buildCollector(
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.pickUserAgent()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})

	collector.OnResponse(func(r *colly.Response) {
		*result = scraper.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	result *scraper.FetchResponse,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &scraper.FetchError{URL: url, Err: ctx.Err()}
	case err := <-done:
		if *fetchErr != nil {
			return &scraper.FetchError{URL: url, StatusCode: result.StatusCode, Err: *fetchErr}
		}
		if err != nil {
			return &scraper.FetchError{URL: url, Err: err}
		}
		return nil
	}
}

// pause sleeps a random duration within the configured bounds,
// returning early if the context finishes.
func (f *Fetcher) pause(ctx context.Context) error {
	delay := f.randomDelay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pre-fetch delay canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) randomDelay() time.Duration {
	if f.cfg.MaxDelay <= 0 {
		return 0
	}
	min := f.cfg.MinDelay
	if min < 0 {
		min = 0
	}
	if f.cfg.MaxDelay <= min {
		return min
	}
	return min + randomBelow(f.cfg.MaxDelay-min)
}

func (f *Fetcher) pickUserAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return "metascrape-bot/0.1"
	}
	idx := int(randomBelow(time.Duration(len(f.cfg.UserAgents))))
	return f.cfg.UserAgents[idx]
}

func randomBelow(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
