// Package collyfetcher implements plain HTTP dispatch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. It sits at
// the bottom of the middleware chain: every header, cookie, identity and
// proxy decision has already been applied to the Request it receives.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.IgnoreRobotsTxt())
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP request using Colly. Non-2xx statuses come
// back as responses, not errors: the retry middleware decides their fate.
func (f *Fetcher) Fetch(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	collector := f.baseCollector.Clone()
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	if req.Proxy != "" {
		if err := collector.SetProxy(req.Proxy); err != nil {
			return nil, fmt.Errorf("set proxy %s: %w", req.Proxy, err)
		}
	}

	var (
		result   *crawler.Response
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Header {
			// Set first so chain headers replace collector defaults.
			for i, v := range values {
				if i == 0 {
					r.Headers.Set(key, v)
				} else {
					r.Headers.Add(key, v)
				}
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = toResponse(r)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil && r.StatusCode > 0 {
			result = toResponse(r)
		}
	})

	if err := f.visit(ctx, collector, req); err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, fetchErr)
	}
	return nil, fmt.Errorf("fetch %s: no response", req.URL)
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, req *crawler.Request) error {
	done := make(chan error, 1)
	go func() {
		switch req.Method {
		case http.MethodPost:
			done <- collector.Post(req.URL, nil)
		default:
			done <- collector.Visit(req.URL)
		}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-done:
		// Visit errors for non-2xx statuses are surfaced through OnError;
		// transport failures land in fetchErr the same way.
		return nil
	}
}

func toResponse(r *colly.Response) *crawler.Response {
	header := http.Header{}
	if r.Headers != nil {
		header = r.Headers.Clone()
	}
	return &crawler.Response{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Header:     header,
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
