package middleware

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// HeaderInjector merges static default headers into each request, only
// filling keys the request does not already carry, plus per-site extras.
type HeaderInjector struct {
	defaults  http.Header
	siteExtra map[string]http.Header
}

// NewHeaderInjector builds the injector. siteExtra is keyed by host suffix.
func NewHeaderInjector(defaults http.Header, siteExtra map[string]http.Header) *HeaderInjector {
	if defaults == nil {
		defaults = http.Header{}
	}
	return &HeaderInjector{defaults: defaults, siteExtra: siteExtra}
}

// Name implements Stage.
func (h *HeaderInjector) Name() string { return "headers" }

// OnRequest fills absent default headers and applies site extras.
func (h *HeaderInjector) OnRequest(_ context.Context, req *crawler.Request) (RequestOutcome, error) {
	for key, values := range h.defaults {
		if req.Header.Get(key) == "" && len(values) > 0 {
			req.Header.Set(key, values[0])
		}
	}
	host := requestHost(req)
	for suffix, extra := range h.siteExtra {
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		for key, values := range extra {
			if len(values) > 0 {
				req.Header.Set(key, values[0])
			}
		}
	}
	return RequestOutcome{}, nil
}

// IdentityRotator assigns a uniformly random user-agent from a fixed pool
// on every request. The choice is plain random: a failed identity may be
// picked again immediately.
type IdentityRotator struct {
	pool []string
}

// NewIdentityRotator builds the rotator from the configured pool.
func NewIdentityRotator(pool []string) (*IdentityRotator, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("identity pool is empty")
	}
	return &IdentityRotator{pool: pool}, nil
}

// Name implements Stage.
func (i *IdentityRotator) Name() string { return "identity" }

// OnRequest overwrites the request's User-Agent.
func (i *IdentityRotator) OnRequest(_ context.Context, req *crawler.Request) (RequestOutcome, error) {
	req.Header.Set("User-Agent", i.pool[rand.Intn(len(i.pool))]) //nolint:gosec
	return RequestOutcome{}, nil
}

// ProxySelector assigns a uniformly random proxy from the configured pool.
// Failing proxies are logged but never evicted from the pool.
type ProxySelector struct {
	pool   []string
	logger *zap.Logger
}

// NewProxySelector builds the selector from an inline list, falling back to
// a newline-delimited pool file.
func NewProxySelector(list []string, file string, logger *zap.Logger) (*ProxySelector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 && file != "" {
		loaded, err := loadProxyFile(file)
		if err != nil {
			return nil, err
		}
		pool = loaded
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("proxy pool is empty")
	}
	logger.Info("loaded proxy pool", zap.Int("proxies", len(pool)))
	return &ProxySelector{pool: pool, logger: logger}, nil
}

// Name implements Stage.
func (p *ProxySelector) Name() string { return "proxy" }

// OnRequest assigns a random proxy endpoint.
func (p *ProxySelector) OnRequest(_ context.Context, req *crawler.Request) (RequestOutcome, error) {
	proxy := p.pool[rand.Intn(len(p.pool))] //nolint:gosec
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	req.Proxy = proxy
	return RequestOutcome{}, nil
}

// OnException logs the failing proxy. There is no health-based eviction.
func (p *ProxySelector) OnException(_ context.Context, req *crawler.Request, err error) *crawler.Request {
	if req.Proxy != "" {
		p.logger.Warn("proxy request failed",
			zap.String("proxy", req.Proxy),
			zap.String("url", req.URL),
			zap.Error(err))
	}
	return nil
}

func loadProxyFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var pool []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			pool = append(pool, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	return pool, nil
}

// CookieStore keeps a per-host cookie jar: cookies are attached by target
// host on the way out and Set-Cookie material is captured on the way back.
// Persisting the jar is left to an external key-value collaborator.
type CookieStore struct {
	mu      sync.Mutex
	cookies map[string][]*http.Cookie
}

// NewCookieStore builds an empty store, optionally seeded per host.
func NewCookieStore(seed map[string][]*http.Cookie) *CookieStore {
	cookies := make(map[string][]*http.Cookie, len(seed))
	for host, list := range seed {
		cookies[host] = append([]*http.Cookie(nil), list...)
	}
	return &CookieStore{cookies: cookies}
}

// Name implements Stage.
func (c *CookieStore) Name() string { return "cookies" }

// OnRequest attaches the stored cookies for the request's host.
func (c *CookieStore) OnRequest(_ context.Context, req *crawler.Request) (RequestOutcome, error) {
	host := requestHost(req)
	if host == "" {
		return RequestOutcome{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cookie := range c.cookies[host] {
		req.Header.Add("Cookie", cookie.String())
	}
	return RequestOutcome{}, nil
}

// OnResponse folds Set-Cookie headers into the per-host jar.
func (c *CookieStore) OnResponse(_ context.Context, req *crawler.Request, resp *crawler.Response) (ResponseOutcome, error) {
	host := requestHost(req)
	if host == "" || resp.Header == nil {
		return ResponseOutcome{}, nil
	}
	parsed := (&http.Response{Header: resp.Header}).Cookies()
	if len(parsed) == 0 {
		return ResponseOutcome{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cookie := range parsed {
		c.cookies[host] = upsertCookie(c.cookies[host], cookie)
	}
	return ResponseOutcome{}, nil
}

// Cookies returns a copy of the jar for one host.
func (c *CookieStore) Cookies(host string) []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*http.Cookie(nil), c.cookies[host]...)
}

func upsertCookie(list []*http.Cookie, cookie *http.Cookie) []*http.Cookie {
	for i, existing := range list {
		if existing.Name == cookie.Name {
			list[i] = cookie
			return list
		}
	}
	return append(list, cookie)
}

func requestHost(req *crawler.Request) string {
	u, err := url.Parse(req.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
