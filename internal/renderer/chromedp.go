// Package renderer contains headless-browser implementations of the render
// fallback used for pages that require JavaScript execution.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// Config controls the chromedp renderer.
type Config struct {
	MaxParallel    int
	NavTimeout     time.Duration
	SettleDelay    time.Duration
	ReadySelectors []string
	UserAgent      string
}

// antiBotSelector matches the markers the target site shows when it has
// decided we are not a browser.
const antiBotSelector = ".captcha, .login-form, .verify"

// Chromedp implements crawler.Renderer using a shared headless Chrome
// allocator.
type Chromedp struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a renderer backed by chromedp. Callers must Close it.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel <= 0 {
		return nil, fmt.Errorf("max parallel must be > 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close tears down the browser allocator.
func (r *Chromedp) Close() {
	r.allocCancel()
}

// Render navigates to url, waits up to the configured timeout for any of
// the ready selectors to appear (first match wins), applies the fixed
// settle delay, checks for anti-bot markers, and returns the rendered HTML.
func (r *Chromedp) Render(ctx context.Context, url string) (string, error) {
	select {
	case r.limiter <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("render slot wait: %w", ctx.Err())
	}
	defer func() { <-r.limiter }()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavTimeout)
	defer cancel()

	var (
		html    string
		blocked bool
	)
	actions := []chromedp.Action{
		r.userAgentAction(),
		chromedp.Navigate(url),
		r.waitAnyReady(),
		chromedp.Sleep(r.cfg.SettleDelay),
		chromedp.Evaluate(fmt.Sprintf("document.querySelector(%q) !== null", antiBotSelector), &blocked),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("render %s: %w", url, crawler.ErrRenderTimeout)
		}
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	if blocked {
		// Warning only; remediation is a human problem.
		r.logger.Warn("anti-bot markers present on rendered page", zap.String("url", url))
	}
	return html, nil
}

// waitAnyReady polls until any ready selector matches. With no selectors
// configured it falls back to waiting for body.
func (r *Chromedp) waitAnyReady() chromedp.Action {
	if len(r.cfg.ReadySelectors) == 0 {
		return chromedp.WaitReady("body", chromedp.ByQuery)
	}
	quoted := make([]string, len(r.cfg.ReadySelectors))
	for i, sel := range r.cfg.ReadySelectors {
		quoted[i] = fmt.Sprintf("%q", sel)
	}
	expr := fmt.Sprintf("[%s].some(s => document.querySelector(s) !== null)", strings.Join(quoted, ","))
	return chromedp.Poll(expr, nil)
}

func (r *Chromedp) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if r.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}
