// Package spider runs one crawl job: seeding, dispatch through the
// middleware chain, parsing, and handoff to the item pipeline.
package spider

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/clock/system"
	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/middleware"
	"github.com/xiaolu-workflow/crawler-service/internal/pipeline"
)

// Output is what a Parser produced from one response: records for the
// pipeline and follow-up requests for the frontier.
type Output struct {
	Records  []*crawler.Record
	Requests []*crawler.Request
}

// Parser turns responses into records and follow-up requests.
type Parser interface {
	Name() string
	SeedURLs(params crawler.JobParams) []string
	Parse(resp *crawler.Response, params crawler.JobParams) (Output, error)
}

// Paginator derives the next search page URL from the current page. ok is
// false when there is no next page.
type Paginator interface {
	NextPage(resp *crawler.Response, page int) (next string, ok bool)
}

// NoPagination is the default strategy: search never advances past the
// seeded page. The target site paginates through ajax state that plain
// page fetches cannot reach.
type NoPagination struct{}

// NextPage implements Paginator.
func (NoPagination) NextPage(*crawler.Response, int) (string, bool) { return "", false }

// EngineConfig tunes one crawl run.
type EngineConfig struct {
	Concurrency     int
	MaxPages        int
	DefaultKeyword  string
	DefaultMaxPages int
	Clock           crawler.Clock
}

// Engine executes a crawl job in-process. Follow-up requests discovered on
// a page run concurrently, bounded by the global concurrency cap and the
// rate limiter's per-host slots; a stop request is honored between
// requests, never mid-flight.
type Engine struct {
	cfg       EngineConfig
	chain     *middleware.Chain
	limiter   *middleware.RateLimiter
	pipe      *pipeline.Pipeline
	stats     *pipeline.Stats
	parser    Parser
	paginator Paginator
	logger    *zap.Logger
}

// NewEngine wires a crawl engine. paginator may be nil, defaulting to
// NoPagination.
func NewEngine(
	cfg EngineConfig,
	chain *middleware.Chain,
	limiter *middleware.RateLimiter,
	pipe *pipeline.Pipeline,
	stats *pipeline.Stats,
	parser Parser,
	paginator Paginator,
	logger *zap.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if paginator == nil {
		paginator = NoPagination{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		chain:     chain,
		limiter:   limiter,
		pipe:      pipe,
		stats:     stats,
		parser:    parser,
		paginator: paginator,
		logger:    logger,
	}
}

// Run crawls until the page bound is reached, the frontier drains, or ctx
// is canceled. It always returns the run's stats, partial on early exit.
func (e *Engine) Run(ctx context.Context, params crawler.JobParams) (crawler.JobStats, error) {
	if params.Keyword == "" {
		params.Keyword = e.cfg.DefaultKeyword
	}
	if params.MaxPages <= 0 {
		params.MaxPages = e.cfg.DefaultMaxPages
	}
	started := e.cfg.Clock.Now()
	e.logger.Info("crawl run starting",
		zap.String("spider", e.parser.Name()),
		zap.String("keyword", params.Keyword),
		zap.Int("max_pages", params.MaxPages))

	var runErr error
	page := 0
	for _, seed := range e.parser.SeedURLs(params) {
		pageURL := seed
		for pageURL != "" && page < params.MaxPages {
			if err := ctx.Err(); err != nil {
				runErr = err
				break
			}
			page++
			next, err := e.crawlPage(ctx, pageURL, page, params)
			if err != nil {
				runErr = err
				break
			}
			pageURL = next
		}
		if runErr != nil {
			break
		}
	}

	stats := e.stats.Snapshot()
	stats.Started = started
	stats.Finished = e.cfg.Clock.Now()
	e.logger.Info("crawl run finished",
		zap.String("spider", e.parser.Name()),
		zap.Int("pages", page),
		zap.Int("admitted", stats.Total),
		zap.Int("errors", stats.Errors),
		zap.Duration("took", stats.Duration()))

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		// A stop request is a clean exit, not a failure.
		return stats, nil
	}
	return stats, runErr
}

// crawlPage fetches one search page, processes its follow-up requests
// level by level, and returns the next page URL if pagination continues.
func (e *Engine) crawlPage(ctx context.Context, pageURL string, page int, params crawler.JobParams) (string, error) {
	resp, err := e.dispatch(ctx, crawler.NewRequest(pageURL))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Warn("search page fetch failed", zap.String("url", pageURL), zap.Error(err))
		e.stats.RecordError()
		return "", nil
	}

	out, err := e.parser.Parse(resp, params)
	if err != nil {
		e.logger.Warn("search page parse failed", zap.String("url", pageURL), zap.Error(err))
		e.stats.RecordError()
		return "", nil
	}
	e.handleRecords(ctx, out.Records)

	frontier := out.Requests
	for len(frontier) > 0 && ctx.Err() == nil {
		frontier = e.processLevel(ctx, frontier, params)
	}

	next, ok := e.paginator.NextPage(resp, page)
	if !ok {
		return "", nil
	}
	return next, nil
}

// processLevel runs one frontier level concurrently and gathers the next.
func (e *Engine) processLevel(ctx context.Context, frontier []*crawler.Request, params crawler.JobParams) []*crawler.Request {
	var (
		mu   sync.Mutex
		next []*crawler.Request
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, e.cfg.Concurrency)
	for _, req := range frontier {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(req *crawler.Request) {
			defer wg.Done()
			defer func() { <-sem }()
			out, ok := e.processRequest(ctx, req, params)
			if !ok {
				return
			}
			e.handleRecords(ctx, out.Records)
			if len(out.Requests) > 0 {
				mu.Lock()
				next = append(next, out.Requests...)
				mu.Unlock()
			}
		}(req)
	}
	wg.Wait()
	return next
}

func (e *Engine) processRequest(ctx context.Context, req *crawler.Request, params crawler.JobParams) (Output, bool) {
	resp, err := e.dispatch(ctx, req)
	if err != nil {
		if errors.Is(err, middleware.ErrDropped) || ctx.Err() != nil {
			return Output{}, false
		}
		e.logger.Warn("request failed", zap.String("url", req.URL), zap.Error(err))
		e.stats.RecordError()
		return Output{}, false
	}
	out, err := e.parser.Parse(resp, params)
	if err != nil {
		e.logger.Warn("parse failed", zap.String("url", req.URL), zap.Error(err))
		e.stats.RecordError()
		return Output{}, false
	}
	return out, true
}

// dispatch pushes one request through the chain while holding the per-host
// concurrency slot for the whole round trip.
func (e *Engine) dispatch(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	host := hostOf(req.URL)
	if e.limiter != nil {
		release, err := e.limiter.Acquire(ctx, host)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return e.chain.Do(ctx, req)
}

func (e *Engine) handleRecords(ctx context.Context, records []*crawler.Record) {
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.pipe.Process(ctx, record); err != nil {
			e.stats.RecordError()
		}
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
