package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/config"
	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/database"
	"github.com/xiaolu-workflow/crawler-service/internal/export"
	collyfetcher "github.com/xiaolu-workflow/crawler-service/internal/fetcher/colly"
	"github.com/xiaolu-workflow/crawler-service/internal/logging"
	"github.com/xiaolu-workflow/crawler-service/internal/mediastore"
	"github.com/xiaolu-workflow/crawler-service/internal/middleware"
	"github.com/xiaolu-workflow/crawler-service/internal/pipeline"
	"github.com/xiaolu-workflow/crawler-service/internal/renderer"
	"github.com/xiaolu-workflow/crawler-service/internal/seen"
	"github.com/xiaolu-workflow/crawler-service/internal/spider"
)

// defaultUserAgents is the identity pool used when none is configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
}

func newCrawlCmd() *cobra.Command {
	var (
		spiderName string
		keyword    string
		maxPages   int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl job in this process",
		Long: `Executes a single crawl job to completion. The serve command spawns
this command for every started job; it can also be run directly for
one-off collection.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd.Context(), spiderName, keyword, maxPages)
		},
	}

	cmd.Flags().StringVar(&spiderName, "spider", "xiaohongshu", "spider to run")
	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (default from config)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "search page bound (default from config)")
	return cmd
}

func runCrawlCommand(parent context.Context, spiderName, keyword string, maxPages int) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if spiderName != "xiaohongshu" {
		return fmt.Errorf("unknown spider %q", spiderName)
	}
	logger = logging.ForSpider(logger, spiderName)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := engine.Run(ctx, crawler.JobParams{Keyword: keyword, MaxPages: maxPages})
	if err != nil {
		return fmt.Errorf("crawl run: %w", err)
	}
	logger.Info("crawl job done",
		zap.Int("notes", stats.Notes),
		zap.Int("users", stats.Users),
		zap.Int("comments", stats.Comments),
		zap.Int("errors", stats.Errors))
	return nil
}

// buildEngine assembles the full crawl stack from configuration. The
// returned cleanup closes every resource the stack opened.
func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*spider.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*spider.Engine, func(), error) {
		cleanup()
		return nil, nil, err
	}

	stages, limiter, err := buildStages(ctx, cfg, logger, &closers)
	if err != nil {
		return fail(err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: cfg.Crawl.HTTPTimeout})
	chain := middleware.NewChain(stages, fetcher, logger)

	pipe, stats, err := buildPipeline(ctx, cfg, logger, &closers)
	if err != nil {
		return fail(err)
	}

	parser := spider.NewXiaohongshu(spider.XiaohongshuConfig{
		MinLikesCount:    cfg.Crawl.MinLikesCount,
		MinCommentsCount: cfg.Crawl.MinCommentsCount,
	}, logger)

	engine := spider.NewEngine(
		spider.EngineConfig{
			Concurrency:     cfg.Crawl.Concurrency,
			DefaultKeyword:  cfg.Crawl.KeywordDefault,
			DefaultMaxPages: cfg.Crawl.MaxPagesDefault,
		},
		chain, limiter, pipe, stats, parser, nil, logger,
	)
	return engine, cleanup, nil
}

func buildStages(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *[]func()) ([]middleware.Stage, *middleware.RateLimiter, error) {
	userAgents := cfg.Identity.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}
	identity, err := middleware.NewIdentityRotator(userAgents)
	if err != nil {
		return nil, nil, fmt.Errorf("init identity rotator: %w", err)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		DelayMin:   cfg.Crawl.DelayMin,
		DelayMax:   cfg.Crawl.DelayMax,
		PerHostRPS: cfg.Crawl.PerHostRPS,
		PerHostMax: cfg.Crawl.PerHostMax,
	})

	stages := []middleware.Stage{
		middleware.NewHeaderInjector(defaultHeaders(), siteHeaders()),
		identity,
	}

	if cfg.Proxy.Enabled {
		proxy, err := middleware.NewProxySelector(cfg.Proxy.List, cfg.Proxy.File, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init proxy selector: %w", err)
		}
		stages = append(stages, proxy)
	}

	stages = append(stages, middleware.NewCookieStore(nil), limiter)

	if cfg.Render.Enabled {
		rend, err := renderer.New(renderer.Config{
			MaxParallel:    cfg.Render.MaxParallel,
			NavTimeout:     cfg.Render.NavTimeout,
			SettleDelay:    cfg.Render.SettleDelay,
			ReadySelectors: cfg.Render.ReadySelectors,
			UserAgent:      cfg.Render.UserAgent,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init renderer: %w", err)
		}
		*closers = append(*closers, func() { rend.Close() })
		stages = append(stages, middleware.NewRenderStage(rend, cfg.Render.HostPatterns, logger))
	}

	stages = append(stages, middleware.NewRetryPolicy(middleware.RetryConfig{
		MaxTimes:        cfg.Retry.MaxTimes,
		HTTPCodes:       cfg.Retry.HTTPCodes,
		PriorityAdjust:  cfg.Retry.PriorityAdjust,
		MinBodyLength:   cfg.Retry.MinBodyLength,
		BlockSignatures: cfg.Retry.BlockSignatures,
	}, logger))

	return stages, limiter, nil
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, closers *[]func()) (*pipeline.Pipeline, *pipeline.Stats, error) {
	// Shared admission store, with a local fallback when redis is down at
	// startup.
	var store seen.Store
	redisStore, err := seen.NewRedis(ctx, seen.RedisConfig{
		Addr:     cfg.Dedup.RedisAddr,
		Password: cfg.Dedup.RedisPassword,
		DB:       cfg.Dedup.RedisDB,
		Key:      cfg.Dedup.Key,
		TTL:      cfg.Dedup.TTL,
	})
	if err != nil {
		logger.Warn("redis unavailable, dedup is process-local", zap.Error(err))
		store = seen.NewMemory(cfg.Dedup.TTL)
	} else {
		store = redisStore
		*closers = append(*closers, func() { _ = redisStore.Close() })
	}

	var mirror mediastore.Mirror
	if cfg.Media.GCSBucket != "" {
		gcs, err := mediastore.NewGCSMirror(ctx, cfg.Media.GCSBucket, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		*closers = append(*closers, func() { _ = gcs.Close() })
		mirror = gcs
	}
	media, err := mediastore.New(mediastore.Config{
		RootDir:      cfg.Media.RootDir,
		FetchTimeout: cfg.Media.FetchTimeout,
		DefaultExt:   cfg.Media.DefaultExt,
	}, mirror, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init media store: %w", err)
	}

	var recordStore database.RecordStore
	if cfg.DB.DSN != "" {
		pg, err := database.NewPostgres(ctx, database.PostgresConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
			Tables: database.Tables{
				Notes:    cfg.DB.NotesTable,
				Users:    cfg.DB.UsersTable,
				Comments: cfg.DB.CommentsTable,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init record store: %w", err)
		}
		*closers = append(*closers, pg.Close)
		recordStore = pg
	} else {
		logger.Warn("db.dsn not set, records go to feed exports only")
	}

	started := time.Now().UTC()
	jsonl, err := export.NewJSONLWriter(cfg.Export.Dir, "xiaohongshu", started)
	if err != nil {
		return nil, nil, fmt.Errorf("init jsonl export: %w", err)
	}
	*closers = append(*closers, func() { _ = jsonl.Close() })

	feeds := []pipeline.FeedWriter{jsonl}
	if cfg.Export.CSV {
		csvWriter, err := export.NewCSVWriter(cfg.Export.Dir, "xiaohongshu", started)
		if err != nil {
			return nil, nil, fmt.Errorf("init csv export: %w", err)
		}
		*closers = append(*closers, func() { _ = csvWriter.Close() })
		feeds = append(feeds, csvWriter)
	}

	stats := pipeline.NewStats(cfg.Crawl.ProgressInterval, logger)
	pipe := pipeline.New(logger,
		pipeline.NewValidator(cfg.Crawl.MaxContentLength, logger),
		pipeline.NewDeduplicator(store, nil, logger),
		pipeline.NewMediaStage(media, logger),
		pipeline.NewSink(recordStore, logger, feeds...),
		stats,
	)
	return pipe, stats, nil
}

func defaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

func siteHeaders() map[string]http.Header {
	xhs := http.Header{}
	xhs.Set("Referer", "https://www.xiaohongshu.com/")
	xhs.Set("Origin", "https://www.xiaohongshu.com")
	xhs.Set("sec-ch-ua", `"Google Chrome";v="120", "Chromium";v="120", "Not A(Brand";v="99"`)
	xhs.Set("sec-ch-ua-mobile", "?0")
	xhs.Set("sec-fetch-dest", "document")
	xhs.Set("sec-fetch-mode", "navigate")
	xhs.Set("sec-fetch-site", "same-origin")
	xhs.Set("sec-fetch-user", "?1")
	return map[string]http.Header{"xiaohongshu.com": xhs}
}
