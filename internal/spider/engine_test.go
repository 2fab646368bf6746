package spider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/middleware"
	"github.com/xiaolu-workflow/crawler-service/internal/pipeline"
	"github.com/xiaolu-workflow/crawler-service/internal/seen"
)

// pageFetcher serves canned bodies by URL substring.
type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *pageFetcher) Fetch(_ context.Context, req *crawler.Request) (*crawler.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	f.mu.Unlock()
	for fragment, body := range f.pages {
		if strings.Contains(req.URL, fragment) {
			return &crawler.Response{StatusCode: 200, Body: []byte(body), Request: req}, nil
		}
	}
	return nil, fmt.Errorf("no fixture for %s", req.URL)
}

type captureSink struct {
	mu      sync.Mutex
	records []*crawler.Record
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Process(_ context.Context, record *crawler.Record) (pipeline.Result, error) {
	c.mu.Lock()
	c.records = append(c.records, record)
	c.mu.Unlock()
	return pipeline.Pass(record), nil
}

func notePage(id string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="title">note %s</h1>
<div class="note-content">content for %s</div>
<span class="like-count">500</span>
</body></html>`, id, id)
}

func TestEngineRunCrawlsSeedAndNotes(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"search_result":   searchPageHTML,
		"/explore/aaa111": notePage("aaa111"),
		"/explore/bbb222": notePage("bbb222"),
		"/explore/ccc333": notePage("ccc333"),
	}}
	chain := middleware.NewChain(nil, fetcher, zap.NewNop())

	sink := &captureSink{}
	stats := pipeline.NewStats(0, zap.NewNop())
	pipe := pipeline.New(zap.NewNop(),
		pipeline.NewValidator(50000, zap.NewNop()),
		pipeline.NewDeduplicator(seen.NewMemory(0), nil, zap.NewNop()),
		sink,
		stats,
	)

	engine := NewEngine(
		EngineConfig{Concurrency: 4, DefaultKeyword: "美妆", DefaultMaxPages: 10},
		chain, nil, pipe, stats,
		NewXiaohongshu(XiaohongshuConfig{}, zap.NewNop()),
		nil,
		zap.NewNop(),
	)

	got, err := engine.Run(context.Background(), crawler.JobParams{Keyword: "美妆", MaxPages: 1})
	require.NoError(t, err)
	require.Equal(t, 3, got.Notes)
	require.Equal(t, 3, got.Total)
	require.Zero(t, got.Errors)
	require.False(t, got.Started.IsZero())
	require.False(t, got.Finished.IsZero())
	require.Len(t, sink.records, 3)
}

func TestEngineCountsFailedFetches(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"search_result":   searchPageHTML,
		"/explore/aaa111": notePage("aaa111"),
		// bbb222 and ccc333 have no fixture and fail.
	}}
	chain := middleware.NewChain(nil, fetcher, zap.NewNop())

	stats := pipeline.NewStats(0, zap.NewNop())
	pipe := pipeline.New(zap.NewNop(), pipeline.NewValidator(0, zap.NewNop()), stats)

	engine := NewEngine(
		EngineConfig{Concurrency: 2},
		chain, nil, pipe, stats,
		NewXiaohongshu(XiaohongshuConfig{}, zap.NewNop()),
		nil,
		zap.NewNop(),
	)

	got, err := engine.Run(context.Background(), crawler.JobParams{Keyword: "美妆", MaxPages: 1})
	require.NoError(t, err)
	require.Equal(t, 1, got.Notes)
	require.Equal(t, 2, got.Errors)
}

func TestEngineStopsCleanlyOnCancel(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{"search_result": searchPageHTML}}
	chain := middleware.NewChain(nil, fetcher, zap.NewNop())
	stats := pipeline.NewStats(0, zap.NewNop())
	pipe := pipeline.New(zap.NewNop(), stats)

	engine := NewEngine(
		EngineConfig{Concurrency: 1},
		chain, nil, pipe, stats,
		NewXiaohongshu(XiaohongshuConfig{}, zap.NewNop()),
		nil,
		zap.NewNop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := engine.Run(ctx, crawler.JobParams{Keyword: "美妆", MaxPages: 5})
	require.NoError(t, err, "cancellation is a clean stop")
	require.Zero(t, got.Total)
}

func TestEngineHonorsPageBound(t *testing.T) {
	fetcher := &pageFetcher{pages: map[string]string{
		"search_result": `<html><body></body></html>`,
	}}
	chain := middleware.NewChain(nil, fetcher, zap.NewNop())
	stats := pipeline.NewStats(0, zap.NewNop())
	pipe := pipeline.New(zap.NewNop(), stats)

	engine := NewEngine(
		EngineConfig{Concurrency: 1},
		chain, nil, pipe, stats,
		NewXiaohongshu(XiaohongshuConfig{}, zap.NewNop()),
		pagedPaginator{},
		zap.NewNop(),
	)

	_, err := engine.Run(context.Background(), crawler.JobParams{Keyword: "x", MaxPages: 3})
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 3)
}

// pagedPaginator always offers a next page; the page bound must cut it off.
type pagedPaginator struct{}

func (pagedPaginator) NextPage(resp *crawler.Response, page int) (string, bool) {
	return fmt.Sprintf("%s&search_result_page=%d", resp.Request.URL, page+1), true
}
