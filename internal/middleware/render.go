package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// RenderStage routes matching requests through the headless renderer and
// short-circuits the fetch with the rendered HTML. A render failure is
// non-fatal: it is logged and the request falls through to the plain fetch
// pipeline.
type RenderStage struct {
	renderer  crawler.Renderer
	predicate func(host, url string) bool
	logger    *zap.Logger
}

// NewRenderStage builds the stage. hostPatterns gate which targets render;
// a request also renders when its RenderRequired flag is set.
func NewRenderStage(renderer crawler.Renderer, hostPatterns []string, logger *zap.Logger) *RenderStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RenderStage{
		renderer: renderer,
		predicate: func(host, url string) bool {
			for _, pattern := range hostPatterns {
				if strings.Contains(host, pattern) || strings.Contains(url, pattern) {
					return true
				}
			}
			return false
		},
		logger: logger,
	}
}

// Name implements Stage.
func (s *RenderStage) Name() string { return "render" }

// OnRequest renders the target when the predicate matches.
func (s *RenderStage) OnRequest(ctx context.Context, req *crawler.Request) (RequestOutcome, error) {
	if s.renderer == nil {
		return RequestOutcome{}, nil
	}
	if !req.RenderRequired && !s.predicate(requestHost(req), req.URL) {
		return RequestOutcome{}, nil
	}

	html, err := s.renderer.Render(ctx, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, crawler.ErrRenderTimeout):
			telemetry.ObserveRender("timeout")
			s.logger.Warn("render timed out, falling back to plain fetch",
				zap.String("url", req.URL), zap.Error(err))
		case errors.Is(err, crawler.ErrRenderBlocked):
			telemetry.ObserveRender("blocked")
			s.logger.Warn("render hit an anti-bot wall, falling back to plain fetch",
				zap.String("url", req.URL))
		default:
			telemetry.ObserveRender("error")
			s.logger.Warn("render failed, falling back to plain fetch",
				zap.String("url", req.URL), zap.Error(err))
		}
		return RequestOutcome{}, nil
	}

	telemetry.ObserveRender("ok")
	return RequestOutcome{
		Response: &crawler.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(html),
			Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
			Rendered:   true,
		},
	}, nil
}
