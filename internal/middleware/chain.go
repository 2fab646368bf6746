// Package middleware implements the request/response transformation chain.
//
// Stages are held in an explicit ordered list and executed in ascending
// order on the request path and descending order on the response path, so a
// stage registered early is the last to see the final response.
package middleware

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// ErrDropped is returned when a stage drops a request outright. Dropped
// requests are never retried.
var ErrDropped = errors.New("request dropped by middleware")

// Stage is one unit in the chain. A stage implements Name plus any subset
// of the RequestHook, ResponseHook and ExceptionHook interfaces.
type Stage interface {
	Name() string
}

// RequestOutcome is the explicit result of a request hook.
type RequestOutcome struct {
	// Response short-circuits dispatch when non-nil; the synthetic
	// response travels back through the response path as usual.
	Response *crawler.Response
	// Drop aborts the request without dispatching it.
	Drop bool
}

// ResponseOutcome is the explicit result of a response hook.
type ResponseOutcome struct {
	// Reissue schedules the given request instead of passing the
	// response on. The current response is discarded.
	Reissue *crawler.Request
}

// RequestHook transforms a request before dispatch. The request may be
// mutated in place.
type RequestHook interface {
	OnRequest(ctx context.Context, req *crawler.Request) (RequestOutcome, error)
}

// ResponseHook transforms a response on the way back.
type ResponseHook interface {
	OnResponse(ctx context.Context, req *crawler.Request, resp *crawler.Response) (ResponseOutcome, error)
}

// ExceptionHook inspects a dispatch error. Returning a non-nil request
// reissues it; returning nil propagates the error.
type ExceptionHook interface {
	OnException(ctx context.Context, req *crawler.Request, err error) *crawler.Request
}

// Chain dispatches requests through the ordered stage list and a Fetcher.
type Chain struct {
	stages  []Stage
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// NewChain builds a Chain. Stage order is fixed at construction time.
func NewChain(stages []Stage, fetcher crawler.Fetcher, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		stages:  stages,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Do runs req through the chain until a response survives the response
// path, a stage drops the request, or an error propagates. Reissued
// requests re-enter the chain from the top; the retry stage bounds the
// number of reissues.
func (c *Chain) Do(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	current := req
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("chain canceled: %w", err)
		}
		resp, err := c.dispatch(ctx, current)
		if err != nil {
			if reissue := c.runExceptionPath(ctx, current, err); reissue != nil {
				current = reissue
				continue
			}
			return nil, err
		}
		next, reissue, err := c.runResponsePath(ctx, current, resp)
		if err != nil {
			return nil, err
		}
		if reissue != nil {
			current = reissue
			continue
		}
		return next, nil
	}
}

// dispatch runs the request path and the underlying fetch.
func (c *Chain) dispatch(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	for _, stage := range c.stages {
		hook, ok := stage.(RequestHook)
		if !ok {
			continue
		}
		outcome, err := hook.OnRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("stage %s request hook: %w", stage.Name(), err)
		}
		if outcome.Drop {
			c.logger.Debug("request dropped", zap.String("stage", stage.Name()), zap.String("url", req.URL))
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), ErrDropped)
		}
		if outcome.Response != nil {
			outcome.Response.Request = req
			return outcome.Response, nil
		}
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func (c *Chain) runResponsePath(
	ctx context.Context,
	req *crawler.Request,
	resp *crawler.Response,
) (*crawler.Response, *crawler.Request, error) {
	for i := len(c.stages) - 1; i >= 0; i-- {
		hook, ok := c.stages[i].(ResponseHook)
		if !ok {
			continue
		}
		outcome, err := hook.OnResponse(ctx, req, resp)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s response hook: %w", c.stages[i].Name(), err)
		}
		if outcome.Reissue != nil {
			return nil, outcome.Reissue, nil
		}
	}
	return resp, nil, nil
}

func (c *Chain) runExceptionPath(ctx context.Context, req *crawler.Request, fetchErr error) *crawler.Request {
	for i := len(c.stages) - 1; i >= 0; i-- {
		hook, ok := c.stages[i].(ExceptionHook)
		if !ok {
			continue
		}
		if reissue := hook.OnException(ctx, req, fetchErr); reissue != nil {
			return reissue
		}
	}
	return nil
}
