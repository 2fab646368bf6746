package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// RetryPolicy reissues requests whose responses look transient or blocked.
// Each reissue increments the retry count and lowers the request priority
// by a fixed adjustment so retries drain after fresh requests. Past the
// cap, the last response or error is surfaced downstream untouched.
type RetryPolicy struct {
	cfg    RetryConfig
	codes  map[int]struct{}
	logger *zap.Logger
}

// RetryConfig holds the retry knobs.
type RetryConfig struct {
	MaxTimes        int
	HTTPCodes       []int
	PriorityAdjust  int
	MinBodyLength   int
	BlockSignatures []string
}

// NewRetryPolicy builds the stage.
func NewRetryPolicy(cfg RetryConfig, logger *zap.Logger) *RetryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := make(map[int]struct{}, len(cfg.HTTPCodes))
	for _, code := range cfg.HTTPCodes {
		codes[code] = struct{}{}
	}
	return &RetryPolicy{cfg: cfg, codes: codes, logger: logger}
}

// Name implements Stage.
func (p *RetryPolicy) Name() string { return "retry" }

// OnResponse reissues on retryable status codes and invalid bodies.
func (p *RetryPolicy) OnResponse(_ context.Context, req *crawler.Request, resp *crawler.Response) (ResponseOutcome, error) {
	var reason string
	switch {
	case p.retryableStatus(resp.StatusCode):
		reason = fmt.Sprintf("http %d", resp.StatusCode)
	case p.invalidBody(resp.Body):
		reason = "invalid body"
	default:
		return ResponseOutcome{}, nil
	}
	return ResponseOutcome{Reissue: p.reissue(req, reason)}, nil
}

// OnException reissues on retryable network failures; other errors
// propagate.
func (p *RetryPolicy) OnException(_ context.Context, req *crawler.Request, err error) *crawler.Request {
	if !retryableError(err) {
		return nil
	}
	return p.reissue(req, "network error")
}

func (p *RetryPolicy) reissue(req *crawler.Request, reason string) *crawler.Request {
	if req.Retries >= p.cfg.MaxTimes {
		p.logger.Warn("giving up request",
			zap.String("url", req.URL),
			zap.Int("retries", req.Retries),
			zap.String("reason", reason))
		return nil
	}
	next := req.Clone()
	next.Retries++
	next.Priority += p.cfg.PriorityAdjust
	p.logger.Debug("reissuing request",
		zap.String("url", req.URL),
		zap.Int("retry", next.Retries),
		zap.String("reason", reason))
	telemetry.ObserveRetry(reason)
	return next
}

func (p *RetryPolicy) retryableStatus(code int) bool {
	_, ok := p.codes[code]
	return ok
}

// invalidBody judges a response body unusable: shorter than the configured
// minimum, or carrying any block-page signature (case-insensitive).
func (p *RetryPolicy) invalidBody(body []byte) bool {
	if len(body) < p.cfg.MinBodyLength {
		return true
	}
	text := strings.ToLower(string(body))
	for _, sig := range p.cfg.BlockSignatures {
		if strings.Contains(text, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
