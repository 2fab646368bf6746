package middleware

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// RateLimiter paces dispatch per host. Before each request it blocks the
// calling goroutine for a delay sampled uniformly from [DelayMin, DelayMax]
// and then waits on a per-host token bucket. It also hands out per-host
// concurrency slots for the engine to hold across the whole fetch.
type RateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}

	sleep func(time.Duration)
}

// RateLimitConfig holds the pacing knobs.
type RateLimitConfig struct {
	DelayMin   time.Duration
	DelayMax   time.Duration
	PerHostRPS float64
	PerHostMax int
}

// NewRateLimiter builds a RateLimiter.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerHostMax <= 0 {
		cfg.PerHostMax = 1
	}
	return &RateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		slots:    make(map[string]chan struct{}),
		sleep:    time.Sleep,
	}
}

// Name implements Stage.
func (l *RateLimiter) Name() string { return "ratelimit" }

// OnRequest blocks until the host may be hit. The random delay is a plain
// blocking wait on the dispatching goroutine, not a cancellable timer.
func (l *RateLimiter) OnRequest(ctx context.Context, req *crawler.Request) (RequestOutcome, error) {
	host := requestHost(req)
	start := time.Now()

	if delay := l.sampleDelay(); delay > 0 {
		l.sleep(delay)
	}
	if limiter := l.hostLimiter(host); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return RequestOutcome{}, err
		}
	}

	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, waited)
	}
	return RequestOutcome{}, nil
}

// Acquire claims a per-host concurrency slot, blocking until one frees or
// the context finishes. The returned release function must be called once.
func (l *RateLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	slot := l.hostSlot(host)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *RateLimiter) sampleDelay() time.Duration {
	if l.cfg.DelayMax <= 0 {
		return 0
	}
	span := l.cfg.DelayMax - l.cfg.DelayMin
	if span <= 0 {
		return l.cfg.DelayMin
	}
	return l.cfg.DelayMin + time.Duration(rand.Int63n(int64(span))) //nolint:gosec
}

func (l *RateLimiter) hostLimiter(host string) *rate.Limiter {
	if l.cfg.PerHostRPS <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.PerHostRPS), 1)
		l.limiters[host] = limiter
	}
	return limiter
}

func (l *RateLimiter) hostSlot(host string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[host]
	if !ok {
		slot = make(chan struct{}, l.cfg.PerHostMax)
		l.slots[host] = slot
	}
	return slot
}
