package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// Stats aggregates per-variant admission counters for one job and emits a
// progress log line every interval admitted records.
type Stats struct {
	mu       sync.Mutex
	counts   map[crawler.RecordKind]int
	errors   int
	interval int
	logger   *zap.Logger
}

// NewStats builds the stats stage. interval <= 0 disables progress logs.
func NewStats(interval int, logger *zap.Logger) *Stats {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stats{
		counts:   make(map[crawler.RecordKind]int),
		interval: interval,
		logger:   logger,
	}
}

// Name implements Stage.
func (s *Stats) Name() string { return "stats" }

// Process implements Stage. It always passes; the stats stage sits last and
// only observes.
func (s *Stats) Process(_ context.Context, record *crawler.Record) (Result, error) {
	s.mu.Lock()
	s.counts[record.Kind]++
	total := s.counts[crawler.KindNote] + s.counts[crawler.KindUser] + s.counts[crawler.KindComment]
	s.mu.Unlock()
	if s.interval > 0 && total%s.interval == 0 {
		s.logger.Info("crawl progress",
			zap.Int("admitted", total),
			zap.Int("notes", s.Count(crawler.KindNote)),
			zap.Int("users", s.Count(crawler.KindUser)),
			zap.Int("comments", s.Count(crawler.KindComment)))
	}
	return Pass(record), nil
}

// RecordError bumps the job error counter.
func (s *Stats) RecordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Count returns the admitted count for one variant.
func (s *Stats) Count(kind crawler.RecordKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Snapshot folds the counters into a JobStats value.
func (s *Stats) Snapshot() crawler.JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := crawler.JobStats{
		Notes:    s.counts[crawler.KindNote],
		Users:    s.counts[crawler.KindUser],
		Comments: s.counts[crawler.KindComment],
		Errors:   s.errors,
	}
	stats.Total = stats.Notes + stats.Users + stats.Comments
	return stats
}
