package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/seen"
)

// Deduplicator drops records whose dedup key has already been admitted.
// Admission is checked against a shared store; when the store errors the
// stage falls back to a process-local set, so across a store outage
// admission is at-least-once rather than exactly-once.
type Deduplicator struct {
	store    seen.Store
	fallback seen.Store
	logger   *zap.Logger
}

// NewDeduplicator builds the dedup stage over a shared store. fallback may
// be nil, in which case an in-memory store is created.
func NewDeduplicator(store seen.Store, fallback seen.Store, logger *zap.Logger) *Deduplicator {
	if fallback == nil {
		fallback = seen.NewMemory(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: store, fallback: fallback, logger: logger}
}

// Name implements Stage.
func (d *Deduplicator) Name() string { return "deduplicator" }

// Process implements Stage.
func (d *Deduplicator) Process(ctx context.Context, record *crawler.Record) (Result, error) {
	key := record.DedupKey()
	admitted, err := d.store.Admit(ctx, key)
	if err != nil {
		d.logger.Warn("dedup store unavailable, using local fallback",
			zap.String("key", key), zap.Error(err))
		admitted, err = d.fallback.Admit(ctx, key)
		if err != nil {
			return Result{}, err
		}
	}
	if !admitted {
		return Drop("duplicate: " + key), nil
	}
	return Pass(record), nil
}
