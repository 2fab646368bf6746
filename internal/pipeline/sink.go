package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/database"
)

// FeedWriter appends one admitted record to a feed export.
type FeedWriter interface {
	Write(record *crawler.Record) error
}

// Sink persists admitted records: a database upsert by natural key, a JSONL
// feed line, and optionally a CSV row. A database failure drops the record;
// feed trouble is logged but never drops, the database copy already exists.
type Sink struct {
	store  database.RecordStore
	feeds  []FeedWriter
	logger *zap.Logger
}

// NewSink builds the sink stage. store may be nil (export-only runs); nil
// feed writers are skipped.
func NewSink(store database.RecordStore, logger *zap.Logger, feeds ...FeedWriter) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]FeedWriter, 0, len(feeds))
	for _, f := range feeds {
		if f != nil {
			kept = append(kept, f)
		}
	}
	return &Sink{store: store, feeds: kept, logger: logger}
}

// Name implements Stage.
func (s *Sink) Name() string { return "sink" }

// Process implements Stage.
func (s *Sink) Process(ctx context.Context, record *crawler.Record) (Result, error) {
	if s.store != nil {
		if err := s.store.Upsert(ctx, record); err != nil {
			s.logger.Error("record upsert failed",
				zap.String("kind", string(record.Kind)),
				zap.String("key", record.DedupKey()),
				zap.Error(err))
			return Drop("storage failure: " + err.Error()), nil
		}
	}
	for _, feed := range s.feeds {
		if err := feed.Write(record); err != nil {
			s.logger.Warn("feed export failed",
				zap.String("kind", string(record.Kind)),
				zap.Error(err))
		}
	}
	return Pass(record), nil
}
