package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/mediastore"
)

// MediaStage resolves a note's image URLs to local files. A failed fetch
// is logged and skipped; media trouble never drops a record.
type MediaStage struct {
	store  *mediastore.Store
	logger *zap.Logger
}

// NewMediaStage builds the media stage.
func NewMediaStage(store *mediastore.Store, logger *zap.Logger) *MediaStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaStage{store: store, logger: logger}
}

// Name implements Stage.
func (m *MediaStage) Name() string { return "mediastore" }

// Process implements Stage.
func (m *MediaStage) Process(ctx context.Context, record *crawler.Record) (Result, error) {
	if record.Kind != crawler.KindNote || record.Note == nil || m.store == nil {
		return Pass(record), nil
	}
	local := make([]string, 0, len(record.Note.Images))
	for _, imageURL := range record.Note.Images {
		path, err := m.store.Fetch(ctx, imageURL)
		if err != nil {
			m.logger.Warn("image fetch failed",
				zap.String("url", imageURL),
				zap.String("note_id", record.Note.NoteID),
				zap.Error(err))
			continue
		}
		local = append(local, path)
	}
	record.Note.LocalImages = local
	return Pass(record), nil
}
