package pipeline

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

const truncationMarker = "..."

// Validator rejects records missing required fields or carrying malformed
// URLs, and bounds oversized content fields. Truncation is a side effect,
// never a drop.
type Validator struct {
	maxContentLength int
	logger           *zap.Logger
}

// NewValidator builds the validation stage. maxContentLength <= 0 disables
// truncation.
func NewValidator(maxContentLength int, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{maxContentLength: maxContentLength, logger: logger}
}

// Name implements Stage.
func (v *Validator) Name() string { return "validator" }

// Process implements Stage.
func (v *Validator) Process(_ context.Context, record *crawler.Record) (Result, error) {
	if err := record.Validate(); err != nil {
		return Drop(err.Error()), nil
	}
	if url := record.SourceURL(); url != "" && !crawler.ValidURL(url) {
		return Drop("malformed source url: " + url), nil
	}
	switch record.Kind {
	case crawler.KindNote:
		record.Note.Content = v.truncate(record.Note.Content)
		record.Note.Images = crawler.CleanList(record.Note.Images)
		record.Note.Tags = crawler.CleanList(record.Note.Tags)
		for _, img := range record.Note.Images {
			if !crawler.ValidURL(img) {
				return Drop("malformed image url: " + img), nil
			}
		}
	case crawler.KindComment:
		record.Comment.Content = v.truncate(record.Comment.Content)
	}
	return Pass(record), nil
}

func (v *Validator) truncate(content string) string {
	if v.maxContentLength <= 0 || len(content) <= v.maxContentLength {
		return content
	}
	// Never cut inside a multi-byte rune.
	cut := v.maxContentLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	v.logger.Debug("content truncated", zap.Int("max", v.maxContentLength))
	return content[:cut] + truncationMarker
}
