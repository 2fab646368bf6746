// Package pipeline processes extracted records through a fixed stage
// sequence before they reach storage.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
	"github.com/xiaolu-workflow/crawler-service/internal/telemetry"
)

// Result is a stage's verdict on a record. A drop carries the reason the
// record left the pipeline; a pass carries the (possibly mutated) record
// forward.
type Result struct {
	Record  *crawler.Record
	Dropped bool
	Reason  string
}

// Pass forwards the record to the next stage.
func Pass(record *crawler.Record) Result {
	return Result{Record: record}
}

// Drop removes the record from the pipeline with a reason.
func Drop(reason string) Result {
	return Result{Dropped: true, Reason: reason}
}

// Stage transforms, admits or drops one record.
type Stage interface {
	Name() string
	Process(ctx context.Context, record *crawler.Record) (Result, error)
}

// Pipeline runs records through its stages in order. A drop at any stage
// stops the record's traversal; later stages never see it.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger
}

// New assembles a pipeline over the given stages.
func New(logger *zap.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Process pushes one record through every stage. It returns the final
// result; a stage error counts as a drop and is surfaced to the caller.
func (p *Pipeline) Process(ctx context.Context, record *crawler.Record) (Result, error) {
	current := record
	for _, stage := range p.stages {
		result, err := stage.Process(ctx, current)
		if err != nil {
			p.logger.Error("pipeline stage failed",
				zap.String("stage", stage.Name()),
				zap.String("kind", string(current.Kind)),
				zap.Error(err))
			telemetry.ObserveRecord(string(current.Kind), "error")
			return Drop(fmt.Sprintf("%s: %v", stage.Name(), err)), err
		}
		if result.Dropped {
			p.logger.Debug("record dropped",
				zap.String("stage", stage.Name()),
				zap.String("kind", string(current.Kind)),
				zap.String("reason", result.Reason))
			telemetry.ObserveRecord(string(current.Kind), "dropped")
			return result, nil
		}
		current = result.Record
	}
	telemetry.ObserveRecord(string(current.Kind), "admitted")
	return Pass(current), nil
}
