package renderer

import (
	"context"
	"errors"
)

// Noop implements crawler.Renderer but always fails, for builds where
// headless Chrome is unavailable.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render returns an error since this is a stub implementation.
func (Noop) Render(_ context.Context, _ string) (string, error) {
	return "", errors.New("renderer not configured")
}
