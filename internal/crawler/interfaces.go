package crawler

import (
	"context"
	"errors"
	"time"
)

// Renderer failure classes surfaced by render fallbacks.
var (
	// ErrRenderTimeout means navigation or the ready wait exceeded its bound.
	ErrRenderTimeout = errors.New("render timeout")
	// ErrRenderBlocked means the page presented an anti-bot wall.
	ErrRenderBlocked = errors.New("render blocked")
)

// Fetcher dispatches a Request over plain HTTP and returns the Response.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Renderer drives a headless browser to produce fully rendered HTML for
// pages that require JavaScript execution.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}
