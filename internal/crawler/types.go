// Package crawler defines the core types and interfaces shared across the
// middleware chain, the item pipeline and the job supervisor.
package crawler

import (
	"net/http"
	"time"
)

// Request describes a single fetch the crawl engine wants performed.
// Middleware stages may mutate it freely before dispatch; once it has been
// handed to a Fetcher it must be treated as immutable.
type Request struct {
	URL            string
	Method         string
	Header         http.Header
	Proxy          string
	Retries        int
	Priority       int
	RenderRequired bool
	Meta           map[string]string
}

// NewRequest builds a GET Request with an empty header set.
func NewRequest(url string) *Request {
	return &Request{
		URL:    url,
		Method: http.MethodGet,
		Header: http.Header{},
		Meta:   map[string]string{},
	}
}

// Clone returns a deep copy suitable for reissuing.
func (r *Request) Clone() *Request {
	dup := *r
	dup.Header = r.Header.Clone()
	if dup.Header == nil {
		dup.Header = http.Header{}
	}
	dup.Meta = make(map[string]string, len(r.Meta))
	for k, v := range r.Meta {
		dup.Meta[k] = v
	}
	return &dup
}

// Response is the ephemeral result of dispatching a Request. It is consumed
// by the middleware chain and the parser and is never persisted as-is.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Request    *Request
	Rendered   bool
}

// JobState is the lifecycle state of a crawl job handle.
type JobState string

// Job lifecycle states reported by the supervisor.
const (
	JobStateIdle      JobState = "idle"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateStopped   JobState = "stopped"
)

// Terminal reports whether the state ends a job's run.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateStopped:
		return true
	default:
		return false
	}
}

// JobParams captures the launch parameters for one crawl job.
type JobParams struct {
	Keyword  string `json:"keyword"`
	MaxPages int    `json:"max_pages"`
}

// JobStats aggregates the outcome counters for a single run.
type JobStats struct {
	Notes    int       `json:"notes"`
	Users    int       `json:"users"`
	Comments int       `json:"comments"`
	Total    int       `json:"total"`
	Errors   int       `json:"errors"`
	Started  time.Time `json:"started_at"`
	Finished time.Time `json:"finished_at,omitempty"`
}

// Duration returns the run length, falling back to zero for live jobs.
func (s JobStats) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}
