package trace

import "time"

// Run is one pipeline execution.
type Run struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  float64   `json:"duration_ms,omitempty"`
	Degradation string    `json:"degradation,omitempty"`
	Status      string    `json:"status"`
	SpanCount   int       `json:"span_count,omitempty"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunAborted   = "aborted"
)

// Span is one stage execution within a run. Stage inputs and outputs are
// never stored.
type Span struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Stage          string    `json:"stage"`
	Provider       string    `json:"provider,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     float64   `json:"duration_ms"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}
