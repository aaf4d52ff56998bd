package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	queueSize = 256
	maxErrLen = 500
)

type traceMsg struct {
	kind string // "run_create", "run_update", "span"
	// run fields
	runID       string
	runKind     string
	startedAt   time.Time
	durationMs  float64
	degradation string
	status      string
	// span fields
	span Span
}

// Tracer writes trace data asynchronously via a buffered channel. Writes
// are dropped, not blocked on, when the queue is full. All methods are
// nil-safe (no-op on nil receiver).
type Tracer struct {
	store writer
	ch    chan traceMsg
	done  chan struct{}
}

type writer interface {
	CreateRun(id, kind string, startedAt time.Time) error
	UpdateRun(id string, durationMs float64, degradation, status string) error
	CreateSpan(sp Span) error
}

// NewTracer starts a tracer over store. Must call Close when done.
func NewTracer(store *Store) *Tracer {
	return newTracer(store)
}

func newTracer(w writer) *Tracer {
	t := &Tracer{
		store: w,
		ch:    make(chan traceMsg, queueSize),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	handlers := map[string]func() error{
		"run_create": func() error { return t.store.CreateRun(m.runID, m.runKind, m.startedAt) },
		"run_update": func() error { return t.store.UpdateRun(m.runID, m.durationMs, m.degradation, m.status) },
		"span":       func() error { return t.store.CreateSpan(m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) send(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Warn("trace queue full, dropping", "kind", m.kind, "run", m.runID)
	}
}

// StartRun records the start of run id.
func (t *Tracer) StartRun(id, kind string) {
	if t == nil {
		return
	}
	t.send(traceMsg{kind: "run_create", runID: id, runKind: kind, startedAt: time.Now()})
}

// EndRun finalizes a run.
func (t *Tracer) EndRun(id string, duration time.Duration, degradation, status string) {
	if t == nil {
		return
	}
	t.send(traceMsg{
		kind:        "run_update",
		runID:       id,
		durationMs:  float64(duration.Microseconds()) / 1000,
		degradation: degradation,
		status:      status,
	})
}

// RecordSpan records a completed stage.
func (t *Tracer) RecordSpan(sp Span) {
	if t == nil {
		return
	}
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	sp.Error = truncate(sp.Error, maxErrLen)
	t.send(traceMsg{kind: "span", runID: sp.RunID, span: sp})
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
