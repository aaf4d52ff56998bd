package trace

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreateRunPrunes(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs (id, kind, started_at, status)")).
		WithArgs("run-1", "document", sqlmock.AnyArg(), RunRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM runs WHERE id NOT IN")).
		WithArgs(maxRuns).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.CreateRun("run-1", "document", started))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunAndCreateSpan(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE runs SET duration_ms")).
		WithArgs(12.5, "partial", RunCompleted, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO spans")).
		WithArgs("span-1", "run-1", "sentiment", "aws", sqlmock.AnyArg(), 3.0, "degraded", "quota", "429", "provider-unavailable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateRun("run-1", 12.5, "partial", RunCompleted))
	require.NoError(t, s.CreateSpan(Span{
		ID: "span-1", RunID: "run-1", Stage: "sentiment", Provider: "aws",
		StartedAt: time.Now(), DurationMs: 3, Status: "degraded",
		ErrorKind: "quota", Error: "429", FallbackReason: "provider-unavailable",
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM runs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs r")).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "started_at", "duration_ms", "degradation", "status", "span_count"}).
			AddRow("b", "image", now, 40.0, "none", RunCompleted, 5).
			AddRow("a", "document", now.Add(-time.Minute), 0.0, "", RunAborted, 0))

	runs, total, err := s.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "image", runs[0].Kind)
	assert.Equal(t, 5, runs[0].SpanCount)
	assert.Equal(t, RunAborted, runs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "started_at", "duration_ms", "degradation", "status"}).
			AddRow("run-1", "document", now, 100.0, "partial", RunCompleted))
	mock.ExpectQuery(regexp.QuoteMeta("FROM spans WHERE run_id = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "stage", "provider", "started_at", "duration_ms", "status", "error_kind", "error_msg", "fallback_reason"}).
			AddRow("s1", "run-1", "extract-text", "google-vision", now, 10.0, "ok", "", "", "").
			AddRow("s2", "run-1", "extract-entities", "aws", now, 20.0, "degraded", "auth", "401", "credentials"))

	run, spans, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "partial", run.Degradation)
	assert.Equal(t, 2, run.SpanCount)
	require.Len(t, spans, 2)
	assert.Equal(t, "credentials", spans[1].FallbackReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, _, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

type recordingWriter struct {
	mu    sync.Mutex
	runs  map[string]Run
	spans []Span
}

func (w *recordingWriter) CreateRun(id, kind string, startedAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs[id] = Run{ID: id, Kind: kind, StartedAt: startedAt, Status: RunRunning}
	return nil
}

func (w *recordingWriter) UpdateRun(id string, durationMs float64, degradation, status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.runs[id]
	r.DurationMs, r.Degradation, r.Status = durationMs, degradation, status
	w.runs[id] = r
	return nil
}

func (w *recordingWriter) CreateSpan(sp Span) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spans = append(w.spans, sp)
	return nil
}

func TestTracerWritesInOrder(t *testing.T) {
	w := &recordingWriter{runs: map[string]Run{}}
	tr := newTracer(w)

	tr.StartRun("run-1", "conversation")
	tr.RecordSpan(Span{RunID: "run-1", Stage: "sentiment", Status: "ok"})
	tr.RecordSpan(Span{RunID: "run-1", Stage: "assistant-reply", Status: "degraded", Error: string(make([]byte, 2000))})
	tr.EndRun("run-1", 1500*time.Microsecond, "partial", RunCompleted)
	tr.Close()

	run := w.runs["run-1"]
	assert.Equal(t, "conversation", run.Kind)
	assert.Equal(t, 1.5, run.DurationMs)
	assert.Equal(t, RunCompleted, run.Status)
	require.Len(t, w.spans, 2)
	assert.NotEmpty(t, w.spans[0].ID)
	assert.Len(t, w.spans[1].Error, maxErrLen)
}

func TestNilTracerIsNoop(t *testing.T) {
	var tr *Tracer
	tr.StartRun("x", "document")
	tr.RecordSpan(Span{})
	tr.EndRun("x", time.Second, "none", RunCompleted)
	tr.Close()
}
