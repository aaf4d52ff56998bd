package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/pipeline"
	"github.com/hubenschmidt/care-ai/gateway/internal/trace"
)

const (
	// maxRequestBytes bounds an analyze body; documents and audio arrive
	// base64-encoded inside it.
	maxRequestBytes = 32 << 20

	// defaultTraceRunLimit is how many trace runs are returned when the
	// caller omits the ?limit= query parameter.
	defaultTraceRunLimit = 20
)

type analyzer interface {
	Execute(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type traceReader interface {
	ListRuns(ctx context.Context, limit, offset int) ([]trace.Run, int, error)
	GetRun(ctx context.Context, id string) (*trace.Run, []trace.Span, error)
}

type deps struct {
	analyzer      analyzer
	requestBudget time.Duration
	wsHandler     http.Handler
	traceStore    traceReader // nil when tracing is disabled
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/transcribe", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/pipelines", handlePipelines)
	mux.HandleFunc("POST /analyze/{kind}", d.handleAnalyze)
	registerTraceRoutes(mux, d.traceStore)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handlePipelines lists each kind with the stages an English request runs.
func handlePipelines(w http.ResponseWriter, r *http.Request) {
	resp := make(map[pipeline.Kind][]string)
	for _, k := range pipeline.Kinds() {
		resp[k] = pipeline.StageNames(&pipeline.Request{Kind: k})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d deps) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Kind = pipeline.Kind(r.PathValue("kind"))

	ctx, cancel := context.WithTimeout(r.Context(), d.requestBudget)
	defer cancel()

	res, err := d.analyzer.Execute(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("analyze failed", "kind", req.Kind, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps orchestrator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownPipeline):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, credentials.ErrCredentialUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func registerTraceRoutes(mux *http.ServeMux, store traceReader) {
	mux.HandleFunc("GET /api/traces/runs", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceRunLimit)
		offset := queryInt(r, "offset", 0)
		runs, total, err := store.ListRuns(r.Context(), limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
	})

	mux.HandleFunc("GET /api/traces/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		run, spans, err := store.GetRun(r.Context(), r.PathValue("id"))
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run, "spans": spans})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
