package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/fallback"
	"github.com/hubenschmidt/care-ai/gateway/internal/metrics"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// CredentialSource resolves and invalidates provider credentials.
type CredentialSource interface {
	Get(ctx context.Context, provider credentials.ProviderID) (*credentials.Credential, error)
	Invalidate(provider credentials.ProviderID)
}

// Executor runs single stages. It never returns an error: every failure
// becomes a degraded or failed StageResult carrying a fallback output.
type Executor struct {
	creds CredentialSource
	gate  *provider.Gate
}

func NewExecutor(creds CredentialSource, gate *provider.Gate) *Executor {
	return &Executor{creds: creds, gate: gate}
}

// kindCredentialUnavailable marks a stage whose credential expired mid-run
// and could not be re-resolved.
const kindCredentialUnavailable provider.Kind = "credential-unavailable"

type invocation struct {
	out      *provider.Output
	err      error
	panicked bool
}

// Run executes one stage against adapter within timeout.
func (e *Executor) Run(ctx context.Context, stage string, adapter provider.Adapter, timeout time.Duration, in provider.Input) StageResult {
	start := time.Now()
	in.Stage = stage
	res := StageResult{Stage: stage}
	if adapter == nil {
		return e.finish(res, in, errors.Mark(errors.Newf("%s: no adapter configured", stage), provider.ErrTransient), StatusDegraded, start)
	}
	res.Provider = adapter.Provider()

	cred, err := e.creds.Get(ctx, res.Provider)
	if err != nil {
		return e.finish(res, in, err, StatusFailed, start)
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err = e.gate.Wait(stageCtx, res.Provider); err != nil {
		return e.finish(res, in, err, StatusDegraded, start)
	}

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{err: errors.Newf("%s adapter panic: %v", stage, r), panicked: true}
			}
		}()
		out, err := adapter.Invoke(stageCtx, in, cred)
		done <- invocation{out: out, err: err}
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-stageCtx.Done():
		inv.err = errors.Mark(errors.Wrapf(stageCtx.Err(), "%s timed out after %s", stage, timeout), provider.ErrTransient)
	}
	e.gate.Observe(res.Provider, inv.err)

	switch {
	case inv.panicked:
		return e.finish(res, in, inv.err, StatusFailed, start)
	case inv.err != nil:
		if provider.Classify(inv.err) == provider.KindAuth {
			e.creds.Invalidate(res.Provider)
		}
		return e.finish(res, in, inv.err, StatusDegraded, start)
	case inv.out == nil:
		return e.finish(res, in, provider.Malformed("%s: adapter returned no output", stage), StatusDegraded, start)
	}

	out := *inv.out
	out.Source = provider.SourceProvider
	if out.Provider == "" {
		out.Provider = res.Provider
	}
	res.Output = &out
	res.Status = StatusOK
	return e.record(res, start)
}

// finish fills a non-ok result with the fallback output for the stage.
func (e *Executor) finish(res StageResult, in provider.Input, err error, status Status, start time.Time) StageResult {
	kind := provider.Classify(err)
	if kind == provider.KindUnknown && errors.Is(err, credentials.ErrCredentialUnavailable) {
		kind = kindCredentialUnavailable
	}
	res.Status = status
	res.ErrorKind = kind
	res.ErrorDetail = err.Error()
	res.Output = fallback.Synthesize(res.Stage, in, fallback.Reason(err))

	metrics.ProviderErrors.WithLabelValues(string(res.Provider), string(kind)).Inc()
	slog.Warn("stage degraded",
		"stage", res.Stage,
		"provider", res.Provider,
		"status", status,
		"kind", kind,
		"error", err,
	)
	return e.record(res, start)
}

func (e *Executor) record(res StageResult, start time.Time) StageResult {
	elapsed := time.Since(start)
	res.LatencyMs = elapsed.Milliseconds()
	metrics.StageDuration.WithLabelValues(res.Stage).Observe(elapsed.Seconds())
	metrics.StageOutcomes.WithLabelValues(res.Stage, string(res.Status)).Inc()
	return res
}

// callerResult records a stage satisfied by caller-supplied data.
func callerResult(stage string, out *provider.Output) StageResult {
	out.Source = provider.SourceCaller
	metrics.StageOutcomes.WithLabelValues(stage, string(StatusOK)).Inc()
	return StageResult{Stage: stage, Status: StatusOK, Output: out}
}
