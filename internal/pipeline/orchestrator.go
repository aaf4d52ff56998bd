package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/metrics"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
	"github.com/hubenschmidt/care-ai/gateway/internal/trace"
)

// Config wires the orchestrator.
type Config struct {
	Credentials CredentialSource
	Adapters    map[string]provider.Adapter // by stage name
	Gate        *provider.Gate
	Timeouts    map[string]time.Duration // overrides DefaultTimeouts
	Toolbox     provider.Toolbox         // offered to the assistant-reply stage
	Tracer      *trace.Tracer
}

// Orchestrator runs pipelines stage by stage.
type Orchestrator struct {
	cfg  Config
	exec *Executor
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg, exec: NewExecutor(cfg.Credentials, cfg.Gate)}
}

func (o *Orchestrator) timeout(stage string) time.Duration {
	if d, ok := o.cfg.Timeouts[stage]; ok && d > 0 {
		return d
	}
	if d, ok := DefaultTimeouts[stage]; ok {
		return d
	}
	return 15 * time.Second
}

// Execute runs the pipeline for req. The only errors are an unknown kind,
// an invalid request, and ErrCredentialUnavailable while pre-resolving
// credentials; in those cases no stage has run. Provider failures never
// surface here: they degrade individual stages.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	defs, ok := pipelines[req.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPipeline, "%q", req.Kind)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var active []stageDef
	for _, d := range defs {
		if d.active(&req) {
			active = append(active, d)
		}
	}

	id := uuid.NewString()
	start := time.Now()
	o.cfg.Tracer.StartRun(id, string(req.Kind))

	if err := o.resolveAll(ctx, &req, active); err != nil {
		metrics.PipelineAborts.WithLabelValues(string(req.Kind), "credentials").Inc()
		o.cfg.Tracer.EndRun(id, time.Since(start), "", trace.RunAborted)
		slog.Error("pipeline aborted", "request_id", id, "kind", req.Kind, "error", err)
		return nil, err
	}

	metrics.PipelinesActive.Inc()
	defer metrics.PipelinesActive.Dec()

	state := &runState{req: &req, outputs: make(map[string]*provider.Output), toolbox: o.cfg.Toolbox}
	res := &Result{RequestID: id, Kind: req.Kind}
	for _, d := range active {
		stageStart := time.Now()
		var sr StageResult
		if out, ok := callerOutput(d, &req); ok {
			sr = callerResult(d.name, out)
		} else {
			sr = o.exec.Run(ctx, d.name, o.cfg.Adapters[d.name], o.timeout(d.name), d.build(state))
		}
		state.outputs[d.name] = sr.Output
		res.Stages = append(res.Stages, sr)
		o.cfg.Tracer.RecordSpan(trace.Span{
			RunID:          id,
			Stage:          sr.Stage,
			Provider:       string(sr.Provider),
			StartedAt:      stageStart,
			DurationMs:     float64(sr.LatencyMs),
			Status:         string(sr.Status),
			ErrorKind:      string(sr.ErrorKind),
			Error:          sr.ErrorDetail,
			FallbackReason: sr.Output.FallbackReason,
		})
	}

	res.Degradation = ComputeDegradation(res.Stages)
	res.FinalOutput = assemble(&req, state)

	elapsed := time.Since(start)
	metrics.PipelinesTotal.WithLabelValues(string(req.Kind), string(res.Degradation)).Inc()
	metrics.E2EDuration.WithLabelValues(string(req.Kind)).Observe(elapsed.Seconds())
	o.cfg.Tracer.EndRun(id, elapsed, string(res.Degradation), trace.RunCompleted)
	slog.Info("pipeline complete",
		"request_id", id,
		"kind", req.Kind,
		"stages", len(res.Stages),
		"degradation", res.Degradation,
		"ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func callerOutput(d stageDef, req *Request) (*provider.Output, bool) {
	if d.caller == nil {
		return nil, false
	}
	return d.caller(req)
}

// resolveAll fetches, in parallel, the credential of every provider the
// active stages will call. Any failure aborts the run.
func (o *Orchestrator) resolveAll(ctx context.Context, req *Request, active []stageDef) error {
	needed := make(map[credentials.ProviderID]bool)
	for _, d := range active {
		if _, ok := callerOutput(d, req); ok {
			continue
		}
		if p, ok := StageProviders[d.name]; ok {
			needed[p] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := range needed {
		g.Go(func() error {
			if _, err := o.cfg.Credentials.Get(gctx, p); err != nil {
				return errors.Wrapf(err, "pre-resolve %s", p)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, credentials.ErrCredentialUnavailable) {
		err = errors.Mark(err, credentials.ErrCredentialUnavailable)
	}
	return err
}

// assemble builds the caller-facing output from the stage outputs.
func assemble(req *Request, s *runState) FinalOutput {
	fo := FinalOutput{Language: "en"}
	if out := s.outputs[provider.StageExtractText]; out != nil {
		fo.Text = out.Text
	}
	if out := s.outputs[provider.StageTranscribe]; out != nil {
		fo.Transcript = out.Text
	}
	if out := s.outputs[provider.StageSummarize]; out != nil {
		fo.Summary = out.Text
	}
	if out := s.outputs[provider.StageInterpretFindings]; out != nil {
		fo.Findings = out.Text
	}
	if out := s.outputs[provider.StageAssistantReply]; out != nil {
		fo.Reply = out.Text
		fo.ToolsUsed = out.ToolsUsed
	}
	if out := s.outputs[provider.StageDetectLabels]; out != nil {
		fo.Labels = out.Labels
	}
	if out := s.outputs[provider.StageExtractEntities]; out != nil {
		fo.Entities = out.Entities
	}
	if out := s.outputs[provider.StageSentiment]; out != nil {
		fo.Sentiment = out.Sentiment
	}
	if out := s.outputs[provider.StageRiskScore]; out != nil {
		fo.Risk = out.Risk
	}
	if out := s.outputs[provider.StageRecommend]; out != nil {
		fo.Recommendations = out.Recommendations
	}
	if out := s.outputs[provider.StageLocalize]; out != nil {
		fo.Translation = out.Text
		if out.Source != provider.SourceFallback {
			fo.Language = req.Language
		}
	}
	if out := s.outputs[provider.StageSynthesizeSpeech]; out != nil {
		fo.Audio = out.Audio
		fo.AudioFormat = out.AudioFormat
	}
	return fo
}
