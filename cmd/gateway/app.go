package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/pipeline"
	"github.com/hubenschmidt/care-ai/gateway/internal/portal"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
	"github.com/hubenschmidt/care-ai/gateway/internal/speech"
	"github.com/hubenschmidt/care-ai/gateway/internal/trace"
)

// providerTimeout caps a single outbound provider request; stage deadlines
// are normally shorter.
const providerTimeout = 60 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg          *config
	resolver     *credentials.Resolver
	orchestrator *pipeline.Orchestrator
	speech       *speech.Manager
	traceStore   *trace.Store
	tracer       *trace.Tracer
}

func newApp(ctx context.Context, cfg *config) (*app, error) {
	a := &app{cfg: cfg}

	var secrets credentials.SecretStore
	if store, err := credentials.NewSecretsManagerStore(ctx, cfg.AWSRegion); err != nil {
		slog.Warn("secret store unavailable, credentials come from the environment", "error", err)
	} else {
		secrets = store
	}
	a.resolver = credentials.NewResolver(secrets, credentials.Config{
		Product:      cfg.Product,
		Env:          cfg.Env,
		TTL:          cfg.CredentialTTL,
		RefreshAhead: cfg.CredentialRefreshAhead,
		FetchTimeout: cfg.SecretFetchTimeout,
		Lookup:       os.LookupEnv,
	})

	if cfg.DatabaseURL != "" {
		store, err := trace.Open(cfg.DatabaseURL)
		if err != nil {
			slog.Warn("trace store unavailable, tracing disabled", "error", err)
		} else {
			a.traceStore = store
			a.tracer = trace.NewTracer(store)
			slog.Info("tracing enabled")
		}
	}

	httpClient := provider.NewPooledHTTPClient(cfg.HTTPPoolSize, providerTimeout)
	budget := provider.NewTokenBudget(cfg.LLMMaxInputTokens)

	chat := provider.NewChatCompleter(provider.ChatConfig{
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		MaxTokens:  cfg.LLMMaxTokens,
		Budget:     budget,
		HTTPClient: httpClient,
	})
	agent := provider.NewAgentCompleter(provider.AgentConfig{
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.OpenAIModel,
		MaxTokens: cfg.LLMMaxTokens,
		Budget:    budget,
	})
	text := provider.NewTextEngines(map[string]provider.Adapter{engineChat: chat, engineAgent: agent}, engineChat, cfg.LLMEngine)

	vision := provider.VisionConfig{BaseURL: cfg.VisionURL, Client: httpClient}
	awsCfg := provider.AWSConfig{Region: cfg.AWSRegion, HTTPClient: httpClient}

	recognizer := provider.NewWebSocketRecognizer(provider.RecognizerConfig{URL: cfg.SpeechURL})
	a.speech = speech.NewManager(speech.FromRecognizer(recognizer), cfg.SpeechSessionTimeout)

	toolbox, err := pipeline.NewToolbox(portal.NewClient(cfg.DoctorDirectoryURL, cfg.AppointmentsURL, httpClient))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator = pipeline.NewOrchestrator(pipeline.Config{
		Credentials: a.resolver,
		Adapters: map[string]provider.Adapter{
			provider.StageExtractText:       provider.NewVisionOCR(vision),
			provider.StageDetectLabels:      provider.NewVisionLabels(vision),
			provider.StageExtractEntities:   provider.NewMedicalEntities(awsCfg),
			provider.StageSentiment:         provider.NewSentimentDetector(awsCfg),
			provider.StageSummarize:         text,
			provider.StageRiskScore:         text,
			provider.StageInterpretFindings: text,
			provider.StageRecommend:         text,
			provider.StageAssistantReply:    chat, // tool calls need chat completions
			provider.StageLocalize:          provider.NewTranslator(awsCfg),
			provider.StageSynthesizeSpeech:  provider.NewSpeaker(awsCfg),
			provider.StageTranscribe:        speech.NewStageAdapter(a.speech),
		},
		Gate: provider.NewGate(provider.GateConfig{
			RPS:          cfg.ProviderRPS,
			Burst:        cfg.ProviderBurst,
			QuotaBackoff: cfg.QuotaBackoff,
		}),
		Timeouts: cfg.StageTimeouts,
		Toolbox:  toolbox,
		Tracer:   a.tracer,
	})

	slog.Info("gateway wired",
		"llm_engine", cfg.LLMEngine,
		"text_engines", text.Engines(),
		"secret_store", secrets != nil,
		"tracing", a.tracer != nil,
	)
	return a, nil
}

// Close flushes the tracer and closes the trace store.
func (a *app) Close() {
	a.tracer.Close()
	if a.traceStore != nil {
		if err := a.traceStore.Close(); err != nil {
			slog.Warn("close trace store", "error", err)
		}
	}
}
