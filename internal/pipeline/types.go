package pipeline

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// Kind names a pipeline.
type Kind string

const (
	KindDocument      Kind = "document"
	KindImage         Kind = "image"
	KindConversation  Kind = "conversation"
	KindTranscription Kind = "transcription"
)

var (
	ErrUnknownPipeline = errors.New("unknown pipeline kind")
	ErrInvalidRequest  = errors.New("invalid pipeline request")
)

// Payload is the caller's input. Byte fields are base64 in JSON.
type Payload struct {
	Text           string             `json:"text,omitempty"`
	Document       []byte             `json:"document,omitempty"`
	Image          []byte             `json:"image,omitempty"`
	Audio          []byte             `json:"audio,omitempty"` // WAV or raw PCM16
	SampleRate     int                `json:"sample_rate,omitempty"`
	SourceLanguage string             `json:"source_language,omitempty"`
	Messages       []provider.Message `json:"messages,omitempty"`
	Speak          bool               `json:"speak,omitempty"`
}

// Request is one pipeline invocation. It is not modified during the run.
type Request struct {
	Kind           Kind              `json:"pipeline_kind"`
	Input          Payload           `json:"input_payload"`
	SubjectContext map[string]string `json:"subject_context,omitempty"`
	Language       string            `json:"requested_language,omitempty"`
}

// Validate checks that the payload carries what the pipeline kind needs.
func (r *Request) Validate() error {
	in := r.Input
	var missing string
	switch r.Kind {
	case KindDocument:
		if len(in.Document) == 0 && strings.TrimSpace(in.Text) == "" {
			missing = "document or text"
		}
	case KindImage:
		if len(in.Image) == 0 {
			missing = "image"
		}
	case KindConversation:
		if len(in.Messages) == 0 && strings.TrimSpace(in.Text) == "" {
			missing = "messages or text"
		}
	case KindTranscription:
		if len(in.Audio) == 0 {
			missing = "audio"
		}
	default:
		return errors.Wrapf(ErrUnknownPipeline, "%q", r.Kind)
	}
	if missing != "" {
		return errors.Wrapf(ErrInvalidRequest, "%s pipeline needs %s", r.Kind, missing)
	}
	return nil
}

// Status is the outcome of one stage.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// StageResult is the record of one executed stage.
type StageResult struct {
	Stage       string                 `json:"stage"`
	Status      Status                 `json:"status"`
	Provider    credentials.ProviderID `json:"provider,omitempty"`
	Output      *provider.Output       `json:"output"`
	LatencyMs   int64                  `json:"provider_latency_ms"`
	ErrorKind   provider.Kind          `json:"error_kind,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// Degradation summarizes how many stages fell back.
type Degradation string

const (
	DegradationNone         Degradation = "none"
	DegradationPartial      Degradation = "partial"
	DegradationFullFallback Degradation = "full-fallback"
)

// ComputeDegradation is full-fallback when every stage is degraded or
// failed, partial when at least one is, none otherwise. No stages is none.
func ComputeDegradation(stages []StageResult) Degradation {
	notOK := 0
	for _, s := range stages {
		if s.Status != StatusOK {
			notOK++
		}
	}
	switch {
	case notOK == 0:
		return DegradationNone
	case notOK == len(stages):
		return DegradationFullFallback
	default:
		return DegradationPartial
	}
}

// FinalOutput is the caller-facing aggregate of a run. Which fields are set
// depends on the pipeline kind.
type FinalOutput struct {
	Text            string              `json:"text,omitempty"`
	Transcript      string              `json:"transcript,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	Findings        string              `json:"findings,omitempty"`
	Reply           string              `json:"reply,omitempty"`
	Labels          []provider.Label    `json:"labels,omitempty"`
	Entities        []provider.Entity   `json:"entities,omitempty"`
	Sentiment       *provider.Sentiment `json:"sentiment,omitempty"`
	Risk            *provider.Risk      `json:"risk,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	ToolsUsed       []string            `json:"tools_used,omitempty"`
	Translation     string              `json:"translation,omitempty"`
	Language        string              `json:"language"`
	Audio           []byte              `json:"audio,omitempty"`
	AudioFormat     string              `json:"audio_format,omitempty"`
}

// Result is the aggregate of a completed run.
type Result struct {
	RequestID   string        `json:"request_id"`
	Kind        Kind          `json:"pipeline_kind"`
	Stages      []StageResult `json:"stages"`
	Degradation Degradation   `json:"overall_degradation"`
	FinalOutput FinalOutput   `json:"final_output"`
}
