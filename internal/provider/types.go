package provider

import (
	"context"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// Source records who produced a stage output.
type Source string

const (
	SourceProvider Source = "provider"
	SourceCaller   Source = "caller"
	SourceFallback Source = "fallback"
)

// Fallback reasons.
const (
	ReasonCredentials         = "credentials"
	ReasonProviderUnavailable = "provider-unavailable"
)

// Adapter calls one external AI provider. The ctx deadline is the hard
// timeout; failures are returned as errors carrying one of the taxonomy
// marks (ErrAuth, ErrQuota, ErrTransient, ErrMalformedResponse).
type Adapter interface {
	Provider() credentials.ProviderID
	Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error)
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is everything a stage hands to its adapter.
type Input struct {
	Stage          string
	Text           string
	Image          []byte
	Audio          []byte
	SampleRate     int
	Language       string // requested output language
	SourceLanguage string
	Messages       []Message
	Instructions   string
	JSONMode       bool // completion must be a JSON object
	Toolbox        Toolbox
}

// SpokenLanguage is the language of the audio: the source language when
// known, otherwise the requested one.
func (in Input) SpokenLanguage() string {
	if in.SourceLanguage != "" {
		return in.SourceLanguage
	}
	return in.Language
}

type Label struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type Entity struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Type       string  `json:"type,omitempty"`
	Confidence float64 `json:"confidence"`
}

type Sentiment struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

type Risk struct {
	Score   float64  `json:"score"`
	Level   string   `json:"level"`
	Factors []string `json:"factors,omitempty"`
}

// Output is the normalized result of one stage, real or synthesized.
// All confidences and scores are in [0,1].
type Output struct {
	Source          Source                 `json:"source"`
	Provider        credentials.ProviderID `json:"provider,omitempty"`
	Text            string                 `json:"text,omitempty"`
	Language        string                 `json:"language,omitempty"`
	Confidence      float64                `json:"confidence,omitempty"`
	Labels          []Label                `json:"labels,omitempty"`
	Entities        []Entity               `json:"entities,omitempty"`
	Sentiment       *Sentiment             `json:"sentiment,omitempty"`
	Risk            *Risk                  `json:"risk,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	ToolsUsed       []string               `json:"tools_used,omitempty"`
	Audio           []byte                 `json:"audio,omitempty"`
	AudioFormat     string                 `json:"audio_format,omitempty"`
	FallbackReason  string                 `json:"fallback_reason,omitempty"`
}

// Degraded reports whether the output was synthesized locally.
func (o *Output) Degraded() bool {
	return o != nil && o.Source == SourceFallback
}
