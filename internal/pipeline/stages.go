package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/prompts"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// DefaultTimeouts are per-stage deadlines by provider cost.
var DefaultTimeouts = map[string]time.Duration{
	provider.StageExtractText:       15 * time.Second,
	provider.StageDetectLabels:      15 * time.Second,
	provider.StageExtractEntities:   10 * time.Second,
	provider.StageSentiment:         10 * time.Second,
	provider.StageSummarize:         25 * time.Second,
	provider.StageRiskScore:         25 * time.Second,
	provider.StageInterpretFindings: 25 * time.Second,
	provider.StageRecommend:         25 * time.Second,
	provider.StageAssistantReply:    25 * time.Second,
	provider.StageLocalize:          10 * time.Second,
	provider.StageSynthesizeSpeech:  15 * time.Second,
	provider.StageTranscribe:        30 * time.Second,
}

// StageProviders maps each stage to the provider that serves it.
var StageProviders = map[string]credentials.ProviderID{
	provider.StageExtractText:       credentials.GoogleVision,
	provider.StageDetectLabels:      credentials.GoogleVision,
	provider.StageExtractEntities:   credentials.AWS,
	provider.StageSentiment:         credentials.AWS,
	provider.StageSummarize:         credentials.OpenAI,
	provider.StageRiskScore:         credentials.OpenAI,
	provider.StageInterpretFindings: credentials.OpenAI,
	provider.StageRecommend:         credentials.OpenAI,
	provider.StageAssistantReply:    credentials.OpenAI,
	provider.StageLocalize:          credentials.AWS,
	provider.StageSynthesizeSpeech:  credentials.AWS,
	provider.StageTranscribe:        credentials.AzureSpeech,
}

// stageDef declares one step of a pipeline.
type stageDef struct {
	name string
	// enabled gates optional stages; nil means always.
	enabled func(*Request) bool
	// caller returns an output taken from the request itself, skipping the
	// provider.
	caller func(*Request) (*provider.Output, bool)
	build  func(*runState) provider.Input
}

func (d stageDef) active(req *Request) bool {
	return d.enabled == nil || d.enabled(req)
}

var (
	extractText = stageDef{
		name:   provider.StageExtractText,
		caller: callerText,
		build: func(s *runState) provider.Input {
			img := s.req.Input.Document
			if len(img) == 0 {
				img = s.req.Input.Image
			}
			return provider.Input{Image: img, Text: s.req.Input.Text}
		},
	}
	detectLabels = stageDef{
		name:  provider.StageDetectLabels,
		build: func(s *runState) provider.Input { return provider.Input{Image: s.req.Input.Image} },
	}
	extractEntities = stageDef{
		name:  provider.StageExtractEntities,
		build: func(s *runState) provider.Input { return s.textInput(s.sourceText()) },
	}
	sentiment = stageDef{
		name:  provider.StageSentiment,
		build: func(s *runState) provider.Input { return s.textInput(s.sourceText()) },
	}
	summarize = stageDef{
		name:  provider.StageSummarize,
		build: func(s *runState) provider.Input { return s.completionInput(provider.StageSummarize, s.sourceText(), false) },
	}
	riskScore = stageDef{
		name:  provider.StageRiskScore,
		build: func(s *runState) provider.Input { return s.completionInput(provider.StageRiskScore, s.riskBrief(), true) },
	}
	interpretFindings = stageDef{
		name:  provider.StageInterpretFindings,
		build: func(s *runState) provider.Input { return s.completionInput(provider.StageInterpretFindings, s.findingsBrief(), false) },
	}
	recommend = stageDef{
		name:  provider.StageRecommend,
		build: func(s *runState) provider.Input { return s.completionInput(provider.StageRecommend, s.recommendBrief(), true) },
	}
	assistantReply = stageDef{
		name:  provider.StageAssistantReply,
		build: func(s *runState) provider.Input { return s.assistantInput() },
	}
	localize = stageDef{
		name:    provider.StageLocalize,
		enabled: func(r *Request) bool { return !isEnglish(r.Language) },
		build:   func(s *runState) provider.Input { return s.textInput(s.primaryText()) },
	}
	synthesizeSpeech = stageDef{
		name:    provider.StageSynthesizeSpeech,
		enabled: func(r *Request) bool { return r.Input.Speak },
		build:   func(s *runState) provider.Input { return s.textInput(s.spokenText()) },
	}
	transcribe = stageDef{
		name: provider.StageTranscribe,
		build: func(s *runState) provider.Input {
			return provider.Input{
				Audio:          s.req.Input.Audio,
				SampleRate:     s.req.Input.SampleRate,
				Language:       s.req.Language,
				SourceLanguage: s.req.Input.SourceLanguage,
			}
		},
	}
)

// pipelines are the fixed, ordered stage lists per kind.
var pipelines = map[Kind][]stageDef{
	KindDocument:      {extractText, extractEntities, sentiment, summarize, riskScore, recommend, localize},
	KindImage:         {detectLabels, extractText, interpretFindings, recommend, localize},
	KindConversation:  {sentiment, assistantReply, localize, synthesizeSpeech},
	KindTranscription: {transcribe, extractEntities, summarize, localize},
}

// Kinds lists the registered pipeline kinds.
func Kinds() []Kind {
	out := make([]Kind, 0, len(pipelines))
	for k := range pipelines {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StageNames returns the stages a request would run, in order.
func StageNames(req *Request) []string {
	var names []string
	for _, d := range pipelines[req.Kind] {
		if d.active(req) {
			names = append(names, d.name)
		}
	}
	return names
}

func callerText(req *Request) (*provider.Output, bool) {
	if req.Kind != KindDocument || len(req.Input.Document) > 0 {
		return nil, false
	}
	return &provider.Output{Text: strings.TrimSpace(req.Input.Text)}, true
}

func isEnglish(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	return lang == "" || lang == "en" || strings.HasPrefix(lang, "en-") || strings.HasPrefix(lang, "en_")
}

// runState carries the request and the outputs of completed stages.
type runState struct {
	req     *Request
	outputs map[string]*provider.Output
	toolbox provider.Toolbox
}

func (s *runState) text(stage string) string {
	if out := s.outputs[stage]; out != nil {
		return strings.TrimSpace(out.Text)
	}
	return ""
}

func (s *runState) textInput(text string) provider.Input {
	return provider.Input{Text: text, Language: s.req.Language, SourceLanguage: s.req.Input.SourceLanguage}
}

func (s *runState) completionInput(stage, text string, jsonMode bool) provider.Input {
	in := s.textInput(text)
	in.Instructions = prompts.ForStage(stage, "")
	in.JSONMode = jsonMode
	in.Messages = s.contextMessages()
	return in
}

func (s *runState) contextMessages() []provider.Message {
	if len(s.req.SubjectContext) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.req.SubjectContext))
	for k := range s.req.SubjectContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, s.req.SubjectContext[k])
	}
	return []provider.Message{{Role: "system", Content: prompts.SubjectContext(strings.TrimSpace(b.String()))}}
}

// sourceText is the text the analysis runs on: extracted or transcribed
// text, else what the caller typed, else the last user turn.
func (s *runState) sourceText() string {
	for _, stage := range []string{provider.StageExtractText, provider.StageTranscribe} {
		if t := s.text(stage); t != "" {
			return t
		}
	}
	if t := strings.TrimSpace(s.req.Input.Text); t != "" {
		return t
	}
	return lastUserTurn(s.req.Input.Messages)
}

// primaryText is the result a person reads: the reply, findings or summary.
func (s *runState) primaryText() string {
	for _, stage := range []string{provider.StageAssistantReply, provider.StageInterpretFindings, provider.StageSummarize} {
		if t := s.text(stage); t != "" {
			return t
		}
	}
	return s.sourceText()
}

func (s *runState) spokenText() string {
	if t := s.text(provider.StageLocalize); t != "" {
		return t
	}
	return s.primaryText()
}

func (s *runState) entityList() string {
	out := s.outputs[provider.StageExtractEntities]
	if out == nil || len(out.Entities) == 0 {
		return "none found"
	}
	parts := make([]string, 0, len(out.Entities))
	for _, e := range out.Entities {
		parts = append(parts, fmt.Sprintf("%s (%s)", e.Text, strings.ToLower(e.Category)))
	}
	return strings.Join(parts, ", ")
}

func (s *runState) riskBrief() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary: %s\n", s.text(provider.StageSummarize))
	fmt.Fprintf(&b, "Entities: %s\n", s.entityList())
	if out := s.outputs[provider.StageSentiment]; out != nil && out.Sentiment != nil {
		fmt.Fprintf(&b, "Patient sentiment: %s\n", out.Sentiment.Label)
	}
	fmt.Fprintf(&b, "Source text:\n%s", s.sourceText())
	return b.String()
}

func (s *runState) findingsBrief() string {
	var b strings.Builder
	b.WriteString("Detected labels:")
	if out := s.outputs[provider.StageDetectLabels]; out != nil {
		for _, l := range out.Labels {
			fmt.Fprintf(&b, " %s (%.2f);", l.Description, l.Confidence)
		}
	}
	fmt.Fprintf(&b, "\nText in image: %s", s.text(provider.StageExtractText))
	return b.String()
}

func (s *runState) recommendBrief() string {
	var b strings.Builder
	if t := s.text(provider.StageInterpretFindings); t != "" {
		fmt.Fprintf(&b, "Findings: %s\n", t)
	}
	if t := s.text(provider.StageSummarize); t != "" {
		fmt.Fprintf(&b, "Summary: %s\n", t)
	}
	if out := s.outputs[provider.StageRiskScore]; out != nil && out.Risk != nil {
		fmt.Fprintf(&b, "Risk: %.2f (%s)", out.Risk.Score, out.Risk.Level)
		if len(out.Risk.Factors) > 0 {
			fmt.Fprintf(&b, "; factors: %s", strings.Join(out.Risk.Factors, ", "))
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString(s.sourceText())
	}
	return strings.TrimSpace(b.String())
}

func (s *runState) assistantInput() provider.Input {
	in := provider.Input{
		Language:     s.req.Language,
		Instructions: prompts.ForStage(provider.StageAssistantReply, ""),
		Toolbox:      s.toolbox,
	}
	in.Messages = append(in.Messages, s.contextMessages()...)
	if out := s.outputs[provider.StageSentiment]; out != nil && out.Sentiment != nil && out.Sentiment.Label != "neutral" {
		in.Messages = append(in.Messages, provider.Message{
			Role:    "system",
			Content: "The patient's latest message reads as " + out.Sentiment.Label + ".",
		})
	}
	in.Messages = append(in.Messages, s.req.Input.Messages...)
	if len(s.req.Input.Messages) == 0 {
		in.Text = strings.TrimSpace(s.req.Input.Text)
	}
	return in
}

func lastUserTurn(msgs []provider.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" || msgs[i].Role == "" {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}
