// Package fallback synthesizes deterministic stand-in outputs for stages
// whose provider could not deliver. Every output is marked
// provider.SourceFallback and carries the reason it was produced.
package fallback

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/audio"
	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

const (
	placeholderConfidence = 0.5
	dictionaryConfidence  = 0.3
	neutralConfidence     = 0.5
	riskScore             = 0.5
	riskLevel             = "review-required"

	excerptRunes  = 280
	silenceMs     = 500
	silenceRate   = 16000
	silenceFormat = "audio/wav"
)

var termPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(clinicalTerms))
	for i, t := range clinicalTerms {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t.term) + `\b`)
	}
	return out
}()

// Reason maps the error that forced a fallback onto the reason reported to
// callers: rejected or missing credentials versus everything else.
func Reason(err error) string {
	if provider.Classify(err) == provider.KindAuth || errors.Is(err, credentials.ErrCredentialUnavailable) {
		return provider.ReasonCredentials
	}
	return provider.ReasonProviderUnavailable
}

// Synthesize returns the stand-in output for stage. It never fails and
// depends only on its arguments.
func Synthesize(stage string, in provider.Input, reason string) *provider.Output {
	if reason == "" {
		reason = provider.ReasonProviderUnavailable
	}
	lang, pb := lookup(in.Language)
	out := &provider.Output{
		Source:         provider.SourceFallback,
		Language:       lang,
		FallbackReason: reason,
	}

	switch stage {
	case provider.StageExtractText:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			text = pb.label + " " + pb.noText
		}
		out.Text = text
	case provider.StageDetectLabels:
		for _, l := range pb.normalLabels {
			out.Labels = append(out.Labels, provider.Label{Description: l, Confidence: placeholderConfidence})
		}
	case provider.StageExtractEntities:
		out.Entities = matchTerms(in.Text)
	case provider.StageSentiment:
		out.Sentiment = &provider.Sentiment{Label: "neutral", Confidence: neutralConfidence}
	case provider.StageSummarize:
		out.Text = pb.label + " " + excerpt(in.Text, pb.generic)
	case provider.StageRiskScore:
		out.Risk = &provider.Risk{Score: riskScore, Level: riskLevel}
	case provider.StageInterpretFindings:
		out.Text = pb.label + " " + pb.findings
	case provider.StageRecommend:
		out.Recommendations = append([]string(nil), pb.recommendations...)
	case provider.StageLocalize:
		out.Text = in.Text
		out.Language = in.SourceLanguage
	case provider.StageAssistantReply:
		out.Text = pb.apology
	case provider.StageSynthesizeSpeech:
		out.Audio = audio.SilenceWAV(silenceMs, silenceRate)
		out.AudioFormat = silenceFormat
	case provider.StageTranscribe:
		spoken := in.SpokenLanguage()
		out.Language, _ = lookup(spoken)
		out.Text = DemoTranscript(spoken)
	default:
		out.Text = pb.label + " " + pb.generic
	}
	return out
}

// DemoTranscript is the language-selected transcript returned when speech
// recognition cannot run.
func DemoTranscript(language string) string {
	_, pb := lookup(language)
	return pb.transcript
}

func matchTerms(text string) []provider.Entity {
	var out []provider.Entity
	for i, re := range termPatterns {
		m := re.FindString(text)
		if m == "" {
			continue
		}
		out = append(out, provider.Entity{
			Text:       m,
			Category:   clinicalTerms[i].category,
			Confidence: dictionaryConfidence,
		})
	}
	return out
}

// excerpt returns the leading sentence of text, capped at excerptRunes.
func excerpt(text, empty string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return empty
	}
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i+1]
	}
	r := []rune(text)
	if len(r) > excerptRunes {
		return strings.TrimSpace(string(r[:excerptRunes])) + "…"
	}
	return text
}
