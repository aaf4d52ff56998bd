package fallback

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/care-ai/gateway/internal/audio"
	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

var allStages = []string{
	provider.StageExtractText,
	provider.StageDetectLabels,
	provider.StageExtractEntities,
	provider.StageSentiment,
	provider.StageSummarize,
	provider.StageRiskScore,
	provider.StageInterpretFindings,
	provider.StageRecommend,
	provider.StageLocalize,
	provider.StageAssistantReply,
	provider.StageSynthesizeSpeech,
	provider.StageTranscribe,
	"not-a-stage",
}

func TestSynthesizeAlwaysMarksFallback(t *testing.T) {
	in := provider.Input{Text: "Patient reports chest pain. Takes aspirin daily.", Language: "es-MX"}
	for _, stage := range allStages {
		t.Run(stage, func(t *testing.T) {
			out := Synthesize(stage, in, provider.ReasonCredentials)
			require.NotNil(t, out)
			assert.Equal(t, provider.SourceFallback, out.Source)
			assert.True(t, out.Degraded())
			assert.Equal(t, provider.ReasonCredentials, out.FallbackReason)
			assert.Empty(t, out.Provider)
		})
	}
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	in := provider.Input{Text: "Fever and cough for three days.", Language: "fr"}
	for _, stage := range allStages {
		assert.Equal(t, Synthesize(stage, in, ""), Synthesize(stage, in, ""), stage)
	}
}

func TestSynthesizeDefaultsReason(t *testing.T) {
	out := Synthesize(provider.StageSentiment, provider.Input{}, "")
	assert.Equal(t, provider.ReasonProviderUnavailable, out.FallbackReason)
}

func TestSynthesizePerStage(t *testing.T) {
	out := Synthesize(provider.StageDetectLabels, provider.Input{}, "")
	require.NotEmpty(t, out.Labels)
	for _, l := range out.Labels {
		assert.Equal(t, 0.5, l.Confidence)
	}
	assert.Equal(t, "normal finding", out.Labels[0].Description)

	out = Synthesize(provider.StageRiskScore, provider.Input{}, "")
	require.NotNil(t, out.Risk)
	assert.Equal(t, 0.5, out.Risk.Score)
	assert.Equal(t, "review-required", out.Risk.Level)

	out = Synthesize(provider.StageSentiment, provider.Input{}, "")
	require.NotNil(t, out.Sentiment)
	assert.Equal(t, "neutral", out.Sentiment.Label)

	out = Synthesize(provider.StageSummarize, provider.Input{Text: "First   sentence here. Second one."}, "")
	assert.Equal(t, "[Automated placeholder] First sentence here.", out.Text)

	out = Synthesize(provider.StageLocalize, provider.Input{Text: "Take with food.", Language: "es", SourceLanguage: "en"}, "")
	assert.Equal(t, "Take with food.", out.Text)
	assert.Equal(t, "en", out.Language)

	out = Synthesize(provider.StageExtractText, provider.Input{Text: " typed by patient "}, "")
	assert.Equal(t, "typed by patient", out.Text)

	out = Synthesize(provider.StageExtractText, provider.Input{}, "")
	assert.Contains(t, out.Text, "[Automated placeholder]")

	out = Synthesize(provider.StageAssistantReply, provider.Input{Language: "es"}, "")
	assert.Contains(t, out.Text, "personal")

	out = Synthesize(provider.StageRecommend, provider.Input{}, "")
	assert.Len(t, out.Recommendations, 2)
}

func TestSynthesizeRecommendationsNotShared(t *testing.T) {
	out := Synthesize(provider.StageRecommend, provider.Input{}, "")
	out.Recommendations[0] = "mutated"
	again := Synthesize(provider.StageRecommend, provider.Input{}, "")
	assert.NotEqual(t, "mutated", again.Recommendations[0])
}

func TestSynthesizeSilentAudio(t *testing.T) {
	out := Synthesize(provider.StageSynthesizeSpeech, provider.Input{Text: "Hello"}, "")
	assert.Equal(t, "audio/wav", out.AudioFormat)
	samples, rate, err := audio.ParseWAV(out.Audio)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, samples, 8000)
}

func TestDictionaryEntities(t *testing.T) {
	out := Synthesize(provider.StageExtractEntities, provider.Input{Text: "Chest Pain after MRI; prescribed Aspirin. Feverish? no."}, "")
	require.Len(t, out.Entities, 3)
	assert.Equal(t, provider.Entity{Text: "Chest Pain", Category: "MEDICAL_CONDITION", Confidence: 0.3}, out.Entities[0])
	assert.Equal(t, "Aspirin", out.Entities[1].Text)
	assert.Equal(t, "MRI", out.Entities[2].Text)

	assert.Empty(t, Synthesize(provider.StageExtractEntities, provider.Input{Text: "all good"}, "").Entities)
}

func TestDemoTranscriptLanguage(t *testing.T) {
	assert.Contains(t, DemoTranscript("en-US"), "demo transcript")
	assert.Contains(t, DemoTranscript("es_ES"), "demostración")
	assert.Contains(t, DemoTranscript("FR"), "démonstration")
	assert.Equal(t, DemoTranscript("en"), DemoTranscript("xx"))
	assert.Equal(t, DemoTranscript(""), DemoTranscript("en"))

	out := Synthesize(provider.StageTranscribe, provider.Input{Language: "es"}, provider.ReasonCredentials)
	assert.Equal(t, DemoTranscript("es"), out.Text)
	assert.Equal(t, "es", out.Language)
}

func TestTranscribeFallbackUsesSpokenLanguage(t *testing.T) {
	out := Synthesize(provider.StageTranscribe, provider.Input{SourceLanguage: "es-MX"}, provider.ReasonCredentials)
	assert.Equal(t, DemoTranscript("es"), out.Text)
	assert.Equal(t, "es", out.Language)

	out = Synthesize(provider.StageTranscribe, provider.Input{SourceLanguage: "fr-FR", Language: "en"}, provider.ReasonCredentials)
	assert.Equal(t, DemoTranscript("fr"), out.Text)
}

func TestReason(t *testing.T) {
	auth := errors.Mark(errors.New("401"), provider.ErrAuth)
	assert.Equal(t, provider.ReasonCredentials, Reason(fmt.Errorf("stage: %w", auth)))
	assert.Equal(t, provider.ReasonCredentials, Reason(errors.Mark(errors.New("gone"), credentials.ErrCredentialUnavailable)))
	assert.Equal(t, provider.ReasonProviderUnavailable, Reason(errors.Mark(errors.New("429"), provider.ErrQuota)))
	assert.Equal(t, provider.ReasonProviderUnavailable, Reason(errors.New("boom")))
}
