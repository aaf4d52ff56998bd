package provider

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comprehendtypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/aws/aws-sdk-go-v2/service/comprehendmedical"
	medicaltypes "github.com/aws/aws-sdk-go-v2/service/comprehendmedical/types"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

func awsCred() *credentials.Credential {
	return credentials.NewStatic(credentials.AWS, map[string]string{
		"access_key_id":     "AKIA",
		"secret_access_key": "secret",
	})
}

type fakeMedical struct {
	in  *comprehendmedical.DetectEntitiesV2Input
	out *comprehendmedical.DetectEntitiesV2Output
	err error
}

func (f *fakeMedical) DetectEntitiesV2(_ context.Context, in *comprehendmedical.DetectEntitiesV2Input, _ ...func(*comprehendmedical.Options)) (*comprehendmedical.DetectEntitiesV2Output, error) {
	f.in = in
	return f.out, f.err
}

func TestMedicalEntities(t *testing.T) {
	client := &fakeMedical{out: &comprehendmedical.DetectEntitiesV2Output{
		Entities: []medicaltypes.Entity{
			{Text: aws.String("chest pain"), Category: medicaltypes.EntityTypeMedicalCondition, Type: medicaltypes.EntitySubTypeDxName, Score: aws.Float32(0.5)},
			{Text: aws.String("aspirin"), Category: medicaltypes.EntityTypeMedication, Type: medicaltypes.EntitySubTypeGenericName, Score: aws.Float32(0.25)},
		},
	}}

	out, err := NewMedicalEntitiesWithClient(client).Invoke(context.Background(), Input{Text: "  chest pain, takes aspirin  "}, awsCred())
	require.NoError(t, err)
	assert.Equal(t, "chest pain, takes aspirin", aws.ToString(client.in.Text))
	require.Len(t, out.Entities, 2)
	assert.Equal(t, Entity{Text: "chest pain", Category: "MEDICAL_CONDITION", Type: "DX_NAME", Confidence: 0.5}, out.Entities[0])
	assert.Equal(t, 0.25, out.Entities[1].Confidence)
}

func TestMedicalEntitiesErrorMapping(t *testing.T) {
	client := &fakeMedical{err: fakeAPIError{"UnrecognizedClientException"}}
	_, err := NewMedicalEntitiesWithClient(client).Invoke(context.Background(), Input{Text: "x"}, awsCred())
	assert.Equal(t, KindAuth, Classify(err))
}

type fakeSentiment struct {
	in  *comprehend.DetectSentimentInput
	out *comprehend.DetectSentimentOutput
	err error
}

func (f *fakeSentiment) DetectSentiment(_ context.Context, in *comprehend.DetectSentimentInput, _ ...func(*comprehend.Options)) (*comprehend.DetectSentimentOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestSentimentDetector(t *testing.T) {
	client := &fakeSentiment{out: &comprehend.DetectSentimentOutput{
		Sentiment: comprehendtypes.SentimentTypeNegative,
		SentimentScore: &comprehendtypes.SentimentScore{
			Positive: aws.Float32(0.125), Negative: aws.Float32(0.75), Neutral: aws.Float32(0.125), Mixed: aws.Float32(0),
		},
	}}

	out, err := NewSentimentDetectorWithClient(client).Invoke(context.Background(), Input{Text: "I feel awful", SourceLanguage: "es-MX"}, awsCred())
	require.NoError(t, err)
	assert.Equal(t, comprehendtypes.LanguageCodeEs, client.in.LanguageCode)
	require.NotNil(t, out.Sentiment)
	assert.Equal(t, "negative", out.Sentiment.Label)
	assert.Equal(t, 0.75, out.Sentiment.Confidence)
	assert.Len(t, out.Sentiment.Scores, 4)
}

func TestSentimentDetectorEmptyResponse(t *testing.T) {
	_, err := NewSentimentDetectorWithClient(&fakeSentiment{out: &comprehend.DetectSentimentOutput{}}).
		Invoke(context.Background(), Input{Text: "x"}, awsCred())
	assert.Equal(t, KindMalformed, Classify(err))
}

type fakeTranslate struct {
	in  *translate.TranslateTextInput
	out *translate.TranslateTextOutput
	err error
}

func (f *fakeTranslate) TranslateText(_ context.Context, in *translate.TranslateTextInput, _ ...func(*translate.Options)) (*translate.TranslateTextOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestTranslator(t *testing.T) {
	client := &fakeTranslate{out: &translate.TranslateTextOutput{TranslatedText: aws.String("Dolor de pecho")}}

	out, err := NewTranslatorWithClient(client).Invoke(context.Background(), Input{Text: "Chest pain", Language: "es"}, awsCred())
	require.NoError(t, err)
	assert.Equal(t, "auto", aws.ToString(client.in.SourceLanguageCode))
	assert.Equal(t, "es", aws.ToString(client.in.TargetLanguageCode))
	assert.Equal(t, "Dolor de pecho", out.Text)
	assert.Equal(t, "es", out.Language)
}

func TestTranslatorThrottled(t *testing.T) {
	client := &fakeTranslate{err: fakeAPIError{"ThrottlingException"}}
	_, err := NewTranslatorWithClient(client).Invoke(context.Background(), Input{Text: "x", Language: "fr"}, awsCred())
	assert.Equal(t, KindQuota, Classify(err))
}

type fakePolly struct {
	texts  []string
	voices []pollytypes.VoiceId
	err    error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, aws.ToString(in.Text))
	f.voices = append(f.voices, in.VoiceId)
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("mp3")))}, nil
}

func TestSpeakerChunksLongText(t *testing.T) {
	sentence := strings.Repeat("word ", 99) + "end."
	text := strings.Repeat(sentence+" ", 12)
	client := &fakePolly{}

	out, err := NewSpeakerWithClient(client).Invoke(context.Background(), Input{Text: text, Language: "fr"}, awsCred())
	require.NoError(t, err)
	require.Greater(t, len(client.texts), 1)
	for _, chunk := range client.texts {
		assert.LessOrEqual(t, len(chunk), maxPollyChunk)
		assert.True(t, strings.HasSuffix(chunk, "end."), "chunks end on a sentence boundary")
	}
	assert.Equal(t, pollytypes.VoiceIdLea, client.voices[0])
	assert.Equal(t, strings.Repeat("mp3", len(client.texts)), string(out.Audio))
	assert.Equal(t, "audio/mpeg", out.AudioFormat)
}

func TestSpeakerUnknownLanguageUsesDefaultVoice(t *testing.T) {
	client := &fakePolly{}
	_, err := NewSpeakerWithClient(client).Invoke(context.Background(), Input{Text: "Hello.", Language: "xx"}, awsCred())
	require.NoError(t, err)
	assert.Equal(t, pollytypes.VoiceIdJoanna, client.voices[0])
}

func TestAWSClientsRequireAccessKey(t *testing.T) {
	clients := newAWSClients(AWSConfig{}, func(aws.Config) translateClient { return &fakeTranslate{} })
	_, err := clients.get(context.Background(), credentials.NewStatic(credentials.AWS, map[string]string{}))
	assert.Equal(t, KindAuth, Classify(err))
}

func TestChunkText(t *testing.T) {
	assert.Equal(t, []string{"One. Two."}, chunkText("One. Two.", 20))
	assert.Equal(t, []string{"One.", "Two."}, chunkText("One. Two.", 5))
	assert.Empty(t, chunkText("   ", 10))

	long := strings.Repeat("abc ", 10)
	for _, c := range chunkText(long, 9) {
		assert.LessOrEqual(t, len(c), 9)
		assert.NotEmpty(t, c)
	}
	assert.Equal(t, "héll", truncateBytes("héllo", 5))
	assert.Equal(t, "hé", truncateBytes("héllo", 3))
}
