package provider

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

const maxPollyChunk = 2800

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

var pollyVoices = map[string]pollytypes.VoiceId{
	"en": pollytypes.VoiceIdJoanna,
	"es": pollytypes.VoiceIdLupe,
	"fr": pollytypes.VoiceIdLea,
	"de": pollytypes.VoiceIdVicki,
	"it": pollytypes.VoiceIdBianca,
	"pt": pollytypes.VoiceIdCamila,
	"ja": pollytypes.VoiceIdKazuha,
}

// Speaker synthesizes speech with Amazon Polly (neural, mp3).
type Speaker struct {
	clientFor func(context.Context, *credentials.Credential) (synthClient, error)
}

// NewSpeaker creates the synthesize-speech adapter.
func NewSpeaker(cfg AWSConfig) *Speaker {
	clients := newAWSClients(cfg, func(c aws.Config) synthClient { return polly.NewFromConfig(c) })
	return &Speaker{clientFor: clients.get}
}

// NewSpeakerWithClient uses client for every call.
func NewSpeakerWithClient(client synthClient) *Speaker {
	return &Speaker{clientFor: func(context.Context, *credentials.Credential) (synthClient, error) { return client, nil }}
}

func (s *Speaker) Provider() credentials.ProviderID { return credentials.AWS }

// Invoke splits the text into sentence-aligned chunks under the Polly
// request limit and concatenates the returned mp3 streams.
func (s *Speaker) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	chunks := chunkText(strings.TrimSpace(in.Text), maxPollyChunk)
	if len(chunks) == 0 {
		return nil, errors.New("polly: input has no text")
	}
	client, err := s.clientFor(ctx, cred)
	if err != nil {
		return nil, err
	}

	lang := baseLanguage(in.Language)
	voice, ok := pollyVoices[lang]
	if !ok {
		voice = pollyVoices["en"]
	}

	var audio bytes.Buffer
	for _, chunk := range chunks {
		if err = s.synthesize(ctx, client, chunk, voice, &audio); err != nil {
			return nil, err
		}
	}
	return &Output{
		Source:      SourceProvider,
		Provider:    credentials.AWS,
		Text:        in.Text,
		Language:    lang,
		Audio:       audio.Bytes(),
		AudioFormat: "audio/mpeg",
	}, nil
}

func (s *Speaker) synthesize(ctx context.Context, client synthClient, text string, voice pollytypes.VoiceId, dst *bytes.Buffer) error {
	resp, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       pollytypes.EngineNeural,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         aws.String(text),
		TextType:     pollytypes.TextTypeText,
		VoiceId:      voice,
	})
	if err != nil {
		return FromAWS(err, "polly")
	}
	if resp == nil || resp.AudioStream == nil {
		return Malformed("polly: response has no audio")
	}
	defer resp.AudioStream.Close()
	if _, err = io.Copy(dst, resp.AudioStream); err != nil {
		return Transient(err, "polly read")
	}
	return nil
}
