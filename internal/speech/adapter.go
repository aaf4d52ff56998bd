package speech

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/audio"
	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// StageAdapter runs the transcribe stage through the Manager. Audio may be a
// WAV file or raw PCM16 at Input.SampleRate; it is resampled to 16 kHz.
type StageAdapter struct {
	manager *Manager
}

func NewStageAdapter(m *Manager) *StageAdapter {
	return &StageAdapter{manager: m}
}

func (a *StageAdapter) Provider() credentials.ProviderID { return credentials.AzureSpeech }

func (a *StageAdapter) Invoke(ctx context.Context, in provider.Input, cred *credentials.Credential) (*provider.Output, error) {
	if len(in.Audio) == 0 {
		return nil, provider.Malformed("transcribe: no audio")
	}
	rate := in.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	pcm, err := audio.ToRecognizerPCM(in.Audio, rate)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "transcribe: decode audio"), provider.ErrMalformedResponse)
	}

	res, err := a.manager.Transcribe(ctx, pcm, Config{Language: in.SpokenLanguage(), SampleRate: audio.RecognizerRate}, cred)
	if err != nil {
		return nil, err
	}
	if res.Fallback {
		// ErrAuth: the executor degrades with the credentials reason.
		return nil, errors.Mark(errors.Newf("transcribe: recognizer rejected credential: %s", res.Detail), provider.ErrAuth)
	}
	// A partial transcript survives a timeout or a recognizer failure; an
	// empty one is a transient error so the stage degrades.
	if len(res.Fragments) == 0 {
		switch {
		case res.Error != "":
			return nil, errors.Mark(errors.Newf("transcribe: %s", res.Error), provider.ErrTransient)
		case res.State == StateTimedOut:
			return nil, errors.Mark(errors.Newf("transcribe: %s", res.Detail), provider.ErrTransient)
		}
	}
	return &provider.Output{
		Source:   provider.SourceProvider,
		Provider: credentials.AzureSpeech,
		Text:     res.Text,
		Language: res.Language,
	}, nil
}
