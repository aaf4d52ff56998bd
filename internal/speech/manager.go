package speech

import (
	"context"
	"time"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

const (
	DefaultTimeout    = 25 * time.Second
	DefaultLanguage   = "en-US"
	DefaultSampleRate = 16000

	// frameBytes is 100ms of 16 kHz PCM16.
	frameBytes = 3200
)

// Connector opens a recognizer stream.
type Connector func(ctx context.Context, cred *credentials.Credential, language string, sampleRate int) (Stream, error)

// FromRecognizer adapts the websocket recognizer to a Connector.
func FromRecognizer(r *provider.WebSocketRecognizer) Connector {
	return func(ctx context.Context, cred *credentials.Credential, language string, sampleRate int) (Stream, error) {
		s, err := r.Connect(ctx, cred, language, sampleRate)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Config describes one session.
type Config struct {
	Language   string
	SampleRate int
	Timeout    time.Duration
}

// Manager opens speech sessions.
type Manager struct {
	connect Connector
	timeout time.Duration
}

// NewManager creates a Manager. timeout is the default session watchdog.
func NewManager(connect Connector, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{connect: connect, timeout: timeout}
}

func (m *Manager) withDefaults(cfg Config) Config {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Timeout <= 0 || cfg.Timeout > m.timeout {
		cfg.Timeout = m.timeout
	}
	return cfg
}

// Open connects to the recognizer and starts a session. A credential the
// recognizer rejects does not fail Open: the returned session is already
// stopped and carries the demo transcript. Other connect failures are
// returned.
func (m *Manager) Open(ctx context.Context, cfg Config, cred *credentials.Credential, onEvent EventFunc) (*LiveSession, error) {
	cfg = m.withDefaults(cfg)
	s := newSession(cfg.Language, onEvent)

	stream, err := m.connect(ctx, cred, cfg.Language, cfg.SampleRate)
	if err != nil {
		if provider.Classify(err) == provider.KindAuth {
			s.terminate(StateStopped, provider.ReasonCredentials, err.Error(), nil)
			return s, nil
		}
		return nil, err
	}
	s.start(ctx, stream, cfg.Timeout)
	return s, nil
}

// Transcribe streams a complete PCM16 buffer and waits for the transcript.
func (m *Manager) Transcribe(ctx context.Context, pcm []byte, cfg Config, cred *credentials.Credential) (Result, error) {
	s, err := m.Open(ctx, cfg, cred, nil)
	if err != nil {
		return Result{}, err
	}
	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		if err := s.Write(pcm[off:end]); err != nil {
			break
		}
	}
	return s.Finish(ctx), nil
}
