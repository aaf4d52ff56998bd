package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/care-ai/gateway/internal/audio"
	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/fallback"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
	"github.com/hubenschmidt/care-ai/gateway/internal/speech"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// finishTimeout bounds the wait for the recognizer's final events after
// the client stops sending audio.
const finishTimeout = 10 * time.Second

// eventWriteTimeout bounds each event written to the client.
const eventWriteTimeout = 5 * time.Second

// CredentialSource resolves provider credentials.
type CredentialSource interface {
	Get(ctx context.Context, provider credentials.ProviderID) (*credentials.Credential, error)
}

// HandlerConfig holds the shared dependencies of all transcription sessions.
type HandlerConfig struct {
	Speech        *speech.Manager
	Credentials   CredentialSource
	MaxConcurrent int
}

// Handler serves live transcription sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// sessionMetadata is the first text frame sent by the client.
type sessionMetadata struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
}

// resultEvent is the last message of every session.
type resultEvent struct {
	Type string `json:"type"`
	speech.Result
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ServeHTTP upgrades the connection and runs the session.
// Returns 503 if at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := newEventSender(conn)
	meta, err := readMetadata(conn)
	if err != nil {
		slog.Error("read metadata", "error", err)
		send(errorEvent{Type: "error", Error: "first frame must be session metadata"})
		return
	}
	codec, err := audio.ParseCodec(meta.Codec)
	if err != nil {
		send(errorEvent{Type: "error", Error: err.Error()})
		return
	}
	sampleRate := meta.SampleRate
	if sampleRate <= 0 {
		sampleRate = speech.DefaultSampleRate
	}
	language := meta.Language
	if language == "" {
		language = speech.DefaultLanguage
	}

	cred, err := h.cfg.Credentials.Get(ctx, credentials.AzureSpeech)
	if err != nil {
		slog.Warn("speech credential unavailable", "error", err)
		send(resultEvent{Type: "result", Result: speech.Result{
			State:          speech.StateStopped,
			Text:           fallback.DemoTranscript(language),
			Language:       language,
			Fallback:       true,
			FallbackReason: provider.ReasonCredentials,
		}})
		return
	}

	sess, err := h.cfg.Speech.Open(ctx, speech.Config{Language: language, SampleRate: audio.RecognizerRate}, cred,
		func(ev speech.Event) { send(ev) })
	if err != nil {
		slog.Error("open speech session", "error", err)
		send(errorEvent{Type: "error", Error: "speech recognizer unavailable"})
		return
	}
	slog.Info("transcription started", "session_id", sess.ID(), "codec", codec, "sample_rate", sampleRate, "language", language)

	// Unblock the reader once the session ends on its own.
	go func() {
		select {
		case <-sess.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	processMessages(conn, sess, codec, sampleRate, send)

	finishCtx, cancelFinish := context.WithTimeout(ctx, finishTimeout)
	defer cancelFinish()
	res := sess.Finish(finishCtx)
	send(resultEvent{Type: "result", Result: res})

	slog.Info("transcription ended", "session_id", res.SessionID, "state", res.State)
}

// processMessages feeds binary audio frames to the session until the client
// sends a text frame (end of audio), disconnects, or the session ends.
func processMessages(conn *websocket.Conn, sess *speech.LiveSession, codec audio.Codec, sampleRate int, send func(any)) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "error", err)
			return
		}

		if msgType != websocket.BinaryMessage {
			return
		}

		pcm, err := toRecognizerPCM(data, codec, sampleRate)
		if err != nil {
			send(errorEvent{Type: "error", Error: err.Error()})
			continue
		}
		if err = sess.Write(pcm); err != nil {
			if !errors.Is(err, speech.ErrSessionClosed) {
				slog.Error("write audio", "error", err)
			}
			return
		}
	}
}

func toRecognizerPCM(data []byte, codec audio.Codec, sampleRate int) ([]byte, error) {
	samples, rate, err := audio.Decode(data, codec, sampleRate)
	if err != nil {
		return nil, err
	}
	return audio.EncodePCM16(audio.Resample(samples, rate, audio.RecognizerRate)), nil
}

func newEventSender(conn *websocket.Conn) func(any) {
	var mu sync.Mutex
	return func(ev any) {
		mu.Lock()
		defer mu.Unlock()

		jsonBytes, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err = conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			slog.Error("write event", "error", err)
		}
	}
}

func readMetadata(conn *websocket.Conn) (*sessionMetadata, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, errors.New("metadata must be a text frame")
	}
	var meta sessionMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
