package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// Recognizer event types.
const (
	EventRecognizing    = "recognizing"
	EventRecognized     = "recognized"
	EventCanceled       = "canceled"
	EventSessionStopped = "sessionStopped"
)

// SpeechEvent is one message from the recognition service.
type SpeechEvent struct {
	Type         string
	Text         string
	Offset       time.Duration
	ErrorCode    string
	ErrorDetails string
}

// AuthFailure reports whether a canceled event was caused by the
// credential.
func (e SpeechEvent) AuthFailure() bool {
	return e.Type == EventCanceled && (e.ErrorCode == "AuthenticationFailure" || e.ErrorCode == "Forbidden")
}

// RecognizerConfig configures the websocket speech-to-text client.
type RecognizerConfig struct {
	URL              string // full endpoint; built from the credential region when empty
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // per frame; a recognizer that stops reading fails Send
}

// WebSocketRecognizer opens streaming recognition sessions.
type WebSocketRecognizer struct {
	cfg    RecognizerConfig
	dialer *websocket.Dialer
}

// NewWebSocketRecognizer creates the recognizer client.
func NewWebSocketRecognizer(cfg RecognizerConfig) *WebSocketRecognizer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &WebSocketRecognizer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   16384,
			WriteBufferSize:  16384,
		},
	}
}

func (r *WebSocketRecognizer) Provider() credentials.ProviderID { return credentials.AzureSpeech }

// Connect opens a recognition stream for PCM16 mono audio at sampleRate.
// A 401/403 handshake is returned as ErrAuth.
func (r *WebSocketRecognizer) Connect(ctx context.Context, cred *credentials.Credential, language string, sampleRate int) (*RecognizerStream, error) {
	key := cred.Get("api_key")
	if key == "" {
		return nil, errors.Mark(errors.New("speech: credential has no api_key"), ErrAuth)
	}
	endpoint, err := r.endpoint(cred, language, sampleRate)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", key)

	conn, resp, err := r.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, errors.Wrap(FromStatus(resp.StatusCode, body, resp.Header.Get("Retry-After")), "speech handshake")
		}
		return nil, Transient(err, "speech dial")
	}

	s := &RecognizerStream{
		conn:         conn,
		writeTimeout: r.cfg.WriteTimeout,
		events:       make(chan SpeechEvent, 32),
		done:         make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (r *WebSocketRecognizer) endpoint(cred *credentials.Credential, language string, sampleRate int) (string, error) {
	raw := r.cfg.URL
	if raw == "" {
		region := cred.Get("region")
		if region == "" {
			return "", errors.New("speech: no endpoint configured and credential has no region")
		}
		raw = "wss://" + region + ".stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "speech: parse endpoint")
	}
	q := u.Query()
	if language != "" {
		q.Set("language", language)
	}
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RecognizerStream is one open recognition session. Events arrive on a
// single reader goroutine and the channel closes when the connection ends.
// Close never waits on a pending Send.
type RecognizerStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	events       chan SpeechEvent
	done         chan struct{}
	once         sync.Once

	errMu   sync.Mutex
	readErr error
}

// Events returns the event channel.
func (s *RecognizerStream) Events() <-chan SpeechEvent { return s.events }

// Send writes one binary PCM16 frame.
func (s *RecognizerStream) Send(pcm []byte) error {
	return s.write(websocket.BinaryMessage, pcm, "speech send")
}

// End tells the service no more audio follows.
func (s *RecognizerStream) End() error {
	msg, _ := json.Marshal(map[string]string{"type": "end"})
	return s.write(websocket.TextMessage, msg, "speech end")
}

func (s *RecognizerStream) write(msgType int, data []byte, op string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(msgType, data); err != nil {
		return Transient(err, op)
	}
	return nil
}

// Close closes the connection. Safe to call more than once and while a Send
// is blocked: gorilla allows WriteControl and Close concurrently with
// writers, and closing the socket fails the pending write.
func (s *RecognizerStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// Err returns the error that ended the reader, if any.
func (s *RecognizerStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *RecognizerStream) read() {
	defer close(s.events)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.errMu.Lock()
				s.readErr = err
				s.errMu.Unlock()
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, ok := parseSpeechEvent(data)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func parseSpeechEvent(data []byte) (SpeechEvent, bool) {
	if !gjson.ValidBytes(data) {
		return SpeechEvent{}, false
	}
	doc := gjson.ParseBytes(data)
	ev := SpeechEvent{
		Type:         doc.Get("type").String(),
		Text:         doc.Get("text").String(),
		Offset:       time.Duration(doc.Get("offset").Int()) * time.Millisecond,
		ErrorCode:    doc.Get("errorCode").String(),
		ErrorDetails: doc.Get("errorDetails").String(),
	}
	switch ev.Type {
	case EventRecognizing, EventRecognized, EventCanceled, EventSessionStopped:
		return ev, true
	default:
		return SpeechEvent{}, false
	}
}
