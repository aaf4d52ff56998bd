// Package speech runs streaming transcription sessions against the speech
// recognizer and folds their events into a single transcript.
package speech

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/hubenschmidt/care-ai/gateway/internal/fallback"
	"github.com/hubenschmidt/care-ai/gateway/internal/metrics"
	"github.com/hubenschmidt/care-ai/gateway/internal/provider"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateRecognizing State = "recognizing"
	StateStopped     State = "stopped"
	StateTimedOut    State = "timed-out"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateStopped || s == StateTimedOut }

// ErrSessionClosed is returned by Write after the session has terminated.
var ErrSessionClosed = errors.New("speech session closed")

// Event is pushed to the session's observer.
type Event struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"` // interim, fragment, state
	Text      string `json:"text,omitempty"`
	State     State  `json:"state,omitempty"`
}

// EventFunc observes session events. It is never called with the session
// lock held.
type EventFunc func(Event)

// Result is the outcome of a terminated session.
type Result struct {
	SessionID      string   `json:"session_id"`
	State          State    `json:"state"`
	Text           string   `json:"text"`
	Fragments      []string `json:"fragments,omitempty"`
	Language       string   `json:"language"`
	Fallback       bool     `json:"fallback"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	Detail         string   `json:"detail,omitempty"`
	// Error is set when the recognizer failed: a non-auth cancel, a lost
	// connection or a failed end-of-audio write.
	Error string `json:"error,omitempty"`
}

// Stream is an open recognizer connection.
type Stream interface {
	Events() <-chan provider.SpeechEvent
	Send(pcm []byte) error
	End() error
	Close() error
	// Err reports why the event channel closed, if it closed on an error.
	Err() error
}

// LiveSession is one streaming transcription. Recognizer events, the
// watchdog and caller cancellation all funnel through terminate, which runs
// exactly once.
//
// Only recognized events become fragments. Interim (recognizing) hypotheses
// grow by prefix until the final one arrives, so they are forwarded to the
// observer but never accumulated.
type LiveSession struct {
	id       string
	language string
	stream   Stream
	onEvent  EventFunc

	mu        sync.Mutex
	state     State
	fragments []string
	last      string
	watchdog  *time.Timer
	result    Result
	done      chan struct{}
}

func newSession(language string, onEvent EventFunc) *LiveSession {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &LiveSession{
		id:       uuid.New().String(),
		language: language,
		onEvent:  onEvent,
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// ID returns the session id.
func (s *LiveSession) ID() string { return s.id }

// State returns the current state.
func (s *LiveSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has terminated.
func (s *LiveSession) Done() <-chan struct{} { return s.done }

// start moves idle → listening, arms the watchdog and begins consuming
// recognizer events.
func (s *LiveSession) start(ctx context.Context, stream Stream, timeout time.Duration) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.stream = stream
	s.state = StateListening
	s.watchdog = time.AfterFunc(timeout, func() {
		s.terminate(StateTimedOut, "", "session exceeded "+timeout.String(), nil)
	})
	s.mu.Unlock()

	metrics.SpeechSessionsActive.Inc()
	s.onEvent(Event{SessionID: s.id, Type: "state", State: StateListening})

	go s.consume()
	go func() {
		select {
		case <-ctx.Done():
			s.terminate(StateTimedOut, "", "caller: "+ctx.Err().Error(), nil)
		case <-s.done:
		}
	}()
}

// consume drains recognizer events. A channel that closes before the
// recognizer sent sessionStopped means the connection was lost.
func (s *LiveSession) consume() {
	for ev := range s.stream.Events() {
		s.handle(ev)
	}
	err := s.stream.Err()
	if err == nil {
		err = errors.New("recognizer closed before session stopped")
	}
	s.terminate(StateStopped, "", "connection lost", err)
}

func (s *LiveSession) handle(ev provider.SpeechEvent) {
	switch ev.Type {
	case provider.EventRecognizing:
		if s.advance() {
			s.onEvent(Event{SessionID: s.id, Type: "interim", Text: strings.TrimSpace(ev.Text)})
		}
	case provider.EventRecognized:
		if !s.advance() {
			return
		}
		if text, ok := s.addFragment(ev.Text); ok {
			s.onEvent(Event{SessionID: s.id, Type: "fragment", Text: text})
		}
	case provider.EventCanceled:
		if ev.AuthFailure() {
			s.terminate(StateStopped, provider.ReasonCredentials, ev.ErrorCode, nil)
			return
		}
		detail := ev.ErrorCode
		if ev.ErrorDetails != "" {
			detail += ": " + ev.ErrorDetails
		}
		s.terminate(StateStopped, "", detail, errors.Newf("recognizer canceled: %s", detail))
	case provider.EventSessionStopped:
		s.terminate(StateStopped, "", "", nil)
	}
}

// advance moves listening → recognizing. It reports false once the session
// has terminated.
func (s *LiveSession) advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = StateRecognizing
	return true
}

// addFragment applies the fragment rule: trimmed, non-empty, not noise and
// not equal to the preceding fragment.
func (s *LiveSession) addFragment(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	reason := ""
	s.mu.Lock()
	switch {
	case s.state.Terminal():
		s.mu.Unlock()
		return "", false
	case text == "":
		reason = "empty"
	case isNoise(text):
		reason = "noise"
	case text == s.last:
		reason = "duplicate"
	default:
		s.fragments = append(s.fragments, text)
		s.last = text
	}
	s.mu.Unlock()

	if reason != "" {
		metrics.SpeechFragmentsDropped.WithLabelValues(reason).Inc()
		return "", false
	}
	return text, true
}

// terminate is the single exit transition. Later calls are no-ops. failure
// is the recognizer error that ended the session, if any. done is closed
// before the stream so waiters never depend on the connection shutting down.
func (s *LiveSession) terminate(state State, fallbackReason, detail string, failure error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	started := s.state != StateIdle
	s.state = state
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.result = Result{
		SessionID: s.id,
		State:     state,
		Text:      strings.Join(s.fragments, "\n"),
		Fragments: append([]string(nil), s.fragments...),
		Language:  s.language,
		Detail:    detail,
	}
	if failure != nil {
		s.result.Error = failure.Error()
	}
	if fallbackReason != "" {
		s.result.Text = fallback.DemoTranscript(s.language)
		s.result.Fragments = nil
		s.result.Fallback = true
		s.result.FallbackReason = fallbackReason
	}
	stream, fragments := s.stream, len(s.result.Fragments)
	s.mu.Unlock()

	if started {
		metrics.SpeechSessionsActive.Dec()
	}
	metrics.SpeechSessions.WithLabelValues(string(state), strconv.FormatBool(fallbackReason != "")).Inc()
	slog.Info("speech session ended", "session", s.id, "state", state, "fragments", fragments, "fallback", fallbackReason != "")
	s.onEvent(Event{SessionID: s.id, Type: "state", State: state})
	close(s.done)
	if stream != nil {
		_ = stream.Close()
	}
}

// Write streams one PCM16 frame to the recognizer.
func (s *LiveSession) Write(pcm []byte) error {
	s.mu.Lock()
	terminal, stream := s.state.Terminal(), s.stream
	s.mu.Unlock()
	if terminal || stream == nil {
		return ErrSessionClosed
	}
	return stream.Send(pcm)
}

// Finish signals end of audio and waits for the session to terminate. If
// ctx ends first the session is forced to timed-out.
func (s *LiveSession) Finish(ctx context.Context) Result {
	s.mu.Lock()
	terminal, stream := s.state.Terminal(), s.stream
	s.mu.Unlock()
	if !terminal && stream != nil {
		if err := stream.End(); err != nil {
			s.terminate(StateStopped, "", "end of audio", err)
		}
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.terminate(StateTimedOut, "", "caller: "+ctx.Err().Error(), nil)
	}
	return s.Result()
}

// Result returns the terminal result, or the zero Result while the session
// is still running.
func (s *LiveSession) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
