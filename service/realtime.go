package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
	"github.com/google/uuid"
)

// Event is one server-side emission on a realtime session. An adapter may
// produce any number of events per pushed chunk.
type Event struct {
	Type     string `json:"type"`
	Audio    string `json:"audio,omitempty"` // base64 encoded
	Text     string `json:"text,omitempty"`
	Sequence int64  `json:"sequence_no,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Server-sent event types.
const (
	EventCleanAudio    = "clean_audio"
	EventTranscript    = "transcript"
	EventError         = "transcription_error"
	EventSessionClosed = "session_closed"
)

// SessionManager multiplexes live duplex sessions. Each session gets one
// goroutine feeding its adapter, independent of the job pool, so latency
// does not degrade when the workers are saturated.
//
// Chunks must arrive in sequence order. Anything else is rejected with
// ErrOutOfOrder: the adapters are stateful and order-sensitive, so a late
// chunk cannot be retroactively inserted. A gap moves the stream position
// past the skipped numbers, so predecessors arriving after the gap stay
// rejected. Repeated violations past the strike limit close the session.
type SessionManager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	adapters    Adapters
	idleTimeout time.Duration
	maxStrikes  int
}

func NewSessionManager(adapters Adapters, idleTimeout time.Duration, maxStrikes int) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		adapters:    adapters,
		idleTimeout: idleTimeout,
		maxStrikes:  maxStrikes,
	}
}

type chunkMsg struct {
	seq   int64
	audio []byte
}

// Session is one live duplex connection bound to an adapter mode.
type Session struct {
	id          string
	mode        model.SessionMode
	connectedAt time.Time

	mu           sync.Mutex
	lastSeq      int64 // highest sequence number seen, accepted or not
	strikes      int
	closed       bool
	eventsClosed bool

	inbound chan chunkMsg
	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	reason  string
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() model.SessionMode { return s.mode }

// Events is the outbound stream the transport layer drains. It is closed
// when the session ends, after a final session_closed notification.
func (s *Session) Events() <-chan Event { return s.events }

// Record returns the session's descriptive snapshot.
func (s *Session) Record() model.StreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.StreamSession{
		SessionID:   s.id,
		Mode:        s.mode,
		ConnectedAt: s.connectedAt,
		LastSeq:     s.lastSeq,
	}
}

// Open establishes a session and starts its processing goroutine.
func (sm *SessionManager) Open(mode model.SessionMode) (*Session, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unsupported session mode %q", mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.New().String(),
		mode:        mode,
		connectedAt: time.Now(),
		inbound:     make(chan chunkMsg, 32),
		events:      make(chan Event, 64),
		ctx:         ctx,
		cancel:      cancel,
	}
	ctx = context.WithValue(ctx, logger.SessionIDKey, s.id)
	s.ctx = ctx

	sm.mu.Lock()
	sm.sessions[s.id] = s
	sm.mu.Unlock()

	go sm.run(s)

	logger.Info(ctx, "realtime session opened", "mode", mode)
	return s, nil
}

// Get returns the open session or nil.
func (sm *SessionManager) Get(sessionID string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions[sessionID]
}

// Count returns the number of open sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Push delivers one chunk to the session. The sequence number must be
// exactly one past the highest seen so far; out-of-order chunks are
// rejected and counted as strikes. A rejected gap still advances the
// stream position, so a late predecessor arriving afterwards is rejected
// too, never retroactively accepted.
func (sm *SessionManager) Push(sessionID string, audio []byte, seq int64) error {
	s := sm.Get(sessionID)
	if s == nil {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if seq != s.lastSeq+1 {
		s.strikes++
		strikes := s.strikes
		expected := s.lastSeq + 1
		if seq > s.lastSeq {
			s.lastSeq = seq
		}
		s.mu.Unlock()

		s.emit(Event{
			Type:     EventError,
			Sequence: seq,
			Error:    fmt.Sprintf("out of order: got %d, expected %d", seq, expected),
		})
		if strikes >= sm.maxStrikes {
			sm.CloseWithReason(sessionID, "too many out-of-order chunks")
		}
		return fmt.Errorf("%w: got %d, expected %d", ErrOutOfOrder, seq, expected)
	}
	s.lastSeq = seq
	s.mu.Unlock()

	select {
	case s.inbound <- chunkMsg{seq: seq, audio: audio}:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// Close releases the session. Idempotent; an in-flight adapter call is
// cancelled promptly through the session context.
func (sm *SessionManager) Close(sessionID string) {
	sm.CloseWithReason(sessionID, "closed by client")
}

// CloseWithReason closes a session recording why, so the final notification
// tells the client what happened.
func (sm *SessionManager) CloseWithReason(sessionID, reason string) {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	s.mu.Unlock()

	s.cancel()
	logger.Info(s.ctx, "realtime session closed", "reason", reason)
}

// run is the per-session task: consume chunks in order, feed the adapter,
// forward emissions, and enforce the idle timeout.
func (sm *SessionManager) run(s *Session) {
	defer s.closeEvents()

	idle := time.NewTimer(sm.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.emit(Event{Type: EventSessionClosed, Reason: s.closeReason()})
			return

		case <-idle.C:
			s.emit(Event{Type: EventSessionClosed, Reason: "idle timeout"})
			sm.CloseWithReason(s.id, "idle timeout")
			<-s.ctx.Done()
			return

		case msg := <-s.inbound:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(sm.idleTimeout)
			sm.process(s, msg)
		}
	}
}

// process runs one chunk through the adapter for the session's mode and
// emits whatever it produced.
func (sm *SessionManager) process(s *Session, msg chunkMsg) {
	switch s.mode {
	case model.ModeNoiseReduction:
		clean, err := sm.adapters.NoiseReducer.Denoise(s.ctx, msg.audio)
		if err != nil {
			sm.emitAdapterError(s, msg.seq, err)
			return
		}
		s.emit(Event{
			Type:     EventCleanAudio,
			Sequence: msg.seq,
			Audio:    base64.StdEncoding.EncodeToString(clean),
		})

	case model.ModeTranscription:
		transcript, err := sm.adapters.Transcriber.Transcribe(s.ctx, msg.audio)
		if err != nil {
			sm.emitAdapterError(s, msg.seq, err)
			return
		}
		// An adapter may batch or split; one transcript event per segment,
		// or a single event when only plain text came back.
		if len(transcript.Segments) == 0 {
			if text := strings.TrimSpace(transcript.Plain); text != "" {
				s.emit(Event{Type: EventTranscript, Sequence: msg.seq, Text: text})
			}
			return
		}
		for _, seg := range transcript.Segments {
			s.emit(Event{Type: EventTranscript, Sequence: msg.seq, Text: strings.TrimSpace(seg.Text)})
		}
	}
}

func (sm *SessionManager) emitAdapterError(s *Session, seq int64, err error) {
	if s.ctx.Err() != nil {
		return
	}
	logger.Warn(s.ctx, "realtime adapter error", "error", err)
	s.emit(Event{Type: EventError, Sequence: seq, Error: err.Error()})
}

// emit pushes an event without blocking; a client too slow to drain its
// buffer loses the oldest pending emissions first. Sends are serialized
// with closeEvents under the session lock: Push and TranscribeOnce emit
// from goroutines that may outlive the session, and a send racing the
// channel close would take the process down.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}

// closeEvents marks the outbound stream closed before closing the channel,
// so no straggling emit can send afterwards. Called only by run on exit.
func (s *Session) closeEvents() {
	s.mu.Lock()
	s.eventsClosed = true
	s.mu.Unlock()
	close(s.events)
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		return "closed"
	}
	return s.reason
}

// TranscribeOnce runs a one-shot transcription outside the sequenced chunk
// stream and emits the result on the session. Used for the transcribe_audio
// client event, where a whole buffer arrives at once.
func (sm *SessionManager) TranscribeOnce(sessionID string, audio []byte) error {
	s := sm.Get(sessionID)
	if s == nil {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	go func() {
		transcript, err := sm.adapters.Transcriber.Transcribe(s.ctx, audio)
		if err != nil {
			sm.emitAdapterError(s, 0, err)
			return
		}
		if text := strings.TrimSpace(transcript.ToPlain()); text != "" {
			s.emit(Event{Type: EventTranscript, Text: text})
		}
	}()
	return nil
}

// CloseAll shuts every open session down, used on server shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.Unlock()
	for _, id := range ids {
		sm.CloseWithReason(id, "server shutting down")
	}
}
