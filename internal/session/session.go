package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/internal/connection"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/protocol"
)

// Connection is the part of the connection manager the session drives
type Connection interface {
	Subscribe(handlers connection.Handlers)
	Connect()
	Close()
}

// Capture is the part of the capture pipeline the session drives
type Capture interface {
	Start(done func(err error))
	Stop(done func(sentinelSent bool))
	Close()
}

// Playback is the part of the playback queue the session drives
type Playback interface {
	Enqueue(sentence string, audio []byte)
	EnqueueFailed(sentence string, err error)
	Close()
}

// Listener receives session events on the event loop. Implementations must
// not block.
type Listener interface {
	OnStateChange(state entities.SessionState)
	OnChatEntry(entry entities.ChatEntry)
	OnAlert(err error)
}

// Options tune session behavior
type Options struct {
	// Transcripts adds the server's transcript of each utterance to the chat
	Transcripts bool
}

// DefaultOptions returns the default session options
func DefaultOptions() Options {
	return Options{Transcripts: true}
}

// Session coordinates recording, waiting for a response and connectivity.
// Exported methods may be called from any goroutine; they post to the loop.
type Session struct {
	id       string
	loop     *eventloop.Loop
	conn     Connection
	capture  Capture
	playback Playback
	listener Listener
	options  Options
	logger   *zap.Logger

	state    entities.SessionState
	starting bool
	stopping bool
	closed   bool
}

// NewSession creates a session and subscribes it to connection events
func NewSession(loop *eventloop.Loop, conn Connection, capture Capture, playback Playback, listener Listener, options Options, logger *zap.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		loop:     loop,
		conn:     conn,
		capture:  capture,
		playback: playback,
		listener: listener,
		options:  options,
		logger:   logger.With(zap.String("sessionID", id)),
		state:    entities.SessionState{Connectivity: entities.ConnectivityDisconnected},
	}
	conn.Subscribe(connection.Handlers{
		OnMessage:      s.handleMessage,
		OnConnectivity: s.handleConnectivity,
	})
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Open starts connecting to the speech service
func (s *Session) Open() {
	s.loop.Post(func() {
		if s.closed {
			return
		}
		s.logger.Info("Session opened")
		s.conn.Connect()
	})
}

// StartRecording begins an utterance if the session is idle and connected
func (s *Session) StartRecording() {
	s.loop.Post(s.startRecording)
}

// StopRecording ends the current utterance
func (s *Session) StopRecording() {
	s.loop.Post(s.stopRecording)
}

// ToggleRecording stops an active utterance or starts a new one
func (s *Session) ToggleRecording() {
	s.loop.Post(func() {
		if s.state.Recording {
			s.stopRecording()
			return
		}
		s.startRecording()
	})
}

// State returns a snapshot of the session state
func (s *Session) State(ctx context.Context) (entities.SessionState, error) {
	var state entities.SessionState
	err := s.loop.Call(ctx, func() { state = s.state })
	return state, err
}

// Close tears the session down and waits until teardown ran on the loop
func (s *Session) Close(ctx context.Context) error {
	return s.loop.Call(ctx, s.close)
}

func (s *Session) startRecording() {
	if s.closed {
		return
	}
	if s.starting || s.stopping || !s.state.CanStartRecording() {
		s.logger.Debug("Recording start refused",
			zap.String("phase", string(s.state.Phase())),
			zap.String("connectivity", string(s.state.Connectivity)),
			zap.Bool("starting", s.starting),
			zap.Bool("stopping", s.stopping))
		return
	}

	s.starting = true
	s.capture.Start(func(err error) {
		s.starting = false
		if s.closed {
			return
		}
		if err != nil {
			s.logger.Warn("Failed to start recording", zap.Error(err))
			s.alert(err)
			return
		}
		s.state.Recording = true
		s.logger.Info("Recording started")
		s.publish()
	})
}

func (s *Session) stopRecording() {
	if s.closed || !s.state.Recording {
		return
	}

	s.state.Recording = false
	s.stopping = true
	s.publish()

	s.capture.Stop(func(sentinelSent bool) {
		s.stopping = false
		if s.closed {
			return
		}
		if !sentinelSent {
			s.logger.Warn("Utterance ended without reaching the server")
			s.alert(domain.ErrEndOfTurnLost)
			return
		}
		s.state.AwaitingResponse = true
		s.logger.Info("Recording stopped, awaiting response")
		s.publish()
	})
}

func (s *Session) handleMessage(msg protocol.Message) {
	if s.closed {
		return
	}

	switch m := msg.(type) {
	case *protocol.TranscriptMessage:
		if !s.options.Transcripts {
			s.logger.Debug("Transcript hidden", zap.Int("length", len(m.Text)))
			return
		}
		s.appendChat(entities.MessageRoleUser, m.Text)

	case *protocol.SpeechFragmentMessage:
		s.appendChat(entities.MessageRoleAssistant, m.Sentence)
		if m.AudioErr != nil {
			s.playback.EnqueueFailed(m.Sentence, m.AudioErr)
			return
		}
		s.playback.Enqueue(m.Sentence, m.Audio)

	case *protocol.StreamCompleteMessage:
		if !s.state.AwaitingResponse {
			s.logger.Debug("Response complete while not awaiting one")
			return
		}
		s.state.AwaitingResponse = false
		s.logger.Info("Response complete")
		s.publish()
	}
}

func (s *Session) handleConnectivity(connectivity entities.Connectivity) {
	if s.closed || s.state.Connectivity == connectivity {
		return
	}
	s.state.Connectivity = connectivity
	s.logger.Info("Connectivity changed", zap.String("connectivity", string(connectivity)))
	s.publish()
}

func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.capture.Close()
	s.playback.Close()
	s.conn.Close()
	s.state.Recording = false
	s.state.AwaitingResponse = false
	s.logger.Info("Session closed")
}

func (s *Session) appendChat(role entities.MessageRole, text string) {
	s.listener.OnChatEntry(entities.ChatEntry{
		Role:       role,
		Text:       text,
		ReceivedAt: s.loop.Clock().Now().UTC().Truncate(time.Millisecond),
	})
}

func (s *Session) publish() {
	s.listener.OnStateChange(s.state)
}

func (s *Session) alert(err error) {
	s.listener.OnAlert(err)
}
