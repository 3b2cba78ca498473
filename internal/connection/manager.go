package connection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/metrics"
	"github.com/satriahrh/voicelink/internal/protocol"
)

const (
	// DefaultReconnectDelay is the wait before redialing after an abnormal closure
	DefaultReconnectDelay = 3000 * time.Millisecond

	dialTimeout = 15 * time.Second
)

// Status of the current connection instance
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handlers receive connection events on the event loop
type Handlers struct {
	OnMessage      func(msg protocol.Message)
	OnConnectivity func(state entities.Connectivity)
}

// Config holds connection manager settings
type Config struct {
	URL            string
	ReconnectDelay time.Duration
}

// Manager owns the single connection to the speech service and reconnects
// after abnormal closures. All methods must be called on the event loop.
type Manager struct {
	loop    *eventloop.Loop
	dialer  repositories.Dialer
	decoder *protocol.MessageDecoder
	metrics *metrics.Metrics
	logger  *zap.Logger

	url            string
	reconnectDelay time.Duration
	handlers       Handlers

	conn        repositories.Conn
	generation  uint64
	status      Status
	closeCode   int
	closeReason string
	reconnect   eventloop.Timer
	cancelDial  context.CancelFunc
	shutdown    bool
}

// NewManager creates a new connection manager
func NewManager(loop *eventloop.Loop, dialer repositories.Dialer, config Config, m *metrics.Metrics, logger *zap.Logger) *Manager {
	delay := config.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Manager{
		loop:           loop,
		dialer:         dialer,
		decoder:        protocol.NewMessageDecoder(),
		metrics:        m,
		logger:         logger,
		url:            config.URL,
		reconnectDelay: delay,
		status:         StatusClosed,
	}
}

// Subscribe sets the event handlers. It is called once, before Connect.
func (m *Manager) Subscribe(handlers Handlers) {
	m.handlers = handlers
}

// Status returns the status of the current connection instance
func (m *Manager) Status() Status {
	return m.status
}

// Generation identifies the current connection instance. It changes on
// every dial.
func (m *Manager) Generation() uint64 {
	return m.generation
}

// CloseInfo returns the code and reason of the last closure
func (m *Manager) CloseInfo() (int, string) {
	return m.closeCode, m.closeReason
}

// Connect dials a new connection unless one is connecting or open
func (m *Manager) Connect() {
	if m.shutdown {
		return
	}
	if m.status == StatusConnecting || m.status == StatusOpen {
		return
	}
	m.stopReconnect()

	m.generation++
	generation := m.generation
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	m.cancelDial = cancel
	m.metrics.RecordConnectAttempt()
	m.setStatus(StatusConnecting)

	m.logger.Info("Connecting to speech service",
		zap.String("url", m.url),
		zap.Uint64("generation", generation))

	go func() {
		conn, err := m.dialer.Dial(ctx, m.url)
		cancel()
		posted := m.loop.Post(func() {
			m.handleDial(generation, conn, err)
		})
		if !posted && conn != nil {
			_ = conn.Close(repositories.CloseNormalClosure, "client closing")
		}
	}()
}

// Send transmits frame only when the connection is open
func (m *Manager) Send(frame repositories.Frame) bool {
	if m.status != StatusOpen || m.conn == nil {
		m.logger.Debug("Dropping outbound frame, connection not open",
			zap.String("status", m.status.String()),
			zap.Stringer("frameType", frame.Type))
		return false
	}
	if err := m.conn.Send(frame); err != nil {
		m.logger.Warn("Failed to queue outbound frame",
			zap.Stringer("frameType", frame.Type),
			zap.Error(err))
		return false
	}
	return true
}

// Close tears the connection down with a normal closure. No reconnect follows.
func (m *Manager) Close() {
	if m.shutdown {
		return
	}
	m.shutdown = true
	m.stopReconnect()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	switch m.status {
	case StatusOpen:
		m.setStatus(StatusClosing)
		if err := m.conn.Close(repositories.CloseNormalClosure, "client closing"); err != nil {
			m.logger.Warn("Failed to close connection", zap.Error(err))
		}
	case StatusConnecting:
		// a dial result arriving later carries a stale generation
		m.generation++
		m.closeCode = repositories.CloseNormalClosure
		m.closeReason = "client closing"
		m.setStatus(StatusClosed)
	}
	m.logger.Info("Connection manager closed")
}

func (m *Manager) handleDial(generation uint64, conn repositories.Conn, err error) {
	if generation != m.generation || m.shutdown {
		if conn != nil {
			_ = conn.Close(repositories.CloseNormalClosure, "client closing")
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn("Failed to connect to speech service",
			zap.String("url", m.url),
			zap.Error(err))
		m.handleClosed(generation, repositories.CloseAbnormalClosure, err.Error())
		return
	}

	m.conn = conn
	m.setStatus(StatusOpen)
	m.logger.Info("Connected to speech service", zap.Uint64("generation", generation))
	go m.readPump(generation, conn)
}

// readPump forwards inbound frames to the loop in arrival order
func (m *Manager) readPump(generation uint64, conn repositories.Conn) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			code, reason := closeDetails(err)
			m.loop.Post(func() {
				m.handleClosed(generation, code, reason)
			})
			return
		}
		m.loop.Post(func() {
			m.handleFrame(generation, frame)
		})
	}
}

func (m *Manager) handleFrame(generation uint64, frame repositories.Frame) {
	if generation != m.generation {
		return
	}
	msg, err := m.decoder.DecodeFrame(frame)
	if err != nil {
		m.metrics.RecordFrame(true)
		m.logger.Warn("Dropping malformed frame",
			zap.Stringer("frameType", frame.Type),
			zap.Int("size", len(frame.Payload)),
			zap.Error(err))
		return
	}
	m.metrics.RecordFrame(false)
	if m.handlers.OnMessage != nil {
		m.handlers.OnMessage(msg)
	}
}

func (m *Manager) handleClosed(generation uint64, code int, reason string) {
	if generation != m.generation || m.status == StatusClosed {
		return
	}
	m.conn = nil
	m.closeCode = code
	m.closeReason = reason
	m.setStatus(StatusClosed)

	normal := isNormalClosure(code)
	m.logger.Info("Connection closed",
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Bool("normal", normal))

	if m.shutdown {
		return
	}
	m.metrics.RecordClosure(normal)
	if normal {
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if m.reconnect != nil {
		return
	}
	m.logger.Info("Scheduling reconnect", zap.Duration("delay", m.reconnectDelay))
	m.reconnect = m.loop.AfterFunc(m.reconnectDelay, func() {
		m.reconnect = nil
		m.Connect()
	})
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) setStatus(status Status) {
	if m.status == status {
		return
	}
	m.status = status

	var connectivity entities.Connectivity
	switch status {
	case StatusConnecting:
		connectivity = entities.ConnectivityConnecting
	case StatusOpen:
		connectivity = entities.ConnectivityConnected
	case StatusClosed:
		connectivity = entities.ConnectivityDisconnected
	default:
		return
	}
	m.metrics.SetConnectivity(connectivity)
	if m.handlers.OnConnectivity != nil {
		m.handlers.OnConnectivity(connectivity)
	}
}

func isNormalClosure(code int) bool {
	return code == repositories.CloseNormalClosure || code == repositories.CloseGoingAway
}

func closeDetails(err error) (int, string) {
	var closeErr *repositories.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Reason
	}
	return repositories.CloseAbnormalClosure, err.Error()
}
