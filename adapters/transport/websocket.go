package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Speech fragments carry a
	// base64 WAV per sentence.
	maxMessageSize = 16 * 1024 * 1024

	// Outbound frames buffered before Send reports backpressure.
	sendBufferSize = 256

	// How long to wait for the peer to answer a close frame.
	closeGracePeriod = 2 * time.Second
)

// HeaderFunc builds the handshake headers. It is called once per dial so
// that short-lived credentials are fresh on every reconnect.
type HeaderFunc func() (http.Header, error)

// StaticHeader sends the same headers with every handshake
func StaticHeader(header http.Header) HeaderFunc {
	return func() (http.Header, error) {
		return header, nil
	}
}

// Dialer opens websocket connections to the speech service
type Dialer struct {
	dialer *websocket.Dialer
	header HeaderFunc
	logger *zap.Logger
}

var _ repositories.Dialer = (*Dialer)(nil)

// NewDialer creates a websocket dialer. A nil header sends no extra headers.
func NewDialer(header HeaderFunc, logger *zap.Logger) *Dialer {
	if header == nil {
		header = StaticHeader(nil)
	}
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  16 * 1024,
		},
		header: header,
		logger: logger,
	}
}

// Dial performs the websocket handshake and starts the write pump
func (d *Dialer) Dial(ctx context.Context, url string) (repositories.Conn, error) {
	header, err := d.header()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build handshake headers: %v", domain.ErrTransport, err)
	}

	ws, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: failed to dial %s: status %d: %v", domain.ErrTransport, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: failed to dial %s: %v", domain.ErrTransport, url, err)
	}

	conn := newConn(ws, d.logger.With(zap.String("url", url)))
	go conn.writePump()
	return conn, nil
}

type closeRequest struct {
	code   int
	reason string
}

// Conn is a websocket connection with a single writer goroutine
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	send     chan repositories.Frame
	closeReq chan closeRequest
	done     chan struct{}

	closing  atomic.Bool
	readInit sync.Once
	stopOnce sync.Once
}

var _ repositories.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		ws:       ws,
		logger:   logger,
		send:     make(chan repositories.Frame, sendBufferSize),
		closeReq: make(chan closeRequest, 1),
		done:     make(chan struct{}),
	}
}

// Send queues frame for the write pump
func (c *Conn) Send(frame repositories.Frame) error {
	if c.closing.Load() {
		return fmt.Errorf("%w: connection closing", domain.ErrTransport)
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: connection closed", domain.ErrTransport)
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", domain.ErrTransport)
	}
}

// Receive reads the next data frame. Ping and pong frames are handled
// internally.
func (c *Conn) Receive() (repositories.Frame, error) {
	c.readInit.Do(func() {
		c.ws.SetReadLimit(maxMessageSize)
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			c.ws.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown()
			return repositories.Frame{}, toCloseError(err)
		}

		switch messageType {
		case websocket.TextMessage:
			return repositories.Frame{Type: repositories.TextFrame, Payload: payload}, nil
		case websocket.BinaryMessage:
			return repositories.Frame{Type: repositories.BinaryFrame, Payload: payload}, nil
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// Close writes queued frames, then a close frame with code and reason. The
// socket is dropped if the peer does not answer within the grace period.
func (c *Conn) Close(code int, reason string) error {
	if c.closing.Swap(true) {
		return nil
	}
	select {
	case c.closeReq <- closeRequest{code: code, reason: reason}:
	default:
	}
	return nil
}

// writePump pumps queued frames to the websocket connection
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.shutdown()
				return
			}

		case req := <-c.closeReq:
			c.drain()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason))
			if err != nil {
				c.logger.Warn("Failed to write close message", zap.Error(err))
				c.shutdown()
				return
			}
			time.AfterFunc(closeGracePeriod, c.shutdown)
			return

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			return
		}
	}
}

// drain writes frames queued before the close request
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Warn("Failed to flush message before close", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(frame repositories.Frame) error {
	messageType := websocket.BinaryMessage
	if frame.Type == repositories.TextFrame {
		messageType = websocket.TextMessage
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, frame.Payload)
}

func (c *Conn) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func toCloseError(err error) *repositories.CloseError {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &repositories.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
	}
	return &repositories.CloseError{Code: repositories.CloseAbnormalClosure, Reason: err.Error()}
}
