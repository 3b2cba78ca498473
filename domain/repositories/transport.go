package repositories

import (
	"context"
	"fmt"
)

// FrameType distinguishes text frames from binary frames
type FrameType int

const (
	TextFrame FrameType = iota + 1
	BinaryFrame
)

func (t FrameType) String() string {
	switch t {
	case TextFrame:
		return "text"
	case BinaryFrame:
		return "binary"
	default:
		return fmt.Sprintf("frame(%d)", int(t))
	}
}

// Frame is one message on the duplex channel
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Close codes used by the client, as defined by RFC 6455
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// CloseError reports how a connection ended
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed with code %d", e.Code)
	}
	return fmt.Sprintf("connection closed with code %d: %s", e.Code, e.Reason)
}

// Dialer opens duplex message channels to the speech service
type Dialer interface {
	// Dial opens a connection; the context only bounds the handshake
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is an open duplex message channel
type Conn interface {
	// Send queues a frame for transmission. It never blocks; frames are
	// written in the order they were queued.
	Send(frame Frame) error
	// Receive blocks until the next inbound frame. When the channel ends it
	// returns a *CloseError carrying the close code and reason.
	Receive() (Frame, error)
	// Close starts the closing handshake after queued frames are written
	Close(code int, reason string) error
}
