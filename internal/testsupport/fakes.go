// Package testsupport holds in-memory adapters and helpers shared by the
// component tests.
package testsupport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/eventloop"
)

// StartLoop runs a loop for the duration of the test
func StartLoop(t *testing.T, clk clock.Clock) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(clk, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// OnLoop runs fn on the loop and waits for it
func OnLoop(t *testing.T, loop *eventloop.Loop, fn func()) {
	t.Helper()
	require.NoError(t, loop.Call(context.Background(), fn))
}

type connEvent struct {
	frame repositories.Frame
	err   error
}

// FakeConn is an in-memory duplex connection
type FakeConn struct {
	mu         sync.Mutex
	sent       []repositories.Frame
	closeCalls []int
	sendErr    error

	events chan connEvent
}

// NewFakeConn creates an open fake connection
func NewFakeConn() *FakeConn {
	return &FakeConn{events: make(chan connEvent, 256)}
}

// Send records the frame
func (c *FakeConn) Send(frame repositories.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, frame)
	return nil
}

// Receive returns injected frames and closures in order
func (c *FakeConn) Receive() (repositories.Frame, error) {
	ev := <-c.events
	return ev.frame, ev.err
}

// Close records the call and ends the receive side with the given code
func (c *FakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCalls = append(c.closeCalls, code)
	first := len(c.closeCalls) == 1
	c.mu.Unlock()
	if first {
		c.events <- connEvent{err: &repositories.CloseError{Code: code, Reason: reason}}
	}
	return nil
}

// Deliver injects an inbound text frame
func (c *FakeConn) Deliver(payload string) {
	c.events <- connEvent{frame: repositories.Frame{Type: repositories.TextFrame, Payload: []byte(payload)}}
}

// DeliverFrame injects an arbitrary inbound frame
func (c *FakeConn) DeliverFrame(frame repositories.Frame) {
	c.events <- connEvent{frame: frame}
}

// Drop simulates the server or network ending the connection
func (c *FakeConn) Drop(code int, reason string) {
	c.events <- connEvent{err: &repositories.CloseError{Code: code, Reason: reason}}
}

// FailSends makes subsequent sends return err
func (c *FakeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Sent returns the frames sent so far
func (c *FakeConn) Sent() []repositories.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]repositories.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentText returns the payloads of sent text frames
func (c *FakeConn) SentText() []string {
	var out []string
	for _, f := range c.Sent() {
		if f.Type == repositories.TextFrame {
			out = append(out, string(f.Payload))
		}
	}
	return out
}

// SentBinary returns the sent binary frames
func (c *FakeConn) SentBinary() [][]byte {
	var out [][]byte
	for _, f := range c.Sent() {
		if f.Type == repositories.BinaryFrame {
			out = append(out, f.Payload)
		}
	}
	return out
}

// CloseCalls returns the codes passed to Close
func (c *FakeConn) CloseCalls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCalls...)
}

// FakeDialer hands out FakeConns, or fails while an error is set
type FakeDialer struct {
	mu    sync.Mutex
	err   error
	urls  []string
	conns []*FakeConn
	gate  chan struct{}
}

// NewFakeDialer creates a dialer that succeeds
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial records the attempt and returns a new connection
func (d *FakeDialer) Dial(ctx context.Context, url string) (repositories.Conn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		// a held handshake completes even if the caller gave up
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	conn := NewFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Fail makes subsequent dials fail with err; nil restores success
func (d *FakeDialer) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Hold blocks dials, regardless of their context, until release is called
func (d *FakeDialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.gate = nil
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Dials returns the number of dial attempts that completed
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// Conns returns the connections handed out
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeConn(nil), d.conns...)
}

// Last returns the most recent connection
func (d *FakeDialer) Last() *FakeConn {
	conns := d.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// ErrDeviceDenied is returned by a FakeCaptureDevice that refuses access
var ErrDeviceDenied = errors.New("fake capture device denied")

// FakeCaptureDevice records acquisitions and lets tests push audio
type FakeCaptureDevice struct {
	mu      sync.Mutex
	err     error
	opens   int
	streams []*FakeCaptureStream
}

// NewFakeCaptureDevice creates a device that grants access
func NewFakeCaptureDevice() *FakeCaptureDevice {
	return &FakeCaptureDevice{}
}

// Deny makes subsequent opens fail with err
func (d *FakeCaptureDevice) Deny(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Open acquires the fake device
func (d *FakeCaptureDevice) Open(ctx context.Context, format entities.AudioFormat, onData func([]byte)) (repositories.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	stream := &FakeCaptureStream{onData: onData, format: format}
	d.streams = append(d.streams, stream)
	return stream, nil
}

// Opens returns the number of acquisition attempts
func (d *FakeCaptureDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Active returns the most recent stream
func (d *FakeCaptureDevice) Active() *FakeCaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// FakeCaptureStream is an acquired fake device
type FakeCaptureStream struct {
	mu     sync.Mutex
	onData func([]byte)
	format entities.AudioFormat
	closed bool
}

// Push delivers pcm as the device callback would
func (s *FakeCaptureStream) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onData(pcm)
}

// Close releases the fake device
func (s *FakeCaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether the stream was released
func (s *FakeCaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakePlayer produces tracks whose completion the test controls
type FakePlayer struct {
	mu        sync.Mutex
	tracks    []*FakeTrack
	playing   int
	maxActive int
	started   []string
}

// NewFakePlayer creates a fake player
func NewFakePlayer() *FakePlayer {
	return &FakePlayer{}
}

// Prepare wraps audio in a FakeTrack
func (p *FakePlayer) Prepare(audio []byte) repositories.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	track := &FakeTrack{player: p, audio: string(audio)}
	p.tracks = append(p.tracks, track)
	return track
}

// Tracks returns every prepared track
func (p *FakePlayer) Tracks() []*FakeTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeTrack(nil), p.tracks...)
}

// Started returns the audio of played tracks in start order
func (p *FakePlayer) Started() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

// MaxConcurrent returns the highest number of tracks playing at once
func (p *FakePlayer) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Playing returns the track currently playing, if any
func (p *FakePlayer) Playing() *FakeTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tracks {
		if t.playing {
			return t
		}
	}
	return nil
}

// FakeTrack is a track finished by Finish
type FakeTrack struct {
	player   *FakePlayer
	audio    string
	done     func(error)
	plays    int
	playing  bool
	released int
}

// Play marks the track as playing
func (t *FakeTrack) Play(done func(error)) {
	p := t.player
	p.mu.Lock()
	defer p.mu.Unlock()
	t.plays++
	t.playing = true
	t.done = done
	p.started = append(p.started, t.audio)
	p.playing++
	if p.playing > p.maxActive {
		p.maxActive = p.playing
	}
}

// Finish ends playback with err
func (t *FakeTrack) Finish(err error) {
	p := t.player
	p.mu.Lock()
	done := t.done
	if t.playing {
		t.playing = false
		p.playing--
	}
	t.done = nil
	p.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// Release frees the track
func (t *FakeTrack) Release() {
	p := t.player
	p.mu.Lock()
	defer p.mu.Unlock()
	t.released++
	if t.playing {
		t.playing = false
		p.playing--
	}
}

// Audio returns the payload the track was prepared from
func (t *FakeTrack) Audio() string {
	return t.audio
}

// Plays returns how many times Play was called
func (t *FakeTrack) Plays() int {
	t.player.mu.Lock()
	defer t.player.mu.Unlock()
	return t.plays
}

// Released returns how many times Release was called
func (t *FakeTrack) Released() int {
	t.player.mu.Lock()
	defer t.player.mu.Unlock()
	return t.released
}
