package capture

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/audio"
	"github.com/satriahrh/voicelink/internal/connection"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/testsupport"
)

type fakeSender struct {
	mu         sync.Mutex
	status     connection.Status
	generation uint64
	frames     []repositories.Frame
}

func (s *fakeSender) Status() connection.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSender) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *fakeSender) Send(frame repositories.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != connection.StatusOpen {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSender) setStatus(status connection.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// reconnect simulates a new connection instance becoming open
func (s *fakeSender) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.status = connection.StatusOpen
}

func (s *fakeSender) sent() []repositories.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repositories.Frame(nil), s.frames...)
}

type fixture struct {
	loop     *eventloop.Loop
	clock    *clock.Mock
	device   *testsupport.FakeCaptureDevice
	sender   *fakeSender
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	loop := testsupport.StartLoop(t, mock)
	device := testsupport.NewFakeCaptureDevice()
	sender := &fakeSender{status: connection.StatusOpen}
	pipeline := NewPipeline(loop, device, sender, Config{}, nil, zaptest.NewLogger(t))
	return &fixture{loop: loop, clock: mock, device: device, sender: sender, pipeline: pipeline}
}

func (f *fixture) start(t *testing.T) error {
	t.Helper()
	result := make(chan error, 1)
	testsupport.OnLoop(t, f.loop, func() {
		f.pipeline.Start(func(err error) { result <- err })
	})
	select {
	case err := <-result:
		return err
	case <-time.After(time.Second):
		t.Fatal("start never completed")
		return nil
	}
}

func (f *fixture) stop(t *testing.T) bool {
	t.Helper()
	result := make(chan bool, 1)
	testsupport.OnLoop(t, f.loop, func() {
		f.pipeline.Stop(func(sent bool) { result <- sent })
	})
	select {
	case sent := <-result:
		return sent
	case <-time.After(time.Second):
		t.Fatal("stop never completed")
		return false
	}
}

// push delivers pcm and waits until the loop has buffered it
func (f *fixture) push(t *testing.T, pcm []byte) {
	t.Helper()
	f.device.Active().Push(pcm)
	testsupport.OnLoop(t, f.loop, func() {})
}

func (f *fixture) tick(t *testing.T, wantFrames int) {
	t.Helper()
	f.clock.Add(DefaultChunkInterval)
	require.Eventually(t, func() bool { return len(f.sender.sent()) == wantFrames }, time.Second, 2*time.Millisecond)
}

func TestChunksAreSentOnEachTick(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))

	f.push(t, bytes.Repeat([]byte{1}, 4000))
	f.push(t, bytes.Repeat([]byte{2}, 4000))
	f.tick(t, 1)

	f.push(t, bytes.Repeat([]byte{3}, 8000))
	f.tick(t, 2)

	frames := f.sender.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, repositories.BinaryFrame, frames[0].Type)

	header := audio.StreamHeader(entities.CaptureFormat)
	assert.Equal(t, header, frames[0].Payload[:len(header)])
	assert.Len(t, frames[0].Payload, len(header)+8000)
	assert.Equal(t, bytes.Repeat([]byte{3}, 8000), frames[1].Payload)
}

func TestEmptyTickSendsNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))

	f.clock.Add(DefaultChunkInterval)
	time.Sleep(20 * time.Millisecond)
	testsupport.OnLoop(t, f.loop, func() {})
	assert.Empty(t, f.sender.sent())
}

func TestStopFlushesAndSendsEndOfUtterance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))
	stream := f.device.Active()

	f.push(t, []byte{1, 0, 2, 0})
	f.tick(t, 1)
	f.push(t, []byte{3, 0})

	assert.True(t, f.stop(t))
	assert.True(t, stream.Closed())

	frames := f.sender.sent()
	require.Len(t, frames, 3)
	assert.Equal(t, []byte{3, 0}, frames[1].Payload)
	assert.Equal(t, repositories.TextFrame, frames[2].Type)
	assert.Equal(t, "<END>", string(frames[2].Payload))

	testsupport.OnLoop(t, f.loop, func() { assert.False(t, f.pipeline.Active()) })
}

func TestStopWhileDisconnected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))

	f.sender.setStatus(connection.StatusClosed)
	f.push(t, []byte{1, 0})
	f.clock.Add(DefaultChunkInterval)
	time.Sleep(20 * time.Millisecond)
	f.push(t, []byte{2, 0})

	assert.False(t, f.stop(t))
	assert.Empty(t, f.sender.sent())
}

func TestHeaderWaitsForFirstDeliveredChunk(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))

	f.sender.setStatus(connection.StatusClosed)
	f.push(t, []byte{1, 0})
	f.clock.Add(DefaultChunkInterval)
	time.Sleep(20 * time.Millisecond)

	f.sender.setStatus(connection.StatusOpen)
	f.push(t, []byte{2, 0})
	f.tick(t, 1)

	frames := f.sender.sent()
	header := audio.StreamHeader(entities.CaptureFormat)
	assert.Equal(t, append(header, 2, 0), frames[0].Payload)
}

func TestHeaderIsResentOnNewConnection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))
	header := audio.StreamHeader(entities.CaptureFormat)

	f.push(t, []byte{1, 0})
	f.tick(t, 1)
	f.push(t, []byte{2, 0})
	f.tick(t, 2)

	f.sender.setStatus(connection.StatusClosed)
	f.push(t, []byte{3, 0})
	f.clock.Add(DefaultChunkInterval)
	time.Sleep(20 * time.Millisecond)

	f.sender.reconnect()
	f.push(t, []byte{4, 0})
	f.tick(t, 3)
	f.push(t, []byte{5, 0})
	f.tick(t, 4)

	frames := f.sender.sent()
	require.Len(t, frames, 4)
	assert.Equal(t, append(append([]byte(nil), header...), 1, 0), frames[0].Payload)
	assert.Equal(t, []byte{2, 0}, frames[1].Payload)
	assert.Equal(t, append(append([]byte(nil), header...), 4, 0), frames[2].Payload)
	assert.Equal(t, []byte{5, 0}, frames[3].Payload)
}

func TestStartFailureSurfacesPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.device.Deny(testsupport.ErrDeviceDenied)

	err := f.start(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	testsupport.OnLoop(t, f.loop, func() { assert.False(t, f.pipeline.Active()) })

	// a later attempt may succeed
	f.device.Deny(nil)
	require.NoError(t, f.start(t))
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))

	assert.ErrorIs(t, f.start(t), ErrCaptureActive)
	assert.Equal(t, 1, f.device.Opens())
}

func TestStopWhenIdleReportsNothingSent(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.stop(t))
	assert.Empty(t, f.sender.sent())
}

func TestCloseReleasesDevice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.start(t))
	stream := f.device.Active()
	f.push(t, []byte{1, 0})

	testsupport.OnLoop(t, f.loop, f.pipeline.Close)
	require.Eventually(t, stream.Closed, time.Second, 2*time.Millisecond)

	f.clock.Add(DefaultChunkInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.sender.sent())
}
