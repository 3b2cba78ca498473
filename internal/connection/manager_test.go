package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/protocol"
	"github.com/satriahrh/voicelink/internal/testsupport"
)

const testURL = "ws://localhost:8000/ws/audio"

type recorder struct {
	messages     []protocol.Message
	connectivity []entities.Connectivity
}

type fixture struct {
	loop    *eventloop.Loop
	clock   *clock.Mock
	dialer  *testsupport.FakeDialer
	manager *Manager
	events  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := clock.NewMock()
	loop := testsupport.StartLoop(t, mock)
	dialer := testsupport.NewFakeDialer()
	manager := NewManager(loop, dialer, Config{URL: testURL}, nil, zaptest.NewLogger(t))
	events := &recorder{}
	manager.Subscribe(Handlers{
		OnMessage:      func(msg protocol.Message) { events.messages = append(events.messages, msg) },
		OnConnectivity: func(c entities.Connectivity) { events.connectivity = append(events.connectivity, c) },
	})
	return &fixture{loop: loop, clock: mock, dialer: dialer, manager: manager, events: events}
}

func (f *fixture) status(t *testing.T) Status {
	var s Status
	testsupport.OnLoop(t, f.loop, func() { s = f.manager.Status() })
	return s
}

func (f *fixture) waitStatus(t *testing.T, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return f.status(t) == want }, time.Second, 2*time.Millisecond,
		"status never became %s", want)
}

func (f *fixture) connect(t *testing.T) *testsupport.FakeConn {
	t.Helper()
	testsupport.OnLoop(t, f.loop, f.manager.Connect)
	f.waitStatus(t, StatusOpen)
	return f.dialer.Last()
}

func TestConnectOpensAndPublishesConnectivity(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	assert.Equal(t, 1, f.dialer.Dials())
	testsupport.OnLoop(t, f.loop, func() {
		assert.Equal(t, []entities.Connectivity{
			entities.ConnectivityConnecting,
			entities.ConnectivityConnected,
		}, f.events.connectivity)
	})
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	release := f.dialer.Hold()

	testsupport.OnLoop(t, f.loop, func() {
		f.manager.Connect()
		f.manager.Connect()
		assert.Equal(t, StatusConnecting, f.manager.Status())
	})
	release()
	f.waitStatus(t, StatusOpen)

	testsupport.OnLoop(t, f.loop, f.manager.Connect)
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestSendOnlyWhenOpen(t *testing.T) {
	f := newFixture(t)

	testsupport.OnLoop(t, f.loop, func() {
		assert.False(t, f.manager.Send(protocol.AudioChunkFrame([]byte{1})))
	})

	conn := f.connect(t)
	testsupport.OnLoop(t, f.loop, func() {
		assert.True(t, f.manager.Send(protocol.AudioChunkFrame([]byte{1})))
		assert.True(t, f.manager.Send(protocol.EndOfUtteranceFrame()))
	})
	assert.Len(t, conn.Sent(), 2)

	conn.FailSends(errors.New("buffer full"))
	testsupport.OnLoop(t, f.loop, func() {
		assert.False(t, f.manager.Send(protocol.AudioChunkFrame([]byte{2})))
	})
}

func TestInboundMessagesInArrivalOrder(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t)

	conn.Deliver(`{"type":"transcript","text":"hello"}`)
	conn.Deliver(`{"type":"bogus"}`)
	conn.Deliver(`not json`)
	conn.DeliverFrame(repositories.Frame{Type: repositories.BinaryFrame, Payload: []byte{0}})
	conn.Deliver(`{"type":"tts","sentence":"hi there","audio_base64":"AAA="}`)
	conn.Deliver(`{"type":"done"}`)

	require.Eventually(t, func() bool {
		var n int
		testsupport.OnLoop(t, f.loop, func() { n = len(f.events.messages) })
		return n == 3
	}, time.Second, 2*time.Millisecond)

	testsupport.OnLoop(t, f.loop, func() {
		assert.Equal(t, protocol.MessageTypeTranscript, f.events.messages[0].MessageType())
		assert.Equal(t, protocol.MessageTypeTTS, f.events.messages[1].MessageType())
		assert.Equal(t, protocol.MessageTypeDone, f.events.messages[2].MessageType())
		assert.Equal(t, StatusOpen, f.manager.Status())
	})
}

func TestAbnormalCloseReconnectsOnceAfterDelay(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t)

	conn.Drop(repositories.CloseAbnormalClosure, "network lost")
	f.waitStatus(t, StatusClosed)

	testsupport.OnLoop(t, f.loop, func() {
		code, reason := f.manager.CloseInfo()
		assert.Equal(t, 1006, code)
		assert.Equal(t, "network lost", reason)
		assert.Equal(t, entities.ConnectivityDisconnected, f.events.connectivity[len(f.events.connectivity)-1])
	})

	f.clock.Add(2999 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())

	f.clock.Add(time.Millisecond)
	f.waitStatus(t, StatusOpen)
	assert.Equal(t, 2, f.dialer.Dials())

	f.clock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	for _, code := range []int{repositories.CloseNormalClosure, repositories.CloseGoingAway} {
		code := code
		t.Run(closeName(code), func(t *testing.T) {
			f := newFixture(t)
			conn := f.connect(t)

			conn.Drop(code, "bye")
			f.waitStatus(t, StatusClosed)

			f.clock.Add(10 * time.Second)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 1, f.dialer.Dials())
			assert.Equal(t, StatusClosed, f.status(t))
		})
	}
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	f := newFixture(t)
	f.dialer.Fail(errors.New("connection refused"))

	testsupport.OnLoop(t, f.loop, f.manager.Connect)
	require.Eventually(t, func() bool { return f.dialer.Dials() == 1 }, time.Second, 2*time.Millisecond)
	f.waitStatus(t, StatusClosed)
	testsupport.OnLoop(t, f.loop, func() {
		code, _ := f.manager.CloseInfo()
		assert.Equal(t, repositories.CloseAbnormalClosure, code)
	})

	f.dialer.Fail(nil)
	f.clock.Add(DefaultReconnectDelay)
	f.waitStatus(t, StatusOpen)
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t)

	conn.Drop(repositories.CloseAbnormalClosure, "")
	f.waitStatus(t, StatusClosed)
	testsupport.OnLoop(t, f.loop, f.manager.Close)

	f.clock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())

	testsupport.OnLoop(t, f.loop, f.manager.Connect)
	assert.Equal(t, StatusClosed, f.status(t))
}

func TestCloseOpenConnectionUsesNormalClosure(t *testing.T) {
	f := newFixture(t)
	conn := f.connect(t)

	testsupport.OnLoop(t, f.loop, func() {
		f.manager.Close()
		assert.Equal(t, StatusClosing, f.manager.Status())
	})
	f.waitStatus(t, StatusClosed)
	assert.Equal(t, []int{repositories.CloseNormalClosure}, conn.CloseCalls())

	f.clock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestCloseWhileConnectingDiscardsLateDial(t *testing.T) {
	f := newFixture(t)
	release := f.dialer.Hold()

	testsupport.OnLoop(t, f.loop, f.manager.Connect)
	testsupport.OnLoop(t, f.loop, f.manager.Close)
	release()

	require.Eventually(t, func() bool {
		conn := f.dialer.Last()
		return conn != nil && len(conn.CloseCalls()) == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, StatusClosed, f.status(t))
}

func closeName(code int) string {
	if code == repositories.CloseGoingAway {
		return "going away"
	}
	return "normal closure"
}
