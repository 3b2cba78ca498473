package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/audio"
	"github.com/satriahrh/voicelink/internal/connection"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/metrics"
	"github.com/satriahrh/voicelink/internal/protocol"
)

// DefaultChunkInterval is the cadence at which captured audio is sent
const DefaultChunkInterval = 250 * time.Millisecond

// ErrCaptureActive is returned when Start is called on an active pipeline
var ErrCaptureActive = errors.New("capture already active")

// Sender is the outbound side of the connection. Generation identifies the
// connection instance so that each new socket gets its own WAV header.
type Sender interface {
	Status() connection.Status
	Generation() uint64
	Send(frame repositories.Frame) bool
}

type pipelineState int

const (
	stateIdle pipelineState = iota
	stateStarting
	stateRecording
	stateStopping
)

// Config holds capture pipeline settings
type Config struct {
	Format        entities.AudioFormat
	ChunkInterval time.Duration
}

// Pipeline turns device audio into outbound chunks for one utterance at a
// time. All methods must be called on the event loop.
type Pipeline struct {
	loop     *eventloop.Loop
	device   repositories.CaptureDevice
	sender   Sender
	format   entities.AudioFormat
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	state      pipelineState
	generation uint64
	stream     repositories.CaptureStream
	ticker     eventloop.Timer
	pending    []byte
	headerSent bool
	headerConn uint64
	chunks     int
}

// NewPipeline creates a new capture pipeline
func NewPipeline(loop *eventloop.Loop, device repositories.CaptureDevice, sender Sender, config Config, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	format := config.Format
	if format.SampleRate == 0 {
		format = entities.CaptureFormat
	}
	interval := config.ChunkInterval
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	return &Pipeline{
		loop:     loop,
		device:   device,
		sender:   sender,
		format:   format,
		interval: interval,
		metrics:  m,
		logger:   logger,
	}
}

// Active reports whether an utterance is being captured
func (p *Pipeline) Active() bool {
	return p.state != stateIdle
}

// Start acquires the capture device and begins streaming chunks. done is
// called on the loop once the device is acquired or acquisition failed.
func (p *Pipeline) Start(done func(err error)) {
	if p.state != stateIdle {
		p.logger.Error("Capture start requested while active")
		done(ErrCaptureActive)
		return
	}

	p.state = stateStarting
	p.generation++
	generation := p.generation
	p.pending = nil
	p.headerSent = false
	p.chunks = 0

	go func() {
		stream, err := p.device.Open(context.Background(), p.format, func(pcm []byte) {
			data := append([]byte(nil), pcm...)
			p.loop.Post(func() {
				p.handleData(generation, data)
			})
		})
		posted := p.loop.Post(func() {
			p.handleOpened(generation, stream, err, done)
		})
		if !posted && stream != nil {
			_ = stream.Close()
		}
	}()
}

// Stop ends the utterance: the device is released, buffered audio is sent
// as a final chunk and the end-of-utterance marker follows if the
// connection is open. done reports whether the marker was sent.
func (p *Pipeline) Stop(done func(sentinelSent bool)) {
	if p.state != stateRecording {
		p.logger.Warn("Capture stop requested while not recording")
		done(false)
		return
	}

	p.state = stateStopping
	p.stopTicker()
	stream := p.stream
	p.stream = nil
	generation := p.generation

	go func() {
		err := stream.Close()
		p.loop.Post(func() {
			p.handleStopped(generation, err, done)
		})
	}()
}

// Close abandons any utterance in progress and releases the device
func (p *Pipeline) Close() {
	if p.state == stateIdle {
		return
	}
	p.generation++
	p.stopTicker()
	p.pending = nil
	p.state = stateIdle
	if stream := p.stream; stream != nil {
		p.stream = nil
		go func() {
			if err := stream.Close(); err != nil {
				p.logger.Warn("Failed to release capture device", zap.Error(err))
			}
		}()
	}
}

func (p *Pipeline) handleOpened(generation uint64, stream repositories.CaptureStream, err error, done func(error)) {
	if generation != p.generation || p.state != stateStarting {
		if stream != nil {
			_ = stream.Close()
		}
		return
	}

	if err != nil {
		p.state = stateIdle
		p.pending = nil
		if !errors.Is(err, domain.ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
		p.logger.Warn("Failed to acquire capture device", zap.Error(err))
		done(err)
		return
	}

	p.stream = stream
	p.state = stateRecording
	p.ticker = p.loop.Every(p.interval, p.flush)
	p.logger.Info("Capture started",
		zap.Int("sampleRate", p.format.SampleRate),
		zap.Duration("chunkInterval", p.interval))
	done(nil)
}

func (p *Pipeline) handleData(generation uint64, pcm []byte) {
	if generation != p.generation || p.state == stateIdle {
		return
	}
	p.pending = append(p.pending, pcm...)
}

func (p *Pipeline) handleStopped(generation uint64, err error, done func(bool)) {
	if generation != p.generation || p.state != stateStopping {
		return
	}
	if err != nil {
		p.logger.Warn("Failed to release capture device", zap.Error(err))
	}

	p.flush()
	p.pending = nil
	p.state = stateIdle

	sent := false
	if p.sender.Status() == connection.StatusOpen {
		sent = p.sender.Send(protocol.EndOfUtteranceFrame())
	}
	p.metrics.RecordUtterance(sent)
	if sent {
		p.logger.Info("Utterance sent", zap.Int("chunks", p.chunks))
	} else {
		p.logger.Warn("End of utterance not delivered, connection not open", zap.Int("chunks", p.chunks))
	}
	done(sent)
}

// flush sends the buffered audio as one chunk. The first chunk of an
// utterance delivered over each connection instance carries the WAV header.
func (p *Pipeline) flush() {
	if len(p.pending) == 0 {
		return
	}
	pcm := p.pending
	p.pending = nil

	if p.sender.Status() != connection.StatusOpen {
		p.metrics.RecordChunk(len(pcm), false)
		p.logger.Debug("Dropping audio chunk, connection not open", zap.Int("size", len(pcm)))
		return
	}

	conn := p.sender.Generation()
	chunk := pcm
	if !p.headerSent || p.headerConn != conn {
		chunk = append(audio.StreamHeader(p.format), pcm...)
	}
	if !p.sender.Send(protocol.AudioChunkFrame(chunk)) {
		p.metrics.RecordChunk(len(chunk), false)
		return
	}
	if p.headerSent && p.headerConn != conn {
		p.logger.Info("Resending stream header on new connection", zap.Uint64("connGeneration", conn))
	}
	p.headerSent = true
	p.headerConn = conn
	p.chunks++
	p.metrics.RecordChunk(len(chunk), true)
}

func (p *Pipeline) stopTicker() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}
