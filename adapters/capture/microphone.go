package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
)

const periodSizeMillis = 20

// Microphone captures the default input device through miniaudio
type Microphone struct {
	logger *zap.Logger
}

var _ repositories.CaptureDevice = (*Microphone)(nil)

// NewMicrophone creates a new microphone capture device
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{logger: logger}
}

// Open initializes an audio context and starts the capture device. Each
// acquisition gets its own context so a released microphone frees every
// native resource.
func (m *Microphone) Open(ctx context.Context, format entities.AudioFormat, onData func(pcm []byte)) (repositories.CaptureStream, error) {
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", domain.ErrPermissionDenied, format.BitsPerSample)
	}

	contextConfig := malgo.ContextConfig{}
	contextConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	audioCtx, err := malgo.InitContext(nil, contextConfig, func(message string) {
		m.logger.Debug("Audio backend", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init audio context: %v", domain.ErrPermissionDenied, err)
	}

	stream := &microphoneStream{audioCtx: audioCtx, onData: onData, logger: m.logger}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = periodSizeMillis

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: stream.handleSamples,
	})
	if err != nil {
		stream.releaseContext()
		return nil, fmt.Errorf("%w: failed to init microphone: %v", domain.ErrPermissionDenied, err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		stream.releaseContext()
		return nil, fmt.Errorf("%w: failed to start microphone: %v", domain.ErrPermissionDenied, err)
	}

	m.logger.Info("Microphone opened",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels))
	return stream, nil
}

type microphoneStream struct {
	audioCtx *malgo.AllocatedContext
	device   *malgo.Device
	logger   *zap.Logger

	mu     sync.Mutex
	onData func([]byte)
	closed bool
}

func (s *microphoneStream) handleSamples(_, input []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(input) == 0 {
		return
	}
	s.onData(input)
}

// Close stops the device and frees the audio context
func (s *microphoneStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var stopErr error
	if err := s.device.Stop(); err != nil {
		stopErr = fmt.Errorf("failed to stop microphone: %w", err)
	}
	s.device.Uninit()
	s.releaseContext()
	s.logger.Info("Microphone released")
	return stopErr
}

func (s *microphoneStream) releaseContext() {
	if err := s.audioCtx.Uninit(); err != nil {
		s.logger.Warn("Failed to uninit audio context", zap.Error(err))
	}
	s.audioCtx.Free()
}
