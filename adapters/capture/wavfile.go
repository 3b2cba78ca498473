package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/audio"
)

const replayPeriod = periodSizeMillis * time.Millisecond

// WAVFile replays a recording as if it were spoken into a microphone. Each
// acquisition starts from the beginning of the file; once the recording is
// exhausted the device goes silent.
type WAVFile struct {
	path   string
	clock  clock.Clock
	logger *zap.Logger
}

var _ repositories.CaptureDevice = (*WAVFile)(nil)

// NewWAVFile creates a capture device backed by the WAV file at path
func NewWAVFile(path string, clk clock.Clock, logger *zap.Logger) *WAVFile {
	if clk == nil {
		clk = clock.New()
	}
	return &WAVFile{path: path, clock: clk, logger: logger}
}

// Open loads the recording and starts delivering it in real time
func (w *WAVFile) Open(ctx context.Context, format entities.AudioFormat, onData func(pcm []byte)) (repositories.CaptureStream, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", domain.ErrPermissionDenied, w.path, err)
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", domain.ErrPermissionDenied, w.path, err)
	}
	if clip.Format != format {
		return nil, fmt.Errorf("%w: %s is %d Hz/%d ch, need %d Hz/%d ch", domain.ErrPermissionDenied,
			w.path, clip.Format.SampleRate, clip.Format.Channels, format.SampleRate, format.Channels)
	}

	stream := &wavFileStream{
		pcm:    clip.PCM,
		period: format.BytesFor(replayPeriod),
		onData: onData,
		ticker: w.clock.Ticker(replayPeriod),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go stream.run()

	w.logger.Info("Replaying recording",
		zap.String("path", w.path),
		zap.Duration("duration", clip.Duration()))
	return stream, nil
}

type wavFileStream struct {
	pcm    []byte
	period int
	onData func([]byte)
	ticker *clock.Ticker

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wavFileStream) run() {
	defer close(s.done)
	defer s.ticker.Stop()

	for len(s.pcm) > 0 {
		select {
		case <-s.ticker.C:
			n := s.period
			if n > len(s.pcm) {
				n = len(s.pcm)
			}
			s.onData(s.pcm[:n])
			s.pcm = s.pcm[n:]
		case <-s.quit:
			return
		}
	}
}

// Close stops the replay; no data is delivered after it returns
func (s *wavFileStream) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}
