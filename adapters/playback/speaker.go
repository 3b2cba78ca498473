package playback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/entities"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/audio"
)

const (
	// how often a playing track is checked for completion
	pollInterval = 20 * time.Millisecond

	// output latency of the speaker
	speakerBufferSize = 100 * time.Millisecond
)

// Speaker plays fragments on the default output device. Only one Speaker
// may exist per process.
type Speaker struct {
	ctx    *oto.Context
	format entities.AudioFormat
	logger *zap.Logger
}

var _ repositories.Player = (*Speaker)(nil)

// NewSpeaker opens the output device for PCM in format
func NewSpeaker(format entities.AudioFormat, logger *zap.Logger) (*Speaker, error) {
	if format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d", format.BitsPerSample)
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   speakerBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	<-ready

	logger.Info("Speaker opened", zap.Int("sampleRate", format.SampleRate))
	return &Speaker{ctx: ctx, format: format, logger: logger}, nil
}

// Prepare wraps an encoded fragment in a track
func (s *Speaker) Prepare(data []byte) repositories.Track {
	return &speakerTrack{
		speaker: s,
		data:    data,
		stop:    make(chan struct{}),
	}
}

type speakerTrack struct {
	speaker *Speaker
	data    []byte
	stop    chan struct{}

	mu       sync.Mutex
	player   *oto.Player
	released bool
}

// Play decodes the fragment and plays it on a watcher goroutine
func (t *speakerTrack) Play(done func(error)) {
	go func() {
		done(t.play())
	}()
}

func (t *speakerTrack) play() error {
	clip, err := audio.DecodeWAV(t.data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlaybackFailure, err)
	}
	want := t.speaker.format
	if clip.Format.SampleRate != want.SampleRate || clip.Format.Channels != want.Channels {
		return fmt.Errorf("%w: fragment is %d Hz/%d ch, speaker is %d Hz/%d ch", domain.ErrPlaybackFailure,
			clip.Format.SampleRate, clip.Format.Channels, want.SampleRate, want.Channels)
	}

	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return fmt.Errorf("%w: track released before playback", domain.ErrPlaybackFailure)
	}
	t.player = t.speaker.ctx.NewPlayer(bytes.NewReader(clip.PCM))
	t.player.Play()
	t.mu.Unlock()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return fmt.Errorf("%w: track released during playback", domain.ErrPlaybackFailure)
		case <-ticker.C:
			t.mu.Lock()
			if t.player == nil {
				t.mu.Unlock()
				return fmt.Errorf("%w: track released during playback", domain.ErrPlaybackFailure)
			}
			playing, playErr := t.player.IsPlaying(), t.player.Err()
			t.mu.Unlock()

			if playErr != nil {
				return fmt.Errorf("%w: %v", domain.ErrPlaybackFailure, playErr)
			}
			if !playing {
				return nil
			}
		}
	}
}

// Release stops output and frees the player
func (t *speakerTrack) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	close(t.stop)
	if t.player != nil {
		if err := t.player.Close(); err != nil {
			t.speaker.logger.Warn("Failed to close player", zap.Error(err))
		}
		t.player = nil
	}
	t.data = nil
}
