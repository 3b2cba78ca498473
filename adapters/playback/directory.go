package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/audio"
)

// Directory "plays" fragments by saving each one as a numbered WAV file and
// holding the queue for the clip's duration. It stands in for a speaker on
// machines without an output device.
type Directory struct {
	dir    string
	clock  clock.Clock
	logger *zap.Logger
	seq    atomic.Int64
}

var _ repositories.Player = (*Directory)(nil)

// NewDirectory creates the output directory if needed
func NewDirectory(dir string, clk clock.Clock, logger *zap.Logger) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Directory{dir: dir, clock: clk, logger: logger}, nil
}

// Prepare reserves the next file name for the fragment
func (d *Directory) Prepare(data []byte) repositories.Track {
	n := d.seq.Add(1)
	return &fileTrack{
		owner: d,
		path:  filepath.Join(d.dir, fmt.Sprintf("%03d.wav", n)),
		data:  data,
		stop:  make(chan struct{}),
	}
}

type fileTrack struct {
	owner *Directory
	path  string
	data  []byte

	stop      chan struct{}
	closeOnce sync.Once
}

// Play writes the file, then completes after the clip's duration
func (t *fileTrack) Play(done func(error)) {
	go func() {
		done(t.play())
	}()
}

func (t *fileTrack) play() error {
	clip, err := audio.DecodeWAV(t.data)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPlaybackFailure, err)
	}
	if err := os.WriteFile(t.path, t.data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to save %s: %v", domain.ErrPlaybackFailure, t.path, err)
	}
	t.owner.logger.Info("Saved speech fragment",
		zap.String("path", t.path),
		zap.Duration("duration", clip.Duration()))

	timer := t.owner.clock.Timer(clip.Duration())
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-t.stop:
		return fmt.Errorf("%w: track released during playback", domain.ErrPlaybackFailure)
	}
}

// Release ends a pending playback; the saved file is kept
func (t *fileTrack) Release() {
	t.closeOnce.Do(func() {
		close(t.stop)
	})
}
