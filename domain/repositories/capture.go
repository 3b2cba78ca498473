package repositories

import (
	"context"

	"github.com/satriahrh/voicelink/domain/entities"
)

// CaptureDevice abstracts a raw audio input such as a microphone
type CaptureDevice interface {
	// Open acquires the device and starts delivering PCM in the requested
	// format to onData. onData is called from a device goroutine and must not
	// retain the slice. Failure wraps domain.ErrPermissionDenied.
	Open(ctx context.Context, format entities.AudioFormat, onData func(pcm []byte)) (CaptureStream, error)
}

// CaptureStream is an acquired capture device
type CaptureStream interface {
	// Close stops capturing and releases the device. No onData call happens
	// after Close returns.
	Close() error
}
