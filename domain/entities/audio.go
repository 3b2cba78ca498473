package entities

import "time"

// AudioFormat describes interleaved little-endian PCM
type AudioFormat struct {
	SampleRate    int `json:"sample_rate" yaml:"sample_rate"`
	Channels      int `json:"channels" yaml:"channels"`
	BitsPerSample int `json:"bits_per_sample" yaml:"bits_per_sample"`
}

var (
	// CaptureFormat is what the microphone produces and the server expects.
	CaptureFormat = AudioFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	// SpeechFormat is what the server synthesizes.
	SpeechFormat = AudioFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
)

// BlockAlign is the size in bytes of one frame across all channels
func (f AudioFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate is the number of bytes per second of audio
func (f AudioFormat) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns how long n bytes of PCM in this format last
func (f AudioFormat) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// BytesFor returns the number of whole-frame bytes covering d
func (f AudioFormat) BytesFor(d time.Duration) int {
	align := f.BlockAlign()
	if align <= 0 {
		return 0
	}
	frames := int64(f.SampleRate) * int64(d) / int64(time.Second)
	return int(frames) * align
}
