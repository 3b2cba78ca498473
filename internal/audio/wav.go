package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/satriahrh/voicelink/domain/entities"
)

const (
	wavHeaderSize = 44
	pcmFormatTag  = 1
	// streamingSize marks RIFF and data sizes as unknown for a live stream
	streamingSize = 0xFFFFFFFF
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Clip is decoded PCM with its format
type Clip struct {
	Format entities.AudioFormat
	PCM    []byte
}

// Duration returns the playing time of the clip
func (c *Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

func newHeader(format entities.AudioFormat, dataSize uint32) WAVHeader {
	chunkSize := uint32(streamingSize)
	if dataSize != streamingSize {
		chunkSize = 36 + dataSize
	}
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     chunkSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormatTag,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(format.BlockAlign()),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

func writeHeader(buf *bytes.Buffer, header WAVHeader) {
	// writes into a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, header)
}

// StreamHeader returns a header for PCM of unknown length. Prepended to the
// first chunk of an utterance it lets the receiver treat the concatenated
// chunks as one WAV file.
func StreamHeader(format entities.AudioFormat) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	writeHeader(buf, newHeader(format, streamingSize))
	return buf.Bytes()
}

// EncodeWAV wraps PCM in a complete WAV container
func EncodeWAV(format entities.AudioFormat, pcm []byte) ([]byte, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	if len(pcm)%format.BlockAlign() != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of block align %d", len(pcm), format.BlockAlign())
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	writeHeader(buf, newHeader(format, uint32(len(pcm))))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV parses a PCM WAV container. Chunks other than "fmt " and "data"
// are skipped, and a data size that overruns the input (as written by
// streaming encoders) is clamped to what is present.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format    entities.AudioFormat
		formatTag uint16
		haveFmt   bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			chunk := data[body : body+size]
			formatTag = binary.LittleEndian.Uint16(chunk[0:2])
			format = entities.AudioFormat{
				Channels:      int(binary.LittleEndian.Uint16(chunk[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(chunk[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:16])),
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if formatTag != pcmFormatTag {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", formatTag)
			}
			if err := validateFormat(format); err != nil {
				return nil, err
			}
			pcm := data[body : body+size]
			pcm = pcm[:len(pcm)-len(pcm)%format.BlockAlign()]
			return &Clip{Format: format, PCM: pcm}, nil
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

func validateFormat(format entities.AudioFormat) error {
	if format.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", format.Channels)
	}
	if format.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}
	return nil
}
