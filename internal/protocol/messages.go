package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/repositories"
)

// MessageType defines the type of inbound message
type MessageType string

// Supported message types
const (
	MessageTypeTranscript MessageType = "transcript"
	MessageTypeTTS        MessageType = "tts"
	MessageTypeDone       MessageType = "done"
)

// EndOfUtterance is the text frame that closes an utterance on the wire
const EndOfUtterance = "<END>"

// Message is the tagged union of inbound messages
type Message interface {
	MessageType() MessageType
}

// BaseMessage defines the common structure for all inbound messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// MessageType returns the discriminator
func (m BaseMessage) MessageType() MessageType {
	return m.Type
}

// TranscriptMessage carries the recognized text of the user's utterance
type TranscriptMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// SpeechFragmentMessage carries one synthesized sentence
type SpeechFragmentMessage struct {
	BaseMessage
	Sentence    string `json:"sentence"`
	AudioBase64 string `json:"audio_base64"`
	// Audio is the decoded container bytes of AudioBase64
	Audio []byte `json:"-"`
	// AudioErr is set when AudioBase64 is missing or cannot be decoded. The
	// sentence is still usable.
	AudioErr error `json:"-"`
}

// StreamCompleteMessage marks the end of a response stream
type StreamCompleteMessage struct {
	BaseMessage
}

// MessageDecoder turns inbound frames into typed messages
type MessageDecoder struct{}

// NewMessageDecoder creates a new message decoder
func NewMessageDecoder() *MessageDecoder {
	return &MessageDecoder{}
}

// DecodeFrame decodes a frame. Only text frames are part of the protocol.
func (d *MessageDecoder) DecodeFrame(frame repositories.Frame) (Message, error) {
	if frame.Type != repositories.TextFrame {
		return nil, fmt.Errorf("%w: unexpected %s frame of %d bytes", domain.ErrMalformedMessage, frame.Type, len(frame.Payload))
	}
	return d.Decode(frame.Payload)
}

// Decode validates an inbound JSON message
func (d *MessageDecoder) Decode(data []byte) (Message, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %v", domain.ErrMalformedMessage, err)
	}

	switch base.Type {
	case MessageTypeTranscript:
		var raw struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: invalid transcript message: %v", domain.ErrMalformedMessage, err)
		}
		if raw.Text == nil {
			return nil, fmt.Errorf("%w: transcript text is required", domain.ErrMalformedMessage)
		}
		return &TranscriptMessage{BaseMessage: base, Text: *raw.Text}, nil

	case MessageTypeTTS:
		var msg SpeechFragmentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: invalid tts message: %v", domain.ErrMalformedMessage, err)
		}
		if msg.AudioBase64 == "" {
			msg.AudioErr = fmt.Errorf("%w: audio_base64 is missing", domain.ErrPlaybackFailure)
			return &msg, nil
		}
		audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
		if err != nil {
			msg.AudioErr = fmt.Errorf("%w: audio_base64 is not valid base64: %v", domain.ErrPlaybackFailure, err)
			return &msg, nil
		}
		msg.Audio = audio
		return &msg, nil

	case MessageTypeDone:
		return &StreamCompleteMessage{BaseMessage: base}, nil

	case "":
		return nil, fmt.Errorf("%w: message type is required", domain.ErrMalformedMessage)

	default:
		return nil, fmt.Errorf("%w: unsupported message type: %s", domain.ErrMalformedMessage, base.Type)
	}
}

// EndOfUtteranceFrame returns the text frame that closes an utterance
func EndOfUtteranceFrame() repositories.Frame {
	return repositories.Frame{Type: repositories.TextFrame, Payload: []byte(EndOfUtterance)}
}

// AudioChunkFrame wraps captured audio bytes in a binary frame
func AudioChunkFrame(chunk []byte) repositories.Frame {
	return repositories.Frame{Type: repositories.BinaryFrame, Payload: chunk}
}

// NewSpeechFragment builds a tts message with audio encoded for the wire
func NewSpeechFragment(sentence string, audio []byte) *SpeechFragmentMessage {
	return &SpeechFragmentMessage{
		BaseMessage: BaseMessage{Type: MessageTypeTTS},
		Sentence:    sentence,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Audio:       audio,
	}
}
