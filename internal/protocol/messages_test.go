package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/voicelink/domain"
	"github.com/satriahrh/voicelink/domain/repositories"
)

func TestMessageDecoder_Decode(t *testing.T) {
	decoder := NewMessageDecoder()

	tests := []struct {
		name     string
		message  string
		wantType MessageType
		wantErr  bool
	}{
		{"transcript", `{"type":"transcript","text":"hello"}`, MessageTypeTranscript, false},
		{"empty transcript text", `{"type":"transcript","text":""}`, MessageTypeTranscript, false},
		{"transcript without text", `{"type":"transcript"}`, "", true},
		{"tts", `{"type":"tts","sentence":"hi there","audio_base64":"UklGRg=="}`, MessageTypeTTS, false},
		{"tts without audio", `{"type":"tts","sentence":"hi there"}`, MessageTypeTTS, false},
		{"tts with bad base64", `{"type":"tts","sentence":"x","audio_base64":"***"}`, MessageTypeTTS, false},
		{"done", `{"type":"done"}`, MessageTypeDone, false},
		{"unknown type", `{"type":"status","text":"x"}`, "", true},
		{"missing type", `{"text":"x"}`, "", true},
		{"invalid json", `{"type":`, "", true},
		{"text field with wrong type", `{"type":"transcript","text":42}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decoder.Decode([]byte(tt.message))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrMalformedMessage)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.MessageType())
		})
	}
}

func TestMessageDecoder_TypedPayloads(t *testing.T) {
	decoder := NewMessageDecoder()

	msg, err := decoder.Decode([]byte(`{"type":"transcript","text":"hello"}`))
	require.NoError(t, err)
	transcript, ok := msg.(*TranscriptMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", transcript.Text)

	payload, err := json.Marshal(NewSpeechFragment("hi there", []byte("RIFF....WAVE")))
	require.NoError(t, err)
	msg, err = decoder.Decode(payload)
	require.NoError(t, err)
	fragment, ok := msg.(*SpeechFragmentMessage)
	require.True(t, ok)
	assert.Equal(t, "hi there", fragment.Sentence)
	assert.Equal(t, []byte("RIFF....WAVE"), fragment.Audio)

	msg, err = decoder.Decode([]byte(`{"type":"done"}`))
	require.NoError(t, err)
	assert.IsType(t, &StreamCompleteMessage{}, msg)
}

func TestMessageDecoder_UndecodableAudioKeepsSentence(t *testing.T) {
	decoder := NewMessageDecoder()

	for name, payload := range map[string]string{
		"bad base64":    `{"type":"tts","sentence":"hi there","audio_base64":"!!!notbase64"}`,
		"missing audio": `{"type":"tts","sentence":"hi there"}`,
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := decoder.Decode([]byte(payload))
			require.NoError(t, err)
			fragment, ok := msg.(*SpeechFragmentMessage)
			require.True(t, ok)
			assert.Equal(t, "hi there", fragment.Sentence)
			assert.Nil(t, fragment.Audio)
			assert.ErrorIs(t, fragment.AudioErr, domain.ErrPlaybackFailure)
		})
	}

	msg, err := decoder.Decode([]byte(`{"type":"tts","sentence":"ok","audio_base64":"UklGRg=="}`))
	require.NoError(t, err)
	assert.NoError(t, msg.(*SpeechFragmentMessage).AudioErr)
}

func TestMessageDecoder_DecodeFrameRejectsBinary(t *testing.T) {
	decoder := NewMessageDecoder()

	_, err := decoder.DecodeFrame(repositories.Frame{Type: repositories.BinaryFrame, Payload: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)

	msg, err := decoder.DecodeFrame(repositories.Frame{Type: repositories.TextFrame, Payload: []byte(`{"type":"done"}`)})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeDone, msg.MessageType())
}

func TestOutboundFrames(t *testing.T) {
	end := EndOfUtteranceFrame()
	assert.Equal(t, repositories.TextFrame, end.Type)
	assert.Equal(t, "<END>", string(end.Payload))

	chunk := AudioChunkFrame([]byte{1, 2})
	assert.Equal(t, repositories.BinaryFrame, chunk.Type)
	assert.Equal(t, []byte{1, 2}, chunk.Payload)
}
