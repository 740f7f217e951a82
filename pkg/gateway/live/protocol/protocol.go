// Package protocol defines the wire framing carried over the client-facing
// socket: binary audio frames and JSON control envelopes. Decoding is total;
// malformed input yields a *DecodeError, never a panic.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// FrameAudio is the only binary frame type on the client socket.
	FrameAudio = 0x01

	// Direction tags embedded in the binary frame header.
	DirectionClientToServer = 0x01
	DirectionServerToClient = 0x02

	// Header layout: [type:1][direction:1][length:4 BE].
	HeaderSize = 6
)

// Client commands. Unrecognized command strings decode successfully and are
// ignored by the relay.
const (
	CommandStopSession   = "stop_session"
	CommandCancelSession = "cancel_session"
	CommandSendText      = "send_text"
)

// Server envelope types.
const (
	EnvelopeSystem    = "system"
	EnvelopeStatus    = "status"
	EnvelopeUser      = "user"
	EnvelopeAssistant = "assistant"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// AudioFrame is one framed chunk of raw single-channel 16-bit PCM.
type AudioFrame struct {
	Direction byte
	PCM       []byte
}

// ClientCommand is the text frame sent by the client.
type ClientCommand struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
}

// ServerEnvelope is the text frame sent to the client. Timestamp is unix
// milliseconds set at encode time.
type ServerEnvelope struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeAudioFrame wraps raw PCM bytes with the 6-byte header. The codec is
// transport framing only: no compression, no resampling.
func EncodeAudioFrame(direction byte, pcm []byte) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	out[0] = FrameAudio
	out[1] = direction
	binary.BigEndian.PutUint32(out[2:6], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)
	return out
}

// DecodeAudioFrame parses a binary frame, validating the header against the
// actual payload length.
func DecodeAudioFrame(data []byte) (AudioFrame, error) {
	if len(data) < HeaderSize {
		return AudioFrame{}, badFrame(fmt.Sprintf("binary frame too short: %d bytes", len(data)), "")
	}
	if data[0] != FrameAudio {
		return AudioFrame{}, badFrame(fmt.Sprintf("unknown binary frame type 0x%02x", data[0]), "type")
	}
	dir := data[1]
	if dir != DirectionClientToServer && dir != DirectionServerToClient {
		return AudioFrame{}, badFrame(fmt.Sprintf("invalid direction 0x%02x", dir), "direction")
	}
	declared := binary.BigEndian.Uint32(data[2:6])
	payload := data[HeaderSize:]
	if int(declared) != len(payload) {
		return AudioFrame{}, badFrame(fmt.Sprintf("length mismatch: header says %d, got %d", declared, len(payload)), "length")
	}
	return AudioFrame{Direction: dir, PCM: payload}, nil
}

// DecodeClientCommand parses a text frame into a client command. Malformed
// JSON or a missing command field is a *DecodeError; an unrecognized command
// value is not (the relay ignores those).
func DecodeClientCommand(data []byte) (ClientCommand, error) {
	var msg ClientCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientCommand{}, badFrame("invalid json frame", "")
	}
	msg.Command = strings.TrimSpace(msg.Command)
	if msg.Command == "" {
		return ClientCommand{}, badFrame("missing command", "command")
	}
	return msg, nil
}

// DecodeIncoming classifies one socket message: binary frames decode as
// audio, text frames as client commands.
func DecodeIncoming(isBinary bool, data []byte) (any, error) {
	if isBinary {
		return DecodeAudioFrame(data)
	}
	return DecodeClientCommand(data)
}

// EncodeControl builds the JSON envelope for an outbound status or content
// message.
func EncodeControl(envType, content string) ([]byte, error) {
	switch envType {
	case EnvelopeSystem, EnvelopeStatus, EnvelopeUser, EnvelopeAssistant:
	default:
		return nil, badFrame(fmt.Sprintf("unknown envelope type %q", envType), "type")
	}
	return json.Marshal(ServerEnvelope{
		Type:      envType,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
}
