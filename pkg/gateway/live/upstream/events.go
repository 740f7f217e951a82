package upstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// Event is the closed union of everything the manager can decode from the
// provider or emit to the relay. The rest of the system never inspects raw
// provider frames.
type Event interface {
	eventType() string
}

// AudioEvent carries one chunk of assistant audio.
type AudioEvent struct {
	PCM []byte
}

func (AudioEvent) eventType() string { return "audio" }

// InputFragmentEvent is a partial transcription of the user's speech. It is
// consumed inside the manager's receive loop and never reaches the relay.
type InputFragmentEvent struct {
	Text string
}

func (InputFragmentEvent) eventType() string { return "input_fragment" }

// OutputFragmentEvent is a partial transcription of the assistant's speech.
type OutputFragmentEvent struct {
	Text string
}

func (OutputFragmentEvent) eventType() string { return "output_fragment" }

// TurnCompleteEvent marks the provider's end-of-turn boundary.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// TranscriptionEvent carries one closed turn to the relay. Emitted by the
// receive loop after the assembler closes a turn, never by the decoder.
type TranscriptionEvent struct {
	Turn interview.Turn
}

func (TranscriptionEvent) eventType() string { return "transcription" }

// setupCompleteEvent acknowledges the setup frame during the connect
// handshake.
type setupCompleteEvent struct{}

func (setupCompleteEvent) eventType() string { return "setup_complete" }

// goAwayEvent warns that the provider will drop the stream shortly.
type goAwayEvent struct {
	TimeLeft string
}

func (goAwayEvent) eventType() string { return "go_away" }

// resumptionEvent carries a handle for re-dialing the read side of the same
// provider session.
type resumptionEvent struct {
	Handle    string
	Resumable bool
}

func (resumptionEvent) eventType() string { return "session_resumption" }

// Wire shapes of the provider's bidirectional JSON protocol.

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model                    string             `json:"model"`
	SystemInstruction        *contentPayload    `json:"systemInstruction,omitempty"`
	GenerationConfig         *generationConfig  `json:"generationConfig,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
	SessionResumption        *sessionResumption `json:"sessionResumption,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type sessionResumption struct {
	Handle string `json:"handle,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInputPayload `json:"realtimeInput"`
}

type realtimeInputPayload struct {
	Audio *inlineData `json:"audio,omitempty"`
}

type clientContentMessage struct {
	ClientContent clientContentPayload `json:"clientContent"`
}

type clientContentPayload struct {
	Turns        []contentPayload `json:"turns,omitempty"`
	TurnComplete bool             `json:"turnComplete,omitempty"`
}

type contentPayload struct {
	Role  string        `json:"role,omitempty"`
	Parts []partPayload `json:"parts,omitempty"`
}

type partPayload struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

type serverFrame struct {
	SetupComplete           *struct{}          `json:"setupComplete,omitempty"`
	ServerContent           *serverContent     `json:"serverContent,omitempty"`
	GoAway                  *goAwayPayload     `json:"goAway,omitempty"`
	SessionResumptionUpdate *resumptionPayload `json:"sessionResumptionUpdate,omitempty"`
}

type serverContent struct {
	ModelTurn           *contentPayload       `json:"modelTurn,omitempty"`
	InputTranscription  *transcriptionPayload `json:"inputTranscription,omitempty"`
	OutputTranscription *transcriptionPayload `json:"outputTranscription,omitempty"`
	TurnComplete        bool                  `json:"turnComplete,omitempty"`
	Interrupted         bool                  `json:"interrupted,omitempty"`
}

type transcriptionPayload struct {
	Text string `json:"text"`
}

type goAwayPayload struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type resumptionPayload struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

// decodeServerFrame classifies one provider text frame into typed events. A
// single frame can carry several (transcription fragments, audio parts, and a
// turn boundary together). Undecodable frames return an error; the receive
// loop logs and skips them.
func decodeServerFrame(data []byte) ([]Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode provider frame: %w", err)
	}

	var events []Event
	if frame.SetupComplete != nil {
		events = append(events, setupCompleteEvent{})
	}
	if sc := frame.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, InputFragmentEvent{Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, OutputFragmentEvent{Text: sc.OutputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode provider audio: %w", err)
				}
				events = append(events, AudioEvent{PCM: pcm})
			}
		}
		if sc.TurnComplete {
			events = append(events, TurnCompleteEvent{})
		}
	}
	if frame.GoAway != nil {
		events = append(events, goAwayEvent{TimeLeft: frame.GoAway.TimeLeft})
	}
	if frame.SessionResumptionUpdate != nil {
		events = append(events, resumptionEvent{
			Handle:    frame.SessionResumptionUpdate.NewHandle,
			Resumable: frame.SessionResumptionUpdate.Resumable,
		})
	}

	if len(events) == 0 {
		// Barge-in notices carry no payload the relay acts on. The client
		// hears the interruption in the audio stream itself.
		if frame.ServerContent != nil && frame.ServerContent.Interrupted {
			return nil, nil
		}
		return nil, fmt.Errorf("unrecognized provider frame")
	}
	return events, nil
}
