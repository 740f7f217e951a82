// Package transcript turns streams of partial speech-to-text fragments into
// ordered, role-tagged turns.
package transcript

import (
	"strings"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// Assembler accumulates input (user speech) and output (assistant speech)
// fragments between turn boundaries. It is owned by a single goroutine, the
// provider receive loop, and is not safe for concurrent use.
type Assembler struct {
	input  strings.Builder
	output strings.Builder
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// AppendInput concatenates one user-speech fragment in arrival order.
// Fragments are assumed already ordered by the provider; no reordering or
// deduplication happens here.
func (a *Assembler) AppendInput(text string) {
	a.input.WriteString(text)
}

// AppendOutput concatenates one assistant-speech fragment in arrival order.
func (a *Assembler) AppendOutput(text string) {
	a.output.WriteString(text)
}

// OnTurnComplete closes the current turn: a user turn is emitted first if the
// input buffer is non-empty, then an assistant turn if the output buffer is
// non-empty, mirroring conversational order. Both buffers are cleared.
// Returns 0, 1, or 2 turns.
func (a *Assembler) OnTurnComplete() []interview.Turn {
	var turns []interview.Turn
	if a.input.Len() > 0 {
		turns = append(turns, interview.Turn{Role: interview.RoleUser, Text: a.input.String()})
		a.input.Reset()
	}
	if a.output.Len() > 0 {
		turns = append(turns, interview.Turn{Role: interview.RoleAssistant, Text: a.output.String()})
		a.output.Reset()
	}
	return turns
}

// FlushRemaining emits any buffered fragments that never received a
// turn-complete signal, so speech is not lost when the provider drops
// mid-turn. Called once at session teardown.
func (a *Assembler) FlushRemaining() []interview.Turn {
	return a.OnTurnComplete()
}

// Render produces a human-readable transcript, one "{label}: {text}" block
// per turn, separated by blank lines. Label choice per session kind is the
// caller's presentation decision.
func Render(turns []interview.Turn, userLabel, assistantLabel string) string {
	if len(turns) == 0 {
		return ""
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		label := userLabel
		if turn.Role == interview.RoleAssistant {
			label = assistantLabel
		}
		lines = append(lines, label+": "+turn.Text)
	}
	return strings.Join(lines, "\n\n")
}
