// Package dialogue holds the turn and phase arithmetic of a two-agent
// conversation. Everything here is a pure function of the persisted message
// count and the configured conversation length.
package dialogue

import (
	"strings"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

const (
	// DefaultLength is the number of debate exchanges used when none is given.
	DefaultLength = 3
	// MinLength and MaxLength bound the debate exchanges.
	MinLength = 1
	MaxLength = 10

	introductionMessages = 2
	conclusionMessages   = 2
)

// Turn describes the message about to be created.
type Turn struct {
	// Position is the 1-based index of the message in the conversation.
	Position  int
	Speaker   model.Speaker
	Phase     model.Phase
	Iteration int
	// Ongoing is false when this turn is the last one.
	Ongoing bool
}

// ExpectedTotal returns the total number of messages of a conversation with
// the given number of debate exchanges.
func ExpectedTotal(length int) int {
	return introductionMessages + 2*length + conclusionMessages
}

// NormalizeLength applies the default and the [MinLength, MaxLength] clamp.
func NormalizeLength(length model.OptionalInt) int {
	if !length.Present || !length.Valid {
		return DefaultLength
	}
	return ClampLength(length.Value)
}

// ClampLength bounds n to [MinLength, MaxLength].
func ClampLength(n int) int {
	switch {
	case n < MinLength:
		return MinLength
	case n > MaxLength:
		return MaxLength
	default:
		return n
	}
}

// SpeakerAt returns who speaks at position n. Agent 1 opens and speakers
// alternate strictly.
func SpeakerAt(n int) model.Speaker {
	if n%2 == 0 {
		return model.SpeakerAgent2
	}
	return model.SpeakerAgent1
}

// PhaseAt returns the phase of position n.
func PhaseAt(n, length int) model.Phase {
	switch {
	case n <= introductionMessages:
		return model.PhaseIntroduction
	case n <= introductionMessages+2*length:
		return model.PhaseConversation
	default:
		return model.PhaseConclusion
	}
}

func phaseStart(phase model.Phase, length int) int {
	switch phase {
	case model.PhaseIntroduction:
		return 1
	case model.PhaseConversation:
		return introductionMessages + 1
	default:
		return introductionMessages + 2*length + 1
	}
}

// IterationAt returns the round number of position n within its own phase.
func IterationAt(n, length int) int {
	return (n-phaseStart(PhaseAt(n, length), length))/2 + 1
}

// NextTurn derives the next turn from the number of messages already stored.
func NextTurn(messageCount, length int) Turn {
	n := messageCount + 1
	return Turn{
		Position:  n,
		Speaker:   SpeakerAt(n),
		Phase:     PhaseAt(n, length),
		Iteration: IterationAt(n, length),
		Ongoing:   n < ExpectedTotal(length),
	}
}

// BuildTranscript renders messages as "{speaker}: {content}" lines. Messages
// must already be in timestamp order.
func BuildTranscript(messages []model.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, string(m.AgentType)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
