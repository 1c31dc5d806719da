// Package prompt builds the instructions sent to the generation provider for
// a single turn of a persona dialogue.
package prompt

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

const (
	// BaseTemperature is used for the opening turn.
	BaseTemperature = 0.7
	// TemperatureStep is added for every completed round in the transcript.
	TemperatureStep = 0.05
	// MaxTemperature caps the nudged temperature.
	MaxTemperature = 0.9
)

// Input is everything the composer needs for one turn.
type Input struct {
	Persona    string
	Topic      string
	Transcript string
	Politeness model.Politeness
	Phase      model.Phase
}

// Prompt is the composed instruction set for one provider call.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

var toneDirectives = map[model.Politeness]string{
	model.PolitenessLow: "Be direct and assertive. Challenge weak arguments bluntly, " +
		"do not soften disagreement, and do not waste words on pleasantries.",
	model.PolitenessMedium: "Keep a balanced tone. Disagree when you must, acknowledge good points " +
		"when they are made, and stay neither overly polite nor confrontational.",
	model.PolitenessHigh: "Be courteous and respectful. Acknowledge your counterpart's points graciously " +
		"and express disagreement tactfully.",
}

var phaseDirectives = map[model.Phase]string{
	model.PhaseIntroduction: "This is the introduction. Briefly introduce yourself and your initial " +
		"stance on the topic in a few sentences.",
	model.PhaseConversation: "This is the main discussion. Engage critically with what has been said, " +
		"respond to specific points from previous turns, and advance your own position.",
	model.PhaseConclusion: "This is the conclusion. Summarize the key points of the discussion and " +
		"restate your final position clearly.",
}

// Compose builds the system and user instructions and picks a sampling
// temperature for the next turn.
func Compose(in Input) Prompt {
	return Prompt{
		System:      systemInstruction(in),
		User:        userInstruction(in),
		Temperature: Temperature(in.Transcript),
	}
}

func systemInstruction(in Input) string {
	return strings.Join([]string{
		fmt.Sprintf("You are %s.", strings.TrimSpace(in.Persona)),
		fmt.Sprintf("You are taking part in a two-person conversation about: %s.", strings.TrimSpace(in.Topic)),
		"Stay in character for the whole conversation and speak in the first person.",
		"",
		"Tone:",
		toneDirective(in.Politeness),
		"",
		"Phase:",
		phaseDirective(in.Phase),
		"",
		"Reply with your next message only, without prefixing it with a speaker label.",
	}, "\n")
}

func userInstruction(in Input) string {
	topic := strings.TrimSpace(in.Topic)
	if strings.TrimSpace(in.Transcript) == "" {
		return fmt.Sprintf("Open the discussion on %s.", topic)
	}

	var ask string
	switch in.Phase {
	case model.PhaseIntroduction:
		ask = "Introduce yourself and respond briefly to the introduction above."
	case model.PhaseConclusion:
		ask = "Summarize the discussion and give your closing stance on " + topic + "."
	default:
		ask = "Respond to the latest points above and continue the discussion on " + topic + "."
	}

	return strings.Join([]string{
		"Conversation so far:",
		in.Transcript,
		"",
		ask,
	}, "\n")
}

func toneDirective(p model.Politeness) string {
	if d, ok := toneDirectives[p]; ok {
		return d
	}
	return toneDirectives[model.PolitenessMedium]
}

func phaseDirective(p model.Phase) string {
	if d, ok := phaseDirectives[p]; ok {
		return d
	}
	return phaseDirectives[model.PhaseConversation]
}

// Temperature is a step function of the transcript length: one step per
// completed round (two lines), capped at MaxTemperature.
func Temperature(transcript string) float64 {
	lines := 0
	if strings.TrimSpace(transcript) != "" {
		lines = strings.Count(transcript, "\n") + 1
	}
	t := BaseTemperature + float64(lines/2)*TemperatureStep
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}
