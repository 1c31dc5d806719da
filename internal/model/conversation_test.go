package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoliteness(t *testing.T) {
	tests := []struct {
		in   string
		want Politeness
	}{
		{"low", PolitenessLow},
		{" HIGH ", PolitenessHigh},
		{"medium", PolitenessMedium},
		{"aggressive", PolitenessMedium},
		{"", PolitenessMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePoliteness(tt.in), "input %q", tt.in)
	}
}

func TestParsePhase(t *testing.T) {
	assert.Equal(t, PhaseIntroduction, ParsePhase("introduction"))
	assert.Equal(t, PhaseConclusion, ParsePhase("conclusion"))
	assert.Equal(t, PhaseConversation, ParsePhase("rebuttal"))
}

func TestInitConversationRequest_ConversationLength(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		present bool
		valid   bool
		value   int
	}{
		{"absent", `{}`, false, false, 0},
		{"null", `{"conversationLength":null}`, false, false, 0},
		{"number", `{"conversationLength":5}`, true, true, 5},
		{"numeric string", `{"conversationLength":"7"}`, true, true, 7},
		{"word", `{"conversationLength":"long"}`, true, false, 0},
		{"fraction", `{"conversationLength":2.5}`, true, false, 0},
		{"exponent", `{"conversationLength":1e3}`, true, true, 1000},
		{"trailing zero", `{"conversationLength":10.0}`, true, true, 10},
		{"overflow", `{"conversationLength":99999999999999999999}`, true, true, math.MaxInt32},
		{"negative overflow", `{"conversationLength":-99999999999999999999}`, true, true, math.MinInt32},
		{"string exponent", `{"conversationLength":"4e0"}`, true, true, 4},
		{"string nan", `{"conversationLength":"NaN"}`, true, false, 0},
		{"object", `{"conversationLength":{"n":1}}`, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req InitConversationRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			assert.Equal(t, tt.present, req.ConversationLength.Present)
			assert.Equal(t, tt.valid, req.ConversationLength.Valid)
			assert.Equal(t, tt.value, req.ConversationLength.Value)
		})
	}
}

func TestConversation_PersonaFor(t *testing.T) {
	c := &Conversation{Agent1Personality: "a pirate", Agent2Personality: "a poet"}
	assert.Equal(t, "a pirate", c.PersonaFor(SpeakerAgent1))
	assert.Equal(t, "a poet", c.PersonaFor(SpeakerAgent2))
}
