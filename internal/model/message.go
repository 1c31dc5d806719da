package model

import (
	"time"
)

// Speaker identifies which agent produced a message.
type Speaker string

const (
	SpeakerAgent1 Speaker = "A1"
	SpeakerAgent2 Speaker = "A2"
)

// Phase is the stage of the dialogue a message belongs to.
type Phase string

const (
	PhaseIntroduction Phase = "introduction"
	PhaseConversation Phase = "conversation"
	PhaseConclusion   Phase = "conclusion"
)

// ParsePhase maps a stored tag back to a Phase, defaulting to conversation.
func ParsePhase(s string) Phase {
	switch p := Phase(s); p {
	case PhaseIntroduction, PhaseConversation, PhaseConclusion:
		return p
	default:
		return PhaseConversation
	}
}

// Message represents one generated turn of a conversation.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversationId"`
	Sequence        int       `json:"sequence"`
	AgentType       Speaker   `json:"agentType"`
	Phase           Phase     `json:"phase"`
	IterationNumber int       `json:"iterationNumber"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
}
