// Package model defines data structures for the persona dialogue service.
package model

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Politeness is the tone dial applied to both agents.
type Politeness string

const (
	PolitenessLow    Politeness = "low"
	PolitenessMedium Politeness = "medium"
	PolitenessHigh   Politeness = "high"
)

// ParsePoliteness normalizes user input. Anything unrecognized becomes medium.
func ParsePoliteness(s string) Politeness {
	switch p := Politeness(strings.ToLower(strings.TrimSpace(s))); p {
	case PolitenessLow, PolitenessMedium, PolitenessHigh:
		return p
	default:
		return PolitenessMedium
	}
}

// Status represents the lifecycle state of a conversation.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Conversation represents a dialogue between two personas.
type Conversation struct {
	ID                 string     `json:"conversationId"`
	Agent1Personality  string     `json:"agent1Personality"`
	Agent2Personality  string     `json:"agent2Personality"`
	Topic              string     `json:"topic"`
	ConversationLength int        `json:"conversationLength"`
	PolitenessLevel    Politeness `json:"politenessLevel"`
	Status             Status     `json:"status"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	MessageCount       int        `json:"messageCount"`
}

// Completed reports whether the conversation reached its final message.
func (c *Conversation) Completed() bool {
	return c.Status == StatusCompleted
}

// PersonaFor returns the persona text of the given speaker.
func (c *Conversation) PersonaFor(s Speaker) string {
	if s == SpeakerAgent2 {
		return c.Agent2Personality
	}
	return c.Agent1Personality
}

// Transcript is a conversation together with its ordered messages.
type Transcript struct {
	Conversation Conversation
	Messages     []Message
}

// OptionalInt is a lenient JSON integer. Numbers and numeric strings are
// accepted; any other value marks it as present but invalid instead of
// failing the whole request body.
type OptionalInt struct {
	Value   int
	Present bool
	Valid   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*o = OptionalInt{}
		return nil
	}
	o.Present = true

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if i, ok := wholeNumber(n.String()); ok {
			o.Value, o.Valid = i, true
			return nil
		}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if i, ok := wholeNumber(strings.TrimSpace(s)); ok {
			o.Value, o.Valid = i, true
			return nil
		}
	}

	o.Value, o.Valid = 0, false
	return nil
}

// wholeNumber parses integral numbers in any JSON notation ("10", "10.0",
// "1e3"). Values beyond the int32 range saturate.
func wholeNumber(raw string) (int, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32, true
	case f < math.MinInt32:
		return math.MinInt32, true
	}
	return int(f), true
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(o.Value)), nil
}

// IntValue returns a valid OptionalInt holding v.
func IntValue(v int) OptionalInt {
	return OptionalInt{Value: v, Present: true, Valid: true}
}

// InitConversationRequest is the request to start a new conversation.
type InitConversationRequest struct {
	Agent1Personality  string      `json:"agent1Personality"`
	Agent2Personality  string      `json:"agent2Personality"`
	Topic              string      `json:"topic"`
	PolitenessLevel    string      `json:"politenessLevel,omitempty"`
	ConversationLength OptionalInt `json:"conversationLength"`
}

// FollowConversationRequest is the request to advance a conversation by one turn.
type FollowConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// ConversationResponse describes the message produced by a start or advance call.
type ConversationResponse struct {
	ConversationID        string  `json:"conversationId"`
	Message               string  `json:"message"`
	AgentType             Speaker `json:"agentType"`
	IterationNumber       int     `json:"iterationNumber"`
	Phase                 Phase   `json:"phase"`
	IsOngoing             bool    `json:"isOngoing"`
	TotalMessages         int     `json:"totalMessages"`
	ExpectedTotalMessages int     `json:"expectedTotalMessages"`
}

// TranscriptView is the rendered transcript of a completed conversation.
type TranscriptView struct {
	ConversationID     string     `json:"conversationId"`
	Markdown           string     `json:"markdown"`
	Agent1Personality  string     `json:"agent1Personality"`
	Agent2Personality  string     `json:"agent2Personality"`
	Topic              string     `json:"topic"`
	PolitenessLevel    Politeness `json:"politenessLevel"`
	ConversationLength int        `json:"conversationLength"`
	Status             Status     `json:"status"`
	MessageCount       int        `json:"messageCount"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"hasMore"`
}
