package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeStarted   EventType = "started"
	EventTypeMessage   EventType = "message"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
)

// ConversationEvent represents a lifecycle event of a conversation.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
