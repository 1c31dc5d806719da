package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "dialogue.abc.event.completed", EventSubject("abc", model.EventTypeCompleted))
	assert.Equal(t, "dialogue.abc.>", ConversationFilter("abc"))
}

func TestClientIsConnected_NilSafe(t *testing.T) {
	var c *Client
	assert.False(t, c.IsConnected())
	assert.False(t, (&Client{}).IsConnected())
}
