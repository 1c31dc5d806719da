package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newConversation(id string, start time.Time) *model.Conversation {
	return &model.Conversation{
		ID:                 id,
		Agent1Personality:  "a skeptical economist",
		Agent2Personality:  "an optimistic futurist",
		Topic:              "universal basic income",
		ConversationLength: 1,
		PolitenessLevel:    model.PolitenessHigh,
		Status:             model.StatusInProgress,
		StartTime:          start,
	}
}

func newMessage(convID string, seq int, ts time.Time) *model.Message {
	speaker := model.SpeakerAgent1
	if seq%2 == 0 {
		speaker = model.SpeakerAgent2
	}
	return &model.Message{
		ID:              fmt.Sprintf("%s-msg-%d", convID, seq),
		ConversationID:  convID,
		Sequence:        seq,
		AgentType:       speaker,
		Phase:           model.PhaseIntroduction,
		IterationNumber: 1,
		Content:         fmt.Sprintf("message %d", seq),
		Timestamp:       ts,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	conv := newConversation("conv-1", now)
	require.NoError(t, s.CreateConversation(ctx, conv, newMessage("conv-1", 1, now)))

	got, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.Agent1Personality, got.Agent1Personality)
	assert.Equal(t, conv.Agent2Personality, got.Agent2Personality)
	assert.Equal(t, conv.Topic, got.Topic)
	assert.Equal(t, 1, got.ConversationLength)
	assert.Equal(t, model.PolitenessHigh, got.PolitenessLevel)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.True(t, now.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)
	assert.Equal(t, 1, got.MessageCount)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AppendMessageCompletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", now), newMessage("conv-1", 1, now)))
	require.NoError(t, s.AppendMessage(ctx, newMessage("conv-1", 2, now.Add(time.Second)), nil))

	end := now.Add(2 * time.Second)
	require.NoError(t, s.AppendMessage(ctx, newMessage("conv-1", 3, end), &end))

	got, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.Equal(t, 3, got.MessageCount)

	err = s.AppendMessage(ctx, newMessage("conv-1", 4, end.Add(time.Second)), nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_AppendMessageRejectsStaleSequence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", now), newMessage("conv-1", 1, now)))
	require.NoError(t, s.AppendMessage(ctx, newMessage("conv-1", 2, now.Add(time.Second)), nil))

	dup := newMessage("conv-1", 2, now.Add(2*time.Second))
	dup.ID = "other-writer"
	assert.ErrorIs(t, s.AppendMessage(ctx, dup, nil), ErrConflict)

	assert.ErrorIs(t, s.AppendMessage(ctx, newMessage("missing", 1, now), nil), ErrNotFound)
}

func TestStore_ListMessagesOrderedByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", now), newMessage("conv-1", 1, now)))
	for seq := 2; seq <= 4; seq++ {
		require.NoError(t, s.AppendMessage(ctx, newMessage("conv-1", seq, now.Add(time.Duration(seq)*time.Millisecond)), nil))
	}

	msgs, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Sequence)
		assert.Equal(t, fmt.Sprintf("message %d", i+1), m.Content)
		if i > 0 {
			assert.False(t, m.Timestamp.Before(msgs[i-1].Timestamp))
		}
	}
	assert.Equal(t, model.SpeakerAgent2, msgs[1].AgentType)
}

func TestStore_DeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", now), newMessage("conv-1", 1, now)))
	require.NoError(t, s.DeleteConversation(ctx, "conv-1"))

	_, err := s.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteConversation(ctx, "conv-1"), ErrNotFound)
}

func TestStore_ListConversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		require.NoError(t, s.CreateConversation(ctx, newConversation(id, now.Add(time.Duration(i)*time.Minute)), nil))
	}

	convs, total, err := s.ListConversations(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv-2", convs[0].ID)
	assert.Equal(t, "conv-1", convs[1].ID)

	convs, _, err = s.ListConversations(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-0", convs[0].ID)
}

func TestWithDefaults(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", withDefaults(":memory:"))
	assert.Equal(t, "data.db?_busy_timeout=100&_foreign_keys=on&_txlock=immediate", withDefaults("data.db?_busy_timeout=100"))
}
