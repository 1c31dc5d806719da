package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/dialogue"
	"github.com/capitalize-ai/persona-dialogue/internal/model"
	"github.com/capitalize-ai/persona-dialogue/internal/prompt"
	"github.com/capitalize-ai/persona-dialogue/internal/store"
	"github.com/capitalize-ai/persona-dialogue/pkg/metrics"
)

// TurnCallback is called after each persisted turn. Returning an error stops
// the run.
type TurnCallback func(resp *model.ConversationResponse) error

// Advance generates and stores the next message of an in-progress conversation.
func (s *ConversationService) Advance(ctx context.Context, id string) (resp *model.ConversationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "ConversationService.Advance")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("conversation.id", id))

	conv, err := s.conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Completed() {
		return nil, newError(ErrorConflict, "conversation already completed", nil)
	}

	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	turn := dialogue.NextTurn(len(msgs), conv.ConversationLength)
	span.SetAttributes(
		attribute.Int("turn.position", turn.Position),
		attribute.String("turn.phase", string(turn.Phase)),
	)

	content, err := s.generate(ctx, conv, turn, dialogue.BuildTranscript(msgs))
	if err != nil {
		return nil, err
	}

	var last time.Time
	if n := len(msgs); n > 0 {
		last = msgs[n-1].Timestamp
	}
	msg := s.newMessage(conv.ID, turn, content, last)

	var completedAt *time.Time
	if !turn.Ongoing {
		completedAt = &msg.Timestamp
	}

	if err := s.store.AppendMessage(ctx, msg, completedAt); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, newError(ErrorConflict, "conversation was advanced concurrently or is already completed", err)
		case errors.Is(err, store.ErrNotFound):
			return nil, newError(ErrorNotFound, "conversation not found", err)
		default:
			return nil, fmt.Errorf("persist message: %w", err)
		}
	}

	metrics.RecordMessage(string(msg.Phase), string(msg.AgentType))
	s.publish(ctx, &model.ConversationEvent{ConversationID: conv.ID, Type: model.EventTypeMessage, Message: msg})

	if !turn.Ongoing {
		metrics.ConversationsCompleted.Inc()
		s.logger.Info("conversation completed",
			zap.String("conversation_id", conv.ID),
			zap.Int("total_messages", turn.Position),
		)
		s.publish(ctx, &model.ConversationEvent{
			ConversationID: conv.ID,
			Type:           model.EventTypeCompleted,
			Metadata:       map[string]any{"totalMessages": turn.Position},
		})
	}

	return toResponse(conv, msg, turn), nil
}

// Run starts a conversation and advances it until it completes, reporting
// every turn to onTurn. It returns the final turn.
func (s *ConversationService) Run(ctx context.Context, req *model.InitConversationRequest, onTurn TurnCallback) (*model.ConversationResponse, error) {
	resp, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := notify(onTurn, resp); err != nil {
		return resp, err
	}

	for resp.IsOngoing {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		next, err := s.Advance(ctx, resp.ConversationID)
		if err != nil {
			return resp, err
		}
		resp = next

		if err := notify(onTurn, resp); err != nil {
			return resp, err
		}
	}

	return resp, nil
}

func notify(onTurn TurnCallback, resp *model.ConversationResponse) error {
	if onTurn == nil {
		return nil
	}
	return onTurn(resp)
}

// generate composes the prompt for turn and makes exactly one provider call.
func (s *ConversationService) generate(ctx context.Context, conv *model.Conversation, turn dialogue.Turn, transcript string) (string, error) {
	p := prompt.Compose(prompt.Input{
		Persona:    conv.PersonaFor(turn.Speaker),
		Topic:      conv.Topic,
		Transcript: transcript,
		Politeness: conv.PolitenessLevel,
		Phase:      turn.Phase,
	})

	text, err := s.generator.Generate(ctx, p.System, p.User, s.maxTokens, p.Temperature)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("provider returned an empty message")
	}
	if err != nil {
		s.logger.Error("message generation failed",
			zap.String("conversation_id", conv.ID),
			zap.Int("position", turn.Position),
			zap.Error(err),
		)
		s.publish(ctx, &model.ConversationEvent{
			ConversationID: conv.ID,
			Type:           model.EventTypeFailed,
			Reason:         err.Error(),
			Metadata:       map[string]any{"position": turn.Position},
		})
		return "", newError(ErrorGeneration, "generation failed", err)
	}

	return strings.TrimSpace(text), nil
}
