// Package service orchestrates persona dialogues: it derives each turn from
// the persisted transcript, asks the generation provider for the next
// message, and stores the result.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/dialogue"
	"github.com/capitalize-ai/persona-dialogue/internal/model"
	"github.com/capitalize-ai/persona-dialogue/internal/store"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
	"github.com/capitalize-ai/persona-dialogue/pkg/metrics"
)

// DefaultMaxTokens bounds each generated message.
const DefaultMaxTokens = 500

// Store persists conversations and messages.
type Store interface {
	CreateConversation(ctx context.Context, conv *model.Conversation, first *model.Message) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	AppendMessage(ctx context.Context, msg *model.Message, completedAt *time.Time) error
	ListConversations(ctx context.Context, limit, offset int) ([]model.Conversation, int, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Generator produces the text of one message.
type Generator interface {
	Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// EventPublisher receives conversation lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
}

// Option configures a ConversationService.
type Option func(*ConversationService)

// WithEvents publishes lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(s *ConversationService) { s.events = p }
}

// WithMaxTokens sets the per-message token budget.
func WithMaxTokens(n int) Option {
	return func(s *ConversationService) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) { s.now = now }
}

// ConversationService handles conversation operations.
type ConversationService struct {
	store     Store
	generator Generator
	events    EventPublisher
	logger    *logger.Logger
	tracer    trace.Tracer
	maxTokens int
	now       func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(st Store, gen Generator, log *logger.Logger, opts ...Option) *ConversationService {
	s := &ConversationService{
		store:     st,
		generator: gen,
		logger:    log,
		tracer:    otel.Tracer("github.com/capitalize-ai/persona-dialogue/internal/service"),
		maxTokens: DefaultMaxTokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a conversation and generates its opening message.
func (s *ConversationService) Start(ctx context.Context, req *model.InitConversationRequest) (resp *model.ConversationResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "ConversationService.Start")
	defer func() { endSpan(span, err) }()

	p, err := validateStart(req)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		Agent1Personality:  p.agent1,
		Agent2Personality:  p.agent2,
		Topic:              p.topic,
		ConversationLength: p.length,
		PolitenessLevel:    p.politeness,
		Status:             model.StatusInProgress,
		StartTime:          s.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int("conversation.length", conv.ConversationLength),
	)

	turn := dialogue.NextTurn(0, conv.ConversationLength)
	content, err := s.generate(ctx, conv, turn, "")
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(conv.ID, turn, content, time.Time{})
	if err := s.store.CreateConversation(ctx, conv, msg); err != nil {
		return nil, fmt.Errorf("persist conversation: %w", err)
	}
	conv.MessageCount = 1

	metrics.ConversationsStarted.WithLabelValues(string(conv.PolitenessLevel)).Inc()
	metrics.RecordMessage(string(msg.Phase), string(msg.AgentType))

	s.logger.Info("conversation started",
		zap.String("conversation_id", conv.ID),
		zap.String("politeness", string(conv.PolitenessLevel)),
		zap.Int("conversation_length", conv.ConversationLength),
		zap.Int("expected_total", dialogue.ExpectedTotal(conv.ConversationLength)),
	)

	s.publish(ctx, &model.ConversationEvent{
		ConversationID: conv.ID,
		Type:           model.EventTypeStarted,
		Metadata: map[string]any{
			"topic":              conv.Topic,
			"politenessLevel":    conv.PolitenessLevel,
			"conversationLength": conv.ConversationLength,
		},
	})
	s.publish(ctx, &model.ConversationEvent{ConversationID: conv.ID, Type: model.EventTypeMessage, Message: msg})

	return toResponse(conv, msg, turn), nil
}

// Get returns the rendered transcript of a completed conversation. In-progress
// conversations are reported as not found.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.TranscriptView, error) {
	t, err := s.Transcript(ctx, id)
	if err != nil {
		return nil, err
	}

	conv := t.Conversation
	return &model.TranscriptView{
		ConversationID:     conv.ID,
		Markdown:           markdownTranscript(t.Messages),
		Agent1Personality:  conv.Agent1Personality,
		Agent2Personality:  conv.Agent2Personality,
		Topic:              conv.Topic,
		PolitenessLevel:    conv.PolitenessLevel,
		ConversationLength: conv.ConversationLength,
		Status:             conv.Status,
		MessageCount:       len(t.Messages),
		StartTime:          conv.StartTime,
		EndTime:            conv.EndTime,
	}, nil
}

// Transcript returns a completed conversation with its ordered messages.
func (s *ConversationService) Transcript(ctx context.Context, id string) (*model.Transcript, error) {
	conv, err := s.conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.Completed() {
		return nil, newError(ErrorNotFound, "conversation not completed", nil)
	}

	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	return &model.Transcript{Conversation: *conv, Messages: msgs}, nil
}

// List returns conversation summaries, newest first.
func (s *ConversationService) List(ctx context.Context, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.store.ListConversations(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// Delete removes a conversation and its messages.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrorNotFound, "conversation not found", err)
		}
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

func (s *ConversationService) conversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrorNotFound, "conversation not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationService) newMessage(conversationID string, turn dialogue.Turn, content string, after time.Time) *model.Message {
	ts := s.now().UTC()
	// Timestamps order the transcript, so they must never go backwards.
	if !ts.After(after) {
		ts = after.Add(time.Microsecond)
	}
	return &model.Message{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationID:  conversationID,
		Sequence:        turn.Position,
		AgentType:       turn.Speaker,
		Phase:           turn.Phase,
		IterationNumber: turn.Iteration,
		Content:         content,
		Timestamp:       ts,
	}
}

// publish stamps and sends evt. Failures are logged and counted only.
func (s *ConversationService) publish(ctx context.Context, evt *model.ConversationEvent) {
	if s.events == nil {
		return
	}

	evt.ID = uuid.NewString()
	evt.CreatedAt = s.now().UTC()

	typ := string(evt.Type)
	if _, err := s.events.PublishEvent(ctx, evt); err != nil {
		metrics.EventsPublished.WithLabelValues(typ, "error").Inc()
		s.logger.Warn("failed to publish conversation event",
			zap.String("conversation_id", evt.ConversationID),
			zap.String("type", typ),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(typ, "success").Inc()
}

func toResponse(conv *model.Conversation, msg *model.Message, turn dialogue.Turn) *model.ConversationResponse {
	return &model.ConversationResponse{
		ConversationID:        conv.ID,
		Message:               msg.Content,
		AgentType:             msg.AgentType,
		IterationNumber:       msg.IterationNumber,
		Phase:                 msg.Phase,
		IsOngoing:             turn.Ongoing,
		TotalMessages:         turn.Position,
		ExpectedTotalMessages: dialogue.ExpectedTotal(conv.ConversationLength),
	}
}

func markdownTranscript(msgs []model.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("**%s:** %s", m.AgentType, m.Content))
	}
	return strings.Join(lines, "\n")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
