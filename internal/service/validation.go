package service

import (
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/persona-dialogue/internal/dialogue"
	"github.com/capitalize-ai/persona-dialogue/internal/model"
)

const (
	maxPersonaLength = 500
	maxTopicLength   = 1000
)

// startParams is a validated and normalized InitConversationRequest.
type startParams struct {
	agent1     string
	agent2     string
	topic      string
	politeness model.Politeness
	length     int
}

func validateStart(req *model.InitConversationRequest) (*startParams, error) {
	if req == nil {
		return nil, newError(ErrorValidation, "request body is required", nil)
	}

	p := &startParams{
		agent1:     strings.TrimSpace(req.Agent1Personality),
		agent2:     strings.TrimSpace(req.Agent2Personality),
		topic:      strings.TrimSpace(req.Topic),
		politeness: model.ParsePoliteness(req.PolitenessLevel),
		length:     dialogue.NormalizeLength(req.ConversationLength),
	}

	if p.agent1 == "" || p.agent2 == "" || p.topic == "" {
		return nil, newError(ErrorValidation, "agent1Personality, agent2Personality and topic are required", nil)
	}
	if err := checkText("agent1Personality", p.agent1, maxPersonaLength); err != nil {
		return nil, err
	}
	if err := checkText("agent2Personality", p.agent2, maxPersonaLength); err != nil {
		return nil, err
	}
	if err := checkText("topic", p.topic, maxTopicLength); err != nil {
		return nil, err
	}
	return p, nil
}

func checkText(field, value string, max int) error {
	if !utf8.ValidString(value) {
		return newError(ErrorValidation, field+" must be valid UTF-8", nil)
	}
	if utf8.RuneCountInString(value) > max {
		return newError(ErrorValidation, field+" exceeds maximum length", nil)
	}
	return nil
}
