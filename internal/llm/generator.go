package llm

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/persona-dialogue/pkg/metrics"
)

// ErrNoClient is returned when no provider client is configured.
var ErrNoClient = errors.New("no LLM provider configured")

// Generator turns a (system, user) instruction pair into generated text using
// a single provider call. Failures are returned as-is; nothing is retried.
type Generator struct {
	client Client
	model  string
}

// NewGenerator creates a generator. model may be empty to use the provider default.
func NewGenerator(client Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate calls the provider once and returns the generated text.
func (g *Generator) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if g == nil || g.client == nil {
		return "", ErrNoClient
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, &CompletionRequest{
		Model:       g.model,
		System:      system,
		Messages:    []ChatMessage{{Role: "user", Content: user}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		metrics.RecordGeneration(g.modelLabel(""), "error", time.Since(start).Seconds(), 0, 0)
		return "", err
	}

	metrics.RecordGeneration(g.modelLabel(resp.Model), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	return resp.Content, nil
}

func (g *Generator) modelLabel(reported string) string {
	switch {
	case reported != "":
		return reported
	case g.model != "":
		return g.model
	default:
		return g.client.Name()
	}
}
