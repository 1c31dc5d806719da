package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/persona-dialogue/internal/export"
	"github.com/capitalize-ai/persona-dialogue/internal/middleware"
	"github.com/capitalize-ai/persona-dialogue/internal/model"
	"github.com/capitalize-ai/persona-dialogue/internal/service"
	"github.com/capitalize-ai/persona-dialogue/internal/store"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, _, _ string, _ int, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("turn %d", g.calls), nil
}

func newTestRouter(t *testing.T, gen service.Generator, jwtSecret string) http.Handler {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logger.NewNop()
	svc := service.NewConversationService(st, gen, log)

	return NewRouter(RouterConfig{
		Conversations:     NewConversationHandler(svc, log),
		Stream:            NewStreamHandler(svc, log),
		Health:            NewHealthHandler(st, nil),
		Logger:            log,
		JWTSecret:         jwtSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func initBody(length interface{}) map[string]interface{} {
	return map[string]interface{}{
		"agent1Personality":  "a pirate",
		"agent2Personality":  "a librarian",
		"topic":              "buried treasure",
		"politenessLevel":    "low",
		"conversationLength": length,
	}
}

func TestConversationLifecycle(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/init", initBody("1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[model.ConversationResponse](t, rec)
	assert.Equal(t, model.SpeakerAgent1, first.AgentType)
	assert.Equal(t, 6, first.ExpectedTotalMessages)
	id := first.ConversationID

	rec = do(t, h, http.MethodGet, "/api/conversation/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/conversation/"+id+"/export?format=json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var last model.ConversationResponse
	for i := 0; i < 5; i++ {
		rec = do(t, h, http.MethodPost, "/api/conversation/follow", map[string]string{"conversationId": id})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = decode[model.ConversationResponse](t, rec)
	}
	assert.False(t, last.IsOngoing)
	assert.Equal(t, model.PhaseConclusion, last.Phase)
	assert.Equal(t, 6, last.TotalMessages)

	rec = do(t, h, http.MethodPost, "/api/conversation/follow", map[string]string{"conversationId": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "conversation already completed", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/api/conversation/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[model.TranscriptView](t, rec)
	assert.Equal(t, model.StatusCompleted, view.Status)
	assert.True(t, strings.HasPrefix(view.Markdown, "**A1:** turn 1\n**A2:** turn 2"))

	rec = do(t, h, http.MethodGet, "/api/conversation/"+id+"/export?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprintf(`attachment; filename="conversation_%s.json"`, id), rec.Header().Get("Content-Disposition"))
	doc, err := export.DecodeJSON(rec.Body)
	require.NoError(t, err)
	assert.Len(t, doc.Messages, 6)

	for _, f := range []string{"md", "txt", "xml", "html"} {
		rec = do(t, h, http.MethodGet, "/api/conversation/"+id+"/export?format="+f, nil)
		assert.Equal(t, http.StatusOK, rec.Code, f)
		assert.Contains(t, rec.Body.String(), "turn 6", f)
	}

	rec = do(t, h, http.MethodGet, "/api/conversation/"+id+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInit_BadRequests(t *testing.T) {
	gen := &stubGenerator{}
	h := newTestRouter(t, gen, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/init", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := initBody(3)
	delete(body, "topic")
	rec = do(t, h, http.MethodPost, "/api/conversation/init", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
	assert.Zero(t, gen.calls)

	// Invalid length and politeness fall back to defaults instead of failing.
	body = initBody("lots")
	body["politenessLevel"] = "aggressive"
	rec = do(t, h, http.MethodPost, "/api/conversation/init", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, decode[model.ConversationResponse](t, rec).ExpectedTotalMessages)
}

func TestInit_LargeLengthClamps(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	for _, length := range []json.Number{"1e3", "10.0", "99999999999999999999"} {
		rec := do(t, h, http.MethodPost, "/api/conversation/init", initBody(length))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 24, decode[model.ConversationResponse](t, rec).ExpectedTotalMessages, "length %s", length)
	}
}

func TestFollow_Errors(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/follow", map[string]string{"conversationId": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conversation/follow", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/conversation/follow",
		map[string]string{"conversationId": "0190c6a2-7b1e-7c3d-8e4f-1a2b3c4d5e6f"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInit_GenerationFailure(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{err: errors.New("quota exceeded")}, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/init", initBody(2))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "generation failed", resp.Error)
	assert.Contains(t, resp.Message, "quota exceeded")

	rec = do(t, h, http.MethodGet, "/api/conversation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[model.ListConversationsResponse](t, rec).Total)
}

func TestRunStream(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/run", initBody(1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Equal(t, 6, strings.Count(out, "event: message\n"))
	assert.Contains(t, out, "event: done\n")
	assert.NotContains(t, out, "event: error\n")
	assert.Less(t, strings.LastIndex(out, "event: message"), strings.Index(out, "event: done"))
}

func TestRunStream_ValidationIsPlainJSON(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	body := initBody(1)
	body["agent1Personality"] = ""
	rec := do(t, h, http.MethodPost, "/api/conversation/run", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestListAndDelete(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	rec := do(t, h, http.MethodPost, "/api/conversation/init", initBody(1))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[model.ConversationResponse](t, rec).ConversationID

	rec = do(t, h, http.MethodGet, "/api/conversation?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListConversationsResponse](t, rec)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, id, list.Conversations[0].ID)
	assert.Equal(t, 1, list.Conversations[0].MessageCount)

	rec = do(t, h, http.MethodDelete, "/api/conversation/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/conversation/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, &stubGenerator{}, "")

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rec)["status"])
}

func TestAuthEnabled(t *testing.T) {
	const secret = "s3cret"
	h := newTestRouter(t, &stubGenerator{}, secret)

	rec := do(t, h, http.MethodPost, "/api/conversation/init", initBody(1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := func(scopes ...string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
			Scopes:           scopes,
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + s
	}

	rec = do(t, h, http.MethodPost, "/api/conversation/init", initBody(1), "Authorization", token())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[model.ConversationResponse](t, rec).ConversationID

	rec = do(t, h, http.MethodDelete, "/api/conversation/"+id, nil, "Authorization", token())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/conversation/"+id, nil, "Authorization", token(middleware.ScopeDelete))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Health stays public.
	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
