package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/model"
	"github.com/capitalize-ai/persona-dialogue/internal/service"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
	"github.com/capitalize-ai/persona-dialogue/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.ConversationService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service: svc,
		logger:  log,
	}
}

// DoneEvent is the final event of a successful run.
type DoneEvent struct {
	ConversationID string `json:"conversationId"`
	TotalMessages  int    `json:"totalMessages"`
}

// ErrorEvent reports a run that stopped early.
type ErrorEvent struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

var errStreamingUnsupported = errors.New("streaming not supported")

// Run handles POST /api/conversation/run
// It starts a conversation and drives it to completion, sending one "message"
// event per turn followed by "done" or "error". Failures before the first
// turn are reported as a regular JSON error response.
func (h *StreamHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.InitConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errStreamingUnsupported.Error())
		return
	}

	// A full run outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	streaming := false
	final, err := h.service.Run(ctx, &req, func(resp *model.ConversationResponse) error {
		if !streaming {
			streaming = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)

			metrics.IncrementSSEConnections()
		}
		return sendSSEEvent(w, flusher, "message", resp)
	})
	if streaming {
		defer metrics.DecrementSSEConnections()
	}

	if err != nil {
		if !streaming {
			writeServiceError(w, h.logger, err)
			return
		}

		event := &ErrorEvent{Code: "run_error", Message: "conversation stopped"}
		if final != nil {
			event.ConversationID = final.ConversationID
		}
		if code := service.CodeOf(err); code != "" {
			event.Code = string(code)
			event.Message = err.Error()
		}

		log := h.logger
		if final != nil {
			log = log.WithConversation(final.ConversationID)
		}
		if ctx.Err() != nil {
			log.Info("SSE client disconnected")
			return
		}
		log.Warn("conversation run failed", zap.Error(err))
		sendSSEEvent(w, flusher, "error", event)
		return
	}

	sendSSEEvent(w, flusher, "done", &DoneEvent{
		ConversationID: final.ConversationID,
		TotalMessages:  final.TotalMessages,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
