package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/persona-dialogue/internal/service"
	"github.com/capitalize-ai/persona-dialogue/pkg/logger"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service error to its HTTP status. Unclassified
// errors are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		log.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch se.Code {
	case service.ErrorValidation, service.ErrorConflict:
		writeError(w, http.StatusBadRequest, se.Reason)
	case service.ErrorNotFound:
		writeError(w, http.StatusNotFound, se.Reason)
	case service.ErrorGeneration:
		resp := ErrorResponse{Error: se.Reason}
		if se.Err != nil {
			resp.Message = se.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		log.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
