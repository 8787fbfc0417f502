package web

// errors.go turns run failures into JSON responses.
//
// The technical error is logged with the request ID; the client gets the
// user message and support code from core.MapError. The status follows the
// pipeline error kind.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrSourceRead):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user-facing form with status.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	s.requestLogger(r).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}
	s.writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.logger)
}
