// Package httperr maps domain errors onto HTTP responses.
package httperr

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/utils"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case validate.IsSchemaError(err):
		return http.StatusBadRequest
	case errors.Is(err, training.ErrSessionNotFound),
		errors.Is(err, training.ErrScenarioNotFound),
		errors.Is(err, training.ErrPersonaNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionNotActive),
		errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ai.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ai.ErrModelError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err. Internal failures are not echoed.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// Respond writes err as an {"error": ...} body and logs server-side failures.
func Respond(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		logger.For(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	utils.RespondError(w, status, Message(err))
}
