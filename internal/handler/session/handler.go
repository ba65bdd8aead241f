package session

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/httperr"
	sessionModel "github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
	trainingService "github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/workflow"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// Handler exposes stored training sessions and the stateless workflow endpoint.
type Handler struct {
	training *trainingService.Service
	runner   trainingService.Runner
	logger   *logging.Logger
}

// New creates a session handler.
func New(training *trainingService.Service, runner trainingService.Runner, logger *logging.Logger) *Handler {
	return &Handler{
		training: training,
		runner:   runner,
		logger:   logger.Named("session_handler"),
	}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/workflow/run", h.handleRunWorkflow)
	r.Post("/sessions", h.handleStart)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/turns", h.handleSubmitTurn)
		r.Post("/pause", h.handlePause)
		r.Post("/resume", h.handleResume)
	})
}

type turnRequest struct {
	TraineeMessage string `json:"traineeMessage"`
	ForceEnd       bool   `json:"forceEnd"`
}

type runRequest struct {
	State          json.RawMessage `json:"state"`
	TraineeMessage string          `json:"traineeMessage"`
	ForceEnd       bool            `json:"forceEnd"`
}

// failureResponse carries the partially advanced state when the workflow returned one.
type failureResponse struct {
	Error string              `json:"error"`
	State *sessionModel.State `json:"state,omitempty"`
}

func (h *Handler) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload runRequest
	if !h.decode(w, r, &payload) {
		return
	}
	if len(payload.State) == 0 {
		httperr.Respond(w, r, h.logger, validate.Errorf("request", "state", "is required"))
		return
	}

	st, err := sessionModel.StateFromPayload(payload.State)
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}

	updated, err := h.runner.Run(r.Context(), workflow.Request{
		State:          st,
		TraineeMessage: payload.TraineeMessage,
		ForceEnd:       payload.ForceEnd,
	})
	if err != nil {
		if updated != nil {
			utils.RespondJSON(w, httperr.Status(err), failureResponse{Error: httperr.Message(err), State: updated})
			return
		}
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload trainingService.StartRequest
	if !h.decode(w, r, &payload) {
		return
	}

	st, err := h.training.Start(r.Context(), payload)
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, st)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.training.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var payload turnRequest
	if !h.decode(w, r, &payload) {
		return
	}

	st, err := h.training.SubmitTurn(r.Context(), chi.URLParam(r, "sessionID"), payload.TraineeMessage, payload.ForceEnd)
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, st)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	st, err := h.training.Pause(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	st, err := h.training.Resume(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, st)
}

// decode reads a strict JSON body into dst and writes a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Decode("request", json.RawMessage(body), dst); err != nil {
		httperr.Respond(w, r, h.logger, err)
		return false
	}
	return true
}
