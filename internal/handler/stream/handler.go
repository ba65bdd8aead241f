package stream

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/httperr"
	sessionModel "github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/utils"
)

// TurnSubmitter runs one trainee turn against a stored session.
type TurnSubmitter interface {
	Get(ctx context.Context, id string) (sessionModel.State, error)
	SubmitTurn(ctx context.Context, id, message string, forceEnd bool) (sessionModel.State, error)
}

// TurnStreamer is a TurnSubmitter that can also stream the guest reply as it is generated.
type TurnStreamer interface {
	TurnSubmitter
	StreamTurn(ctx context.Context, id, message string, forceEnd bool, onChunk func(string)) (sessionModel.State, error)
}

// Handler renders one training turn as a Server-Sent Events stream.
type Handler struct {
	training     TurnStreamer
	logger       *logging.Logger
	streamTokens bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithTokenStreaming emits a "delta" event per model chunk of the guest reply.
func WithTokenStreaming(enabled bool) Option {
	return func(h *Handler) { h.streamTokens = enabled }
}

// New creates a stream handler.
func New(training TurnStreamer, logger *logging.Logger, opts ...Option) *Handler {
	h := &Handler{
		training: training,
		logger:   logger.Named("stream"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the SSE route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// Event is one named payload of a turn rendition, shared by the SSE and WebSocket transports.
type Event struct {
	Name string
	Data any
}

// EvaluationData reports the rating of the latest trainee turn. Rating is nil when evaluation failed.
type EvaluationData struct {
	Rating      *int     `json:"rating"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// MessageData is a guest utterance.
type MessageData struct {
	TurnID  string `json:"turnId"`
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// CompletedData carries the final feedback.
type CompletedData struct {
	Status   sessionModel.Status    `json:"status"`
	Feedback *sessionModel.Feedback `json:"feedback"`
}

// TurnEvents describes the outcome of a turn: the evaluation of the trainee turn (when one was
// submitted) followed by either the guest reply or the completion feedback.
func TurnEvents(st sessionModel.State, submitted bool) []Event {
	var events []Event
	if submitted {
		for i := len(st.Conversation) - 1; i >= 0; i-- {
			turn := st.Conversation[i]
			if turn.Speaker != sessionModel.Trainee {
				continue
			}
			events = append(events, Event{Name: "evaluation", Data: EvaluationData{
				Rating:      turn.Rating,
				Reason:      turn.RatingReason,
				Suggestions: turn.Suggestions,
			}})
			break
		}
	}

	if st.Status == sessionModel.StatusCompleted {
		return append(events, Event{Name: "completed", Data: CompletedData{Status: st.Status, Feedback: st.Feedback}})
	}
	if last, ok := st.LastTurn(); ok && last.Speaker == sessionModel.Guest {
		events = append(events, Event{Name: "message", Data: MessageData{
			TurnID:  last.ID,
			Speaker: string(last.Speaker),
			Content: last.Content,
		}})
	}
	return events
}

// DeltaData is one chunk of the guest reply being generated.
type DeltaData struct {
	Content string `json:"content"`
}

type startData struct {
	SessionID string `json:"sessionId"`
	Persona   string `json:"persona"`
}

type errorData struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := r.URL.Query().Get("message")
	forceEnd, _ := strconv.ParseBool(r.URL.Query().Get("forceEnd"))
	if message == "" && !forceEnd {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	current, err := h.training.Get(r.Context(), sessionID)
	if err != nil {
		httperr.Respond(w, r, h.logger, err)
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", startData{SessionID: sessionID, Persona: current.Persona.Name})

	var onChunk func(string)
	if h.streamTokens {
		onChunk = func(chunk string) {
			utils.SendSSEEvent(w, flusher, "delta", DeltaData{Content: chunk})
		}
	}

	updated, err := h.training.StreamTurn(r.Context(), sessionID, message, forceEnd, onChunk)
	if err != nil {
		h.logger.For(r.Context()).Warn("stream turn failed", zap.String("session_id", sessionID), zap.Error(err))
		utils.SendSSEEvent(w, flusher, "error", errorData{Status: httperr.Status(err), Error: httperr.Message(err)})
		utils.SendSSEEvent(w, flusher, "end", map[string]bool{"finished": false})
		return
	}

	for _, event := range TurnEvents(updated, message != "") {
		utils.SendSSEEvent(w, flusher, event.Name, event.Data)
	}
	utils.SendSSEEvent(w, flusher, "end", map[string]any{"finished": true, "status": updated.Status})
}
