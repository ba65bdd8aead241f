package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/catalog"
	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/stream"
	"github.com/zhouzirui/guest-roleplay/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/guest-roleplay/backend/internal/middleware"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	trainingService "github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to.
// Training and Workflow are nil when no chat model is configured.
type Dependencies struct {
	Personas       persona.Store
	Scenarios      scenario.Store
	Training       *trainingService.Service
	Workflow       trainingService.Runner
	Metrics        http.Handler
	AllowedOrigins []string
	// StreamTokens sends the guest reply chunk by chunk on the SSE route.
	StreamTokens bool
	Logger       *logging.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "ok", "model": deps.Training != nil})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		catalog.New(deps.Personas, deps.Scenarios).RegisterRoutes(api)

		if deps.Training == nil || deps.Workflow == nil {
			unavailable := func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "chat model is not configured")
			}
			api.HandleFunc("/workflow/*", unavailable)
			api.HandleFunc("/sessions", unavailable)
			api.HandleFunc("/sessions/*", unavailable)
			api.HandleFunc("/stream/*", unavailable)
			api.HandleFunc("/ws/*", unavailable)
			return
		}

		session.New(deps.Training, deps.Workflow, deps.Logger).RegisterRoutes(api)
		stream.New(deps.Training, deps.Logger, stream.WithTokenStreaming(deps.StreamTokens)).RegisterRoutes(api)
		ws.New(deps.Training, deps.AllowedOrigins, deps.Logger).RegisterRoutes(api)
	})

	return r
}
