package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/utils"
)

// Handler serves the read-only scenario and persona catalogs.
type Handler struct {
	personas  persona.Store
	scenarios scenario.Store
}

// New creates a catalog handler.
func New(personas persona.Store, scenarios scenario.Store) *Handler {
	return &Handler{
		personas:  personas,
		scenarios: scenarios,
	}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{id}", h.handleGetPersona)
	r.Get("/scenarios", h.handleListScenarios)
	r.Get("/scenarios/{id}", h.handleGetScenario)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.scenarios.List())
}

func (h *Handler) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scenarios.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "scenario not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sc)
}
