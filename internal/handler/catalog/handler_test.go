package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
)

func setupRouter() *chi.Mux {
	h := New(persona.NewMemoryStore(persona.Seed()), scenario.NewMemoryStore(scenario.Seed()))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestListScenarios(t *testing.T) {
	r := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/scenarios", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []scenario.Scenario
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(scenario.Seed()) {
		t.Fatalf("expected %d scenarios, got %d", len(scenario.Seed()), len(got))
	}
}

func TestGetPersona(t *testing.T) {
	r := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/personas/tired-traveller", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got persona.Persona
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Dana Whitfield" {
		t.Fatalf("unexpected persona %q", got.Name)
	}
}

func TestGetUnknownScenario(t *testing.T) {
	r := setupRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/scenarios/nope", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
