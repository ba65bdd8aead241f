package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/observability/metrics"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai/aitest"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/completion"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/evaluator"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/guest"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/workflow"
	"github.com/zhouzirui/guest-roleplay/backend/internal/store"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterWithoutModel(t *testing.T) {
	h := NewRouter(Dependencies{
		Personas:  persona.NewMemoryStore(persona.Seed()),
		Scenarios: scenario.NewMemoryStore(scenario.Seed()),
		Logger:    logging.Nop(),
	})

	assert.Equal(t, http.StatusOK, get(h, "/api/scenarios").Code)
	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/api/sessions/abc").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(h, "/api/stream/abc?message=hi").Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewTrainingMetrics(reg)
	logger := logging.Nop()

	model := aitest.NewCompleter().
		Reply(ai.PurposeEvaluation, `{"score": 4, "reason": "Good"}`).
		Reply(ai.PurposeGuestTurn, "Alright.")
	gen := guest.NewGenerator(model, 0, logger)
	wf, err := workflow.New(context.Background(), gen, evaluator.New(model, 0, logger), completion.NewDetector(10), workflow.WithMetrics(m))
	require.NoError(t, err)

	personas := persona.NewMemoryStore(persona.Seed())
	scenarios := scenario.NewMemoryStore(scenario.Seed())
	svc := training.NewService(store.NewMemory(), wf, gen, scenarios, personas, logger)

	h := NewRouter(Dependencies{
		Personas:  personas,
		Scenarios: scenarios,
		Training:  svc,
		Workflow:  wf,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    logger,
	})

	st, err := svc.Start(context.Background(), training.StartRequest{ScenarioID: "late-checkout", PersonaID: "friendly-regular"})
	require.NoError(t, err)
	_, err = svc.SubmitTurn(context.Background(), st.ID, "Let me see what I can do.", false)
	require.NoError(t, err)

	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `roleplay_workflow_invocations_total{outcome="continued"} 1`), rec.Body.String())
	assert.Equal(t, http.StatusOK, get(h, "/api/sessions/"+st.ID).Code)
}
