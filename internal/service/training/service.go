package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/workflow"
	"github.com/zhouzirui/guest-roleplay/backend/internal/store"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

var (
	ErrSessionNotFound  = store.ErrNotFound
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrPersonaNotFound  = errors.New("persona not found")
)

// Store persists sessions. Conversations are append-only; the thread header is rewritten.
type Store interface {
	Create(ctx context.Context, st session.State) error
	Load(ctx context.Context, id string) (session.State, error)
	AppendTurns(ctx context.Context, id string, turns []session.Turn) error
	UpdateThread(ctx context.Context, id string, thread store.Thread) error
}

// Runner executes one workflow invocation.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) (*session.State, error)
}

// PersonaDesigner generates and refines guest personas.
type PersonaDesigner interface {
	GeneratePersona(ctx context.Context, sc scenario.Scenario, hint string) (persona.Persona, error)
	RefinePersona(ctx context.Context, sc scenario.Scenario, p persona.Persona, instructions string) (persona.Persona, error)
}

// StartRequest selects or supplies the scenario and persona for a new session.
type StartRequest struct {
	ScenarioID         string          `json:"scenarioId,omitempty"`
	Scenario           json.RawMessage `json:"scenario,omitempty"`
	PersonaID          string          `json:"personaId,omitempty"`
	Persona            json.RawMessage `json:"persona,omitempty"`
	GeneratePersona    bool            `json:"generatePersona,omitempty"`
	PersonaHint        string          `json:"personaHint,omitempty"`
	RefineInstructions string          `json:"refineInstructions,omitempty"`
	SkipOpening        bool            `json:"skipOpening,omitempty"`
}

// Service owns session persistence around the stateless workflow.
type Service struct {
	store     Store
	runner    Runner
	designer  PersonaDesigner
	scenarios scenario.Store
	personas  persona.Store
	locks     *keyedMutex
	logger    *logging.Logger
}

// NewService wires the training service.
func NewService(st Store, runner Runner, designer PersonaDesigner, scenarios scenario.Store, personas persona.Store, logger *logging.Logger) *Service {
	return &Service{
		store:     st,
		runner:    runner,
		designer:  designer,
		scenarios: scenarios,
		personas:  personas,
		locks:     newKeyedMutex(),
		logger:    logger.Named("training"),
	}
}

// Start provisions a session and, unless skipped, produces the guest's opening line.
// Nothing is stored when any step fails.
func (s *Service) Start(ctx context.Context, req StartRequest) (session.State, error) {
	sc, err := s.resolveScenario(req)
	if err != nil {
		return session.State{}, err
	}
	p, err := s.resolvePersona(ctx, sc, req)
	if err != nil {
		return session.State{}, err
	}

	st := session.New(uuid.NewString(), sc, p)
	switch {
	case p.OpeningLine != "":
		if err := st.Append(session.NewGuestTurn(p.OpeningLine)); err != nil {
			return session.State{}, err
		}
	case !req.SkipOpening:
		opened, err := s.runner.Run(ctx, workflow.Request{State: st})
		if err != nil {
			return session.State{}, fmt.Errorf("open session: %w", err)
		}
		st = *opened
	}

	if err := s.store.Create(ctx, st); err != nil {
		return session.State{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.For(ctx).Info("training session started",
		zap.String("session_id", st.ID),
		zap.String("scenario", sc.ID),
		zap.String("persona", p.ID),
	)
	return st, nil
}

func (s *Service) resolveScenario(req StartRequest) (scenario.Scenario, error) {
	if len(req.Scenario) > 0 {
		return scenario.FromPayload(req.Scenario)
	}
	id := strings.TrimSpace(req.ScenarioID)
	if id == "" {
		return scenario.Scenario{}, validate.Errorf("start", "scenarioId", "is required when no scenario is supplied")
	}
	sc, ok := s.scenarios.FindByID(id)
	if !ok {
		return scenario.Scenario{}, fmt.Errorf("%w: %s", ErrScenarioNotFound, id)
	}
	return sc, nil
}

func (s *Service) resolvePersona(ctx context.Context, sc scenario.Scenario, req StartRequest) (persona.Persona, error) {
	var (
		p   persona.Persona
		err error
	)
	switch id := strings.TrimSpace(req.PersonaID); {
	case len(req.Persona) > 0:
		p, err = persona.FromPayload(req.Persona)
	case req.GeneratePersona:
		p, err = s.designer.GeneratePersona(ctx, sc, req.PersonaHint)
	case id != "":
		var ok bool
		if p, ok = s.personas.FindByID(id); !ok {
			err = fmt.Errorf("%w: %s", ErrPersonaNotFound, id)
		}
	default:
		err = validate.Errorf("start", "personaId", "is required unless a persona is supplied or generated")
	}
	if err != nil {
		return persona.Persona{}, err
	}

	if strings.TrimSpace(req.RefineInstructions) != "" {
		return s.designer.RefinePersona(ctx, sc, p, req.RefineInstructions)
	}
	return p, nil
}

// SubmitTurn runs one trainee turn against the stored session and persists the result.
// Invocations for the same session are serialised.
func (s *Service) SubmitTurn(ctx context.Context, id, message string, forceEnd bool) (session.State, error) {
	return s.StreamTurn(ctx, id, message, forceEnd, nil)
}

// StreamTurn is SubmitTurn with the guest reply passed to onChunk while it is generated.
// Chunks are delivered before the turn is persisted; a failed turn may still have streamed some.
func (s *Service) StreamTurn(ctx context.Context, id, message string, forceEnd bool, onChunk func(string)) (session.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.store.Load(ctx, id)
	if err != nil {
		return session.State{}, err
	}

	updated, err := s.runner.Run(ctx, workflow.Request{
		State:          current,
		TraineeMessage: message,
		ForceEnd:       forceEnd,
		OnGuestChunk:   onChunk,
	})
	if err != nil {
		return session.State{}, err
	}

	if err := s.persist(ctx, current, *updated); err != nil {
		return session.State{}, err
	}
	return *updated, nil
}

func (s *Service) persist(ctx context.Context, before, after session.State) error {
	if delta := after.Conversation[len(before.Conversation):]; len(delta) > 0 {
		if err := s.store.AppendTurns(ctx, after.ID, delta); err != nil {
			return fmt.Errorf("append turns: %w", err)
		}
	}
	if err := s.store.UpdateThread(ctx, after.ID, store.ThreadOf(after)); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Get returns the stored session.
func (s *Service) Get(ctx context.Context, id string) (session.State, error) {
	return s.store.Load(ctx, id)
}

// Pause suspends an active session.
func (s *Service) Pause(ctx context.Context, id string) (session.State, error) {
	return s.transition(ctx, id, (*session.State).Pause)
}

// Resume reactivates a paused session.
func (s *Service) Resume(ctx context.Context, id string) (session.State, error) {
	return s.transition(ctx, id, (*session.State).Resume)
}

func (s *Service) transition(ctx context.Context, id string, apply func(*session.State) error) (session.State, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	st, err := s.store.Load(ctx, id)
	if err != nil {
		return session.State{}, err
	}
	if err := apply(&st); err != nil {
		return session.State{}, err
	}
	if err := s.store.UpdateThread(ctx, id, store.ThreadOf(st)); err != nil {
		return session.State{}, fmt.Errorf("update session: %w", err)
	}

	s.logger.For(ctx).Info("training session status changed",
		zap.String("session_id", id),
		zap.String("status", string(st.Status)),
	)
	return st, nil
}

// keyedMutex hands out one mutex per key and drops it when the last holder releases.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
