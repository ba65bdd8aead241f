package session

import (
	"fmt"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
)

// Status is the session lifecycle position.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Completed is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusActive
	default:
		return false
	}
}

// State is the aggregate threaded through one workflow invocation.
type State struct {
	ID               string            `json:"id,omitempty"`
	Scenario         scenario.Scenario `json:"scenario"`
	Persona          persona.Persona   `json:"persona"`
	Conversation     []Turn            `json:"conversation" validate:"dive"`
	Status           Status            `json:"status" validate:"omitempty,oneof=active paused completed"`
	LastRating       *int              `json:"lastRating"`
	LastRatingReason string            `json:"lastRatingReason,omitempty"`
	Feedback         *Feedback         `json:"feedback"`
}

// New starts an active session with an empty conversation.
func New(id string, sc scenario.Scenario, p persona.Persona) State {
	return State{
		ID:           id,
		Scenario:     sc.Clone(),
		Persona:      p.Clone(),
		Conversation: []Turn{},
		Status:       StatusActive,
	}
}

// StateFromPayload validates a caller-supplied session state.
func StateFromPayload(raw any) (State, error) {
	var st State
	if err := validate.Decode("state", raw, &st); err != nil {
		return State{}, err
	}
	if st.Status == "" {
		st.Status = StatusActive
	}
	if err := st.Validate(); err != nil {
		return State{}, err
	}
	return st, nil
}

// Validate checks nested shapes and the dialogue invariants.
func (s State) Validate() error {
	if err := validate.Struct("state", &s); err != nil {
		return err
	}
	if err := s.Scenario.Validate(); err != nil {
		return err
	}
	if err := s.Persona.Validate(); err != nil {
		return err
	}
	for i, turn := range s.Conversation {
		if i > 0 && s.Conversation[i-1].Speaker == turn.Speaker {
			return validate.Errorf("state", fmt.Sprintf("conversation[%d]", i), "must alternate speakers")
		}
		if turn.Speaker == Guest && turn.Rating != nil {
			return validate.Errorf("state", fmt.Sprintf("conversation[%d].rating", i), "is only allowed on trainee turns")
		}
	}
	if s.Feedback != nil && s.Status != StatusCompleted {
		return validate.Errorf("state", "feedback", "is only allowed on completed sessions")
	}
	return nil
}

// Clone returns a deep copy so the workflow never writes through the caller's slices.
func (s State) Clone() State {
	out := s
	out.Scenario = s.Scenario.Clone()
	out.Persona = s.Persona.Clone()
	out.Conversation = make([]Turn, len(s.Conversation))
	for i, turn := range s.Conversation {
		out.Conversation[i] = turn.Clone()
	}
	if s.LastRating != nil {
		score := *s.LastRating
		out.LastRating = &score
	}
	out.Feedback = s.Feedback.Clone()
	return out
}

// Append adds a turn, enforcing alternation.
func (s *State) Append(turn Turn) error {
	if last, ok := s.LastTurn(); ok && last.Speaker == turn.Speaker {
		return fmt.Errorf("%w: %s turn cannot follow a %s turn", ErrInvalidTurnRole, turn.Speaker, last.Speaker)
	}
	s.Conversation = append(s.Conversation, turn)
	return nil
}

// LastTurn returns the newest turn.
func (s State) LastTurn() (Turn, bool) {
	if len(s.Conversation) == 0 {
		return Turn{}, false
	}
	return s.Conversation[len(s.Conversation)-1], true
}

// TraineeTurns counts trainee turns in the conversation.
func (s State) TraineeTurns() int {
	return CountTrainee(s.Conversation)
}

// CountTrainee counts trainee turns in a conversation.
func CountTrainee(conversation []Turn) int {
	n := 0
	for _, turn := range conversation {
		if turn.Speaker == Trainee {
			n++
		}
	}
	return n
}

// Pause flips an active session to paused.
func (s *State) Pause() error {
	return s.transition(StatusPaused)
}

// Resume flips a paused session back to active.
func (s *State) Resume() error {
	return s.transition(StatusActive)
}

// Complete moves an active session to completed and attaches its feedback.
func (s *State) Complete(feedback *Feedback) error {
	if err := s.transition(StatusCompleted); err != nil {
		return err
	}
	s.Feedback = feedback
	return nil
}

func (s *State) transition(next Status) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}
