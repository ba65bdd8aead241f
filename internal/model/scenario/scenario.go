package scenario

import (
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/validate"
)

// Difficulty grades how demanding the guest is.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// CompletionRules are the per-scenario thresholds the completion detector applies.
// A zero MaxTraineeTurns means the service-wide default applies.
type CompletionRules struct {
	MaxTraineeTurns int      `json:"maxTraineeTurns,omitempty" validate:"min=0,max=100"`
	SuccessPhrases  []string `json:"successPhrases,omitempty" validate:"dive,required"`
	// ExitPhrases are matched against the guest line the trainee is answering.
	ExitPhrases []string `json:"exitPhrases,omitempty" validate:"dive,required"`
}

// Scenario describes the situation a trainee is placed in. It is read-only once a session starts.
type Scenario struct {
	ID          string          `json:"id"`
	Title       string          `json:"title" validate:"required"`
	Situation   string          `json:"situation" validate:"required"`
	Objectives  []string        `json:"objectives" validate:"required,min=1,dive,required"`
	Constraints []string        `json:"constraints,omitempty" validate:"dive,required"`
	Difficulty  Difficulty      `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Completion  CompletionRules `json:"completion"`
}

// FromPayload validates a loosely typed scenario payload.
func FromPayload(raw any) (Scenario, error) {
	var sc Scenario
	if err := validate.Decode("scenario", raw, &sc); err != nil {
		return Scenario{}, err
	}
	sc.normalize()
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	return sc, nil
}

// Validate re-checks an already typed scenario, e.g. one that arrived nested in a session state.
func (s Scenario) Validate() error {
	return validate.Struct("scenario", &s)
}

// Clone returns a deep copy.
func (s Scenario) Clone() Scenario {
	out := s
	out.Objectives = cloneStrings(s.Objectives)
	out.Constraints = cloneStrings(s.Constraints)
	out.Completion.SuccessPhrases = cloneStrings(s.Completion.SuccessPhrases)
	out.Completion.ExitPhrases = cloneStrings(s.Completion.ExitPhrases)
	return out
}

func (s *Scenario) normalize() {
	s.ID = strings.TrimSpace(s.ID)
	s.Title = strings.TrimSpace(s.Title)
	s.Situation = strings.TrimSpace(s.Situation)
	s.Objectives = trimAll(s.Objectives)
	s.Constraints = trimAll(s.Constraints)
	s.Completion.SuccessPhrases = trimAll(s.Completion.SuccessPhrases)
	s.Completion.ExitPhrases = trimAll(s.Completion.ExitPhrases)
	if s.Difficulty == "" {
		s.Difficulty = Medium
	}
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
