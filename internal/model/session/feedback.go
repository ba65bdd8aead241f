package session

import "slices"

// Outcome names why a session completed.
type Outcome string

const (
	OutcomeObjectiveMet Outcome = "objective_met"
	OutcomeGuestEnded   Outcome = "guest_ended"
	OutcomeMaxTurns     Outcome = "max_turns"
	OutcomeForced       Outcome = "forced"
)

// ThemeCount is one recurring improvement theme across the session's suggestions.
type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

// Feedback is the final report attached when a session completes.
// Assessment is nil only when aggregation failed.
type Feedback struct {
	Outcome      Outcome      `json:"outcome"`
	AverageScore *float64     `json:"averageScore"`
	RatedTurns   int          `json:"ratedTurns"`
	TraineeTurns int          `json:"traineeTurns"`
	Strengths    []string     `json:"strengths"`
	Weaknesses   []string     `json:"weaknesses"`
	Themes       []ThemeCount `json:"themes"`
	Assessment   *string      `json:"assessment"`
}

// Clone returns a deep copy.
func (f *Feedback) Clone() *Feedback {
	if f == nil {
		return nil
	}
	out := *f
	if f.AverageScore != nil {
		avg := *f.AverageScore
		out.AverageScore = &avg
	}
	if f.Assessment != nil {
		text := *f.Assessment
		out.Assessment = &text
	}
	out.Strengths = slices.Clone(f.Strengths)
	out.Weaknesses = slices.Clone(f.Weaknesses)
	out.Themes = slices.Clone(f.Themes)
	return &out
}
