package completion

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zhouzirui/guest-roleplay/backend/internal/analysis/signal"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

// ErrAggregation reports feedback synthesis that failed despite ratings being present.
var ErrAggregation = errors.New("feedback aggregation failed")

const (
	maxListed = 3
	minRating = 1
	maxRating = 5
)

// Decision is the detector's verdict for one invocation.
type Decision struct {
	Completed bool
	Outcome   session.Outcome
	Matched   string
	Feedback  *session.Feedback
	// AggregationErr is set when Feedback was degraded to a null assessment.
	AggregationErr error
}

// Detector decides whether a session is over. It holds only read-only configuration.
type Detector struct {
	defaultMaxTurns int
}

// NewDetector builds a Detector. defaultMaxTurns applies to scenarios without their own limit.
func NewDetector(defaultMaxTurns int) *Detector {
	return &Detector{defaultMaxTurns: defaultMaxTurns}
}

// MaxTurns returns the trainee turn limit in force for sc; 0 means unlimited.
func (d *Detector) MaxTurns(sc scenario.Scenario) int {
	if sc.Completion.MaxTraineeTurns > 0 {
		return sc.Completion.MaxTraineeTurns
	}
	return d.defaultMaxTurns
}

// Check evaluates the completion rules against conversation. The result depends only on its inputs.
func (d *Detector) Check(sc scenario.Scenario, conversation []session.Turn, forceEnd bool) Decision {
	outcome, matched, done := d.decide(sc, conversation, forceEnd)
	if !done {
		return Decision{}
	}

	feedback, err := Aggregate(outcome, conversation)
	return Decision{
		Completed:      true,
		Outcome:        outcome,
		Matched:        matched,
		Feedback:       feedback,
		AggregationErr: err,
	}
}

func (d *Detector) decide(sc scenario.Scenario, conversation []session.Turn, forceEnd bool) (session.Outcome, string, bool) {
	if forceEnd {
		return session.OutcomeForced, "", true
	}

	latestIdx := lastTraineeIndex(conversation)
	if latestIdx < 0 {
		return "", "", false
	}
	latest := conversation[latestIdx]

	if phrase, ok := signal.MatchPhrase(latest.Content, sc.Completion.SuccessPhrases); ok {
		return session.OutcomeObjectiveMet, phrase, true
	}

	exitPhrases := sc.Completion.ExitPhrases
	if len(exitPhrases) == 0 {
		exitPhrases = signal.DefaultExitPhrases
	}
	// Exit phrases are the guest's; the trainee's own words never end the session this way.
	if latestIdx > 0 && conversation[latestIdx-1].Speaker == session.Guest {
		if phrase, ok := signal.MatchPhrase(conversation[latestIdx-1].Content, exitPhrases); ok {
			return session.OutcomeGuestEnded, phrase, true
		}
	}

	if limit := d.MaxTurns(sc); limit > 0 && session.CountTrainee(conversation) >= limit {
		return session.OutcomeMaxTurns, "", true
	}
	return "", "", false
}

func lastTraineeIndex(conversation []session.Turn) int {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Speaker == session.Trainee {
			return i
		}
	}
	return -1
}

// Aggregate synthesises the final feedback from per-turn ratings.
// On ErrAggregation the returned feedback is still usable but has a nil Assessment.
func Aggregate(outcome session.Outcome, conversation []session.Turn) (*session.Feedback, error) {
	feedback := &session.Feedback{
		Outcome:      outcome,
		TraineeTurns: session.CountTrainee(conversation),
		Strengths:    []string{},
		Weaknesses:   []string{},
		Themes:       []session.ThemeCount{},
	}

	var (
		sum         int
		suggestions []string
	)
	for i, turn := range conversation {
		if turn.Speaker != session.Trainee || turn.Rating == nil {
			continue
		}
		score := *turn.Rating
		if score < minRating || score > maxRating {
			return feedback, fmt.Errorf("%w: conversation[%d] has rating %d outside %d-%d", ErrAggregation, i, score, minRating, maxRating)
		}

		sum += score
		feedback.RatedTurns++
		suggestions = append(suggestions, turn.Suggestions...)

		reason := strings.TrimSpace(turn.RatingReason)
		switch {
		case reason == "":
		case score >= 4:
			feedback.Strengths = appendUnique(feedback.Strengths, reason)
		case score <= 2:
			feedback.Weaknesses = appendUnique(feedback.Weaknesses, reason)
		}
	}

	for _, count := range signal.CountThemes(suggestions) {
		feedback.Themes = append(feedback.Themes, session.ThemeCount{Theme: string(count.Theme), Count: count.Count})
	}

	var assessment string
	if feedback.RatedTurns == 0 {
		assessment = fmt.Sprintf("No trainee turns could be rated. Session ended: %s.", describeOutcome(outcome))
	} else {
		avg := math.Round(float64(sum)/float64(feedback.RatedTurns)*100) / 100
		feedback.AverageScore = &avg
		assessment = summarize(avg, feedback)
	}
	feedback.Assessment = &assessment
	return feedback, nil
}

func summarize(avg float64, f *session.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: average %.2f across %d rated turns. Session ended: %s.",
		tier(avg), avg, f.RatedTurns, describeOutcome(f.Outcome))

	if len(f.Themes) > 0 {
		focus := make([]string, 0, maxListed)
		for _, theme := range f.Themes {
			if len(focus) == maxListed {
				break
			}
			if theme.Theme == string(signal.Other) {
				continue
			}
			focus = append(focus, strings.ReplaceAll(theme.Theme, "_", " "))
		}
		if len(focus) > 0 {
			fmt.Fprintf(&b, " Focus next on: %s.", strings.Join(focus, ", "))
		}
	}
	return b.String()
}

func tier(avg float64) string {
	switch {
	case avg >= 4.5:
		return "Excellent"
	case avg >= 3.5:
		return "Proficient"
	case avg >= 2.5:
		return "Developing"
	default:
		return "Needs improvement"
	}
}

func describeOutcome(outcome session.Outcome) string {
	switch outcome {
	case session.OutcomeObjectiveMet:
		return "objective met"
	case session.OutcomeGuestEnded:
		return "the guest ended the conversation"
	case session.OutcomeMaxTurns:
		return "turn limit reached"
	case session.OutcomeForced:
		return "ended early"
	default:
		return string(outcome)
	}
}

func appendUnique(list []string, value string) []string {
	if len(list) == maxListed {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
