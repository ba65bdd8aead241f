package evaluator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/ai"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

const (
	MinScore = 1
	MaxScore = 5

	maxSuggestions = 3
)

// Evaluator rates trainee turns through the model.
type Evaluator struct {
	model  ai.Completer
	window int
	logger *logging.Logger
}

// New builds an Evaluator that shows the model at most window recent turns.
func New(model ai.Completer, window int, logger *logging.Logger) *Evaluator {
	if window <= 0 {
		window = 12
	}
	return &Evaluator{model: model, window: window, logger: logger.Named("evaluator")}
}

// Rate scores turn, which must be a trainee turn, in the context of conversation.
// conversation is the dialogue before turn.
func (e *Evaluator) Rate(ctx context.Context, sc scenario.Scenario, p persona.Persona, conversation []session.Turn, turn session.Turn) (session.Rating, error) {
	if turn.Speaker != session.Trainee {
		return session.Rating{}, fmt.Errorf("%w: only trainee turns are rated, got %s", session.ErrInvalidTurnRole, turn.Speaker)
	}

	content, err := e.model.Complete(ctx, ai.Request{
		Purpose: ai.PurposeEvaluation,
		System:  evaluatorSystemPrompt,
		Query:   buildQuery(sc, p, ai.Transcript(conversation, e.window), turn.Content),
	})
	if err != nil {
		return session.Rating{}, fmt.Errorf("rate trainee turn: %w", err)
	}

	rating, err := parseRating(content)
	if err != nil {
		return session.Rating{}, fmt.Errorf("rate trainee turn: %w", err)
	}

	e.logger.For(ctx).Debug("trainee turn rated",
		zap.String("scenario", sc.ID),
		zap.Int("score", rating.Score),
		zap.Int("suggestions", len(rating.Suggestions)),
	)
	return rating, nil
}

type ratingPayload struct {
	Score       *float64 `json:"score"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions"`
}

func parseRating(content string) (session.Rating, error) {
	var payload ratingPayload
	if err := ai.DecodeJSONObject(content, &payload); err != nil {
		return session.Rating{}, err
	}
	if payload.Score == nil {
		return session.Rating{}, fmt.Errorf("%w: rating has no score", ai.ErrModelError)
	}

	suggestions := make([]string, 0, len(payload.Suggestions))
	for _, s := range payload.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			suggestions = append(suggestions, s)
		}
		if len(suggestions) == maxSuggestions {
			break
		}
	}

	return session.Rating{
		Score:       clampScore(*payload.Score),
		Reason:      strings.TrimSpace(payload.Reason),
		Suggestions: suggestions,
	}, nil
}

// clampScore bounds val to [MinScore, MaxScore] before rounding.
func clampScore(val float64) int {
	switch {
	case math.IsNaN(val) || val < MinScore:
		return MinScore
	case val > MaxScore:
		return MaxScore
	}
	return int(math.Round(val))
}

func buildQuery(sc scenario.Scenario, p persona.Persona, transcript, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\nSituation: %s\n", sc.Title, sc.Situation)
	fmt.Fprintf(&b, "Trainee objectives:\n- %s\n", strings.Join(sc.Objectives, "\n- "))
	if len(sc.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints:\n- %s\n", strings.Join(sc.Constraints, "\n- "))
	}
	fmt.Fprintf(&b, "\nGuest: %s (%s), mood: %s\n", p.Name, p.Role, p.Mood)
	fmt.Fprintf(&b, "\nConversation so far:\n%s\n", transcript)
	fmt.Fprintf(&b, "\nTrainee's latest message:\n%s\n\nReturn the JSON rating.", strings.TrimSpace(message))
	return b.String()
}

const evaluatorSystemPrompt = `You coach hotel front desk staff. Rate the trainee's latest message in the roleplay.
Judge empathy, ownership, clarity, courtesy and progress toward the scenario objectives within its constraints.
Return only one JSON object with fields:
score (integer 1-5, 5 is excellent), reason (one sentence), suggestions (array of up to 3 short, concrete improvements; empty if none).
No extra text.`
