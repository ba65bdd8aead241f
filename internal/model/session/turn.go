package session

import (
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	Trainee Speaker = "trainee"
	Guest   Speaker = "guest"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == Trainee || s == Guest
}

// Rating is the evaluator's verdict on one trainee turn.
type Rating struct {
	Score       int      `json:"score"`
	Reason      string   `json:"reason"`
	Suggestions []string `json:"suggestions"`
}

// Turn is one utterance in the dialogue timeline.
// Rating stays nil on guest turns and on trainee turns the evaluator could not rate.
type Turn struct {
	ID           string    `json:"id,omitempty"`
	Speaker      Speaker   `json:"speaker" validate:"required,oneof=trainee guest"`
	Content      string    `json:"content" validate:"required"`
	Rating       *int      `json:"rating" validate:"omitempty,min=1,max=5"`
	RatingReason string    `json:"ratingReason,omitempty"`
	Suggestions  []string  `json:"suggestions,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// NewTraineeTurn creates an unrated trainee turn.
func NewTraineeTurn(content string) Turn {
	return newTurn(Trainee, content)
}

// NewGuestTurn creates a guest turn.
func NewGuestTurn(content string) Turn {
	return newTurn(Guest, content)
}

func newTurn(speaker Speaker, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Rated reports whether a rating is attached.
func (t Turn) Rated() bool {
	return t.Rating != nil
}

// AttachRating records the evaluator result. Only trainee turns carry ratings.
func (t *Turn) AttachRating(r Rating) error {
	if t.Speaker != Trainee {
		return ErrInvalidTurnRole
	}
	score := r.Score
	t.Rating = &score
	t.RatingReason = r.Reason
	if len(r.Suggestions) > 0 {
		t.Suggestions = append([]string(nil), r.Suggestions...)
	}
	return nil
}

// Clone returns a deep copy.
func (t Turn) Clone() Turn {
	out := t
	if t.Rating != nil {
		score := *t.Rating
		out.Rating = &score
	}
	if t.Suggestions != nil {
		out.Suggestions = append([]string(nil), t.Suggestions...)
	}
	return out
}
