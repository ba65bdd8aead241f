package store

import (
	"errors"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Thread is the mutable header of a stored session. Turns are stored separately and only appended.
type Thread struct {
	Status           session.Status    `json:"status"`
	LastRating       *int              `json:"lastRating"`
	LastRatingReason string            `json:"lastRatingReason,omitempty"`
	Feedback         *session.Feedback `json:"feedback"`
}

// ThreadOf extracts the header fields of st.
func ThreadOf(st session.State) Thread {
	cloned := st.Clone()
	return Thread{
		Status:           cloned.Status,
		LastRating:       cloned.LastRating,
		LastRatingReason: cloned.LastRatingReason,
		Feedback:         cloned.Feedback,
	}
}

// Apply copies the header fields onto st.
func (t Thread) Apply(st *session.State) {
	st.Status = t.Status
	st.LastRating = nil
	if t.LastRating != nil {
		score := *t.LastRating
		st.LastRating = &score
	}
	st.LastRatingReason = t.LastRatingReason
	st.Feedback = t.Feedback.Clone()
}
