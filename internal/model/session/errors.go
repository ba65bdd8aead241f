package session

import "errors"

var (
	// ErrSessionNotActive rejects a turn submitted to a paused or completed session.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrInvalidTurnRole marks a component invoked on the wrong kind of turn.
	ErrInvalidTurnRole = errors.New("invalid turn role")
	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
