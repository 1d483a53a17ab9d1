package dispatch

import (
	"errors"

	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/field"
)

// ErrorAction is what the connection loop does after Dispatch fails.
type ErrorAction int

const (
	// Continue reading frames.
	Continue ErrorAction = iota
	// DropFrame discards the failed frame and keeps the connection.
	DropFrame
	// CloseConnection tears the connection down.
	CloseConnection
)

func (a ErrorAction) String() string {
	switch a {
	case Continue:
		return "continue"
	case DropFrame:
		return "drop frame"
	default:
		return "close connection"
	}
}

// Action decides what a Dispatch error means for the connection. Frames are
// read whole before they are decoded, so a truncated field only spoils that
// frame. Anything not listed closes the connection.
func Action(err error) ErrorAction {
	switch {
	case err == nil:
		return Continue
	case errors.Is(err, ErrUnknownOpcode),
		errors.Is(err, encryption.ErrMissingSession),
		errors.Is(err, field.ErrTruncatedBuffer):
		return DropFrame
	default:
		return CloseConnection
	}
}
