package internal

import (
	"context"

	"github.com/dcrodman/mcos/internal/dispatch"
)

// Backend is an interface for a sub-server that handles a specific set of client
// interactions as part of the game flow.
type Backend interface {
	// Name returns a uniquely identifying string.
	Identifier() string

	// Init is called before a Backend is started as a hook for the Backend to
	// perform any necessary initialization before it can accept clients.
	Init(ctx context.Context) error

	// Routes returns the handlers for every frame the Backend understands,
	// along with how its encrypted frames are carried.
	Routes() dispatch.Routes
}
