package dispatch

import (
	"context"

	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
)

// Handler processes one decoded frame for a connection and returns the frames
// to send back, in order. Returning no frames is valid.
type Handler func(ctx context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error)

// Route binds an opcode to the layout its frames are decoded with and the
// handler that processes them.
type Route struct {
	Layout  field.Layout
	Handler Handler
}

// Routes is everything the dispatcher needs to know about one service.
type Routes struct {
	Service client.Service

	// Plaintext frames, keyed by opcode.
	Outer map[uint16]Route
	// Frames found inside an encrypted payload, keyed by their own opcode.
	Inner map[uint16]Route

	// Client frames with this opcode carry an encrypted client frame. Unused
	// for services speaking server frames, which flag encryption in the header.
	Envelope uint16
	// The cipher channel encrypted payloads use.
	Channel encryption.Channel

	// OnDisconnect, when set, is called once a connection of this service
	// has been deregistered.
	OnDisconnect func(connID uint32)
}

// Kind is the frame format the service speaks.
func (r *Routes) Kind() frame.Kind { return r.Service.FrameKind() }

// encrypted reports whether the outer frame carries an encrypted payload.
func (r *Routes) encrypted(f *frame.Frame) bool {
	if f.Kind == frame.KindServer {
		return f.Server.Encrypted()
	}
	return r.Envelope != 0 && f.Header.Opcode == r.Envelope
}

// Ignore handles frames that need no response.
func Ignore(context.Context, uint32, *frame.Frame) ([]*frame.Frame, error) {
	return nil, nil
}
