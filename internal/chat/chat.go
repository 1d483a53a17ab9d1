// Package chat implements the chat server. Only the login handshake is
// supported; the client keeps the connection open with heartbeats.
package chat

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

type Server struct {
	Name     string
	Config   *core.Config
	Logger   *logrus.Logger
	Registry *client.Registry
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	return nil
}

func (s *Server) Routes() dispatch.Routes {
	return dispatch.Routes{
		Service: client.ServiceChat,
		Outer: map[uint16]dispatch.Route{
			packets.GameLoginType: {Layout: packets.GameLogin, Handler: s.handleLogin},
			packets.HeartbeatType: {Layout: packets.Heartbeat, Handler: dispatch.Ignore},
		},
	}
}

func (s *Server) handleLogin(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := f.Uint("CustomerId")
	if err != nil {
		return nil, err
	}
	if c, ok := s.Registry.Get(connID); ok {
		c.SetCustomerID(customerID)
	}
	s.Logger.Debugf("customer %d joined chat on connection %d", customerID, connID)

	resp := frame.New(packets.AckType, f.Header.Version, packets.Ack).
		MustSet("Opcode", f.Opcode()).
		MustSet("Result", packets.ResultOK)
	return []*frame.Frame{resp}, nil
}
