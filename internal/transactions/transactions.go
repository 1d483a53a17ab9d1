// Package transactions implements the transaction server (MCOTS), the one
// service that speaks server-header frames. After ClientConnect keys the
// connection every message is RC4-encrypted.
package transactions

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

type Server struct {
	Name     string
	Config   *core.Config
	Logger   *logrus.Logger
	DB       *gorm.DB
	Sessions *encryption.Manager
	Registry *client.Registry
	Keys     *auth.KeyStore
}

func (s *Server) Identifier() string {
	return s.Name
}

func (s *Server) Init(_ context.Context) error {
	if s.Keys == nil {
		if s.DB == nil {
			return fmt.Errorf("%s: no database configured", s.Name)
		}
		s.Keys = auth.NewKeyStore(s.DB)
	}
	return nil
}

func (s *Server) Routes() dispatch.Routes {
	return dispatch.Routes{
		Service: client.ServiceTransactions,
		Outer: map[uint16]dispatch.Route{
			packets.ClientConnectType: {Layout: packets.ClientConnect, Handler: s.handleClientConnect},
		},
		Inner: map[uint16]dispatch.Route{
			packets.LoginMessageType:  {Layout: packets.LoginMessage, Handler: s.handleLogin},
			packets.LogoutMessageType: {Layout: packets.MessageHeader, Handler: s.handleLogout},
			packets.SetOptionsType:    {Layout: packets.MessageHeader, Handler: s.acknowledge},
			packets.TrackingType:      {Layout: packets.MessageHeader, Handler: s.acknowledge},
		},
		Channel: encryption.ChannelGame,
	}
}

// handleClientConnect keys the connection with the session key the customer
// negotiated on the login server.
func (s *Server) handleClientConnect(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := f.Uint("CustomerId")
	if err != nil {
		return nil, err
	}

	if _, err := s.Keys.Establish(s.Sessions, connID, customerID); err != nil {
		if errors.Is(err, auth.ErrNoSessionKey) {
			s.Logger.Warnf("connection %d: customer %d connected without logging in", connID, customerID)
			return []*frame.Frame{reply(packets.GenericFailureType, f)}, nil
		}
		return nil, err
	}
	if c, ok := s.Registry.Get(connID); ok {
		c.SetCustomerID(customerID)
	}
	return []*frame.Frame{reply(packets.GenericSuccessType, f)}, nil
}

// handleLogin checks that the customer logging in is the one the connection
// was keyed for.
func (s *Server) handleLogin(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := f.Uint("CustomerId")
	if err != nil {
		return nil, err
	}
	session, ok := s.Sessions.Get(connID)
	if !ok {
		return nil, encryption.ErrMissingSession
	}
	if session.CustomerID != customerID {
		s.Logger.Warnf("connection %d keyed for customer %d tried to log in as %d", connID, session.CustomerID, customerID)
		return []*frame.Frame{reply(packets.GenericFailureType, f)}, nil
	}
	return []*frame.Frame{reply(packets.GenericSuccessType, f)}, nil
}

func (s *Server) handleLogout(ctx context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	s.Logger.Debugf("connection %d logged out", connID)
	// The next connect reloads the key the customer negotiates next.
	if c, ok := s.Registry.Get(connID); ok && c.CustomerID() != 0 {
		s.Keys.Forget(c.CustomerID())
	}
	return s.acknowledge(ctx, connID, f)
}

func (s *Server) acknowledge(_ context.Context, _ uint32, f *frame.Frame) ([]*frame.Frame, error) {
	return []*frame.Frame{reply(packets.GenericSuccessType, f)}, nil
}

func reply(msgNo uint16, req *frame.Frame) *frame.Frame {
	return frame.NewServer(packets.GenericReply).
		MustSet("MsgNo", msgNo).
		MustSet("ReplyTo", req.Opcode())
}
