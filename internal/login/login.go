package login

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

// Server is the LOGIN server implementation. Clients connect to it with the
// ticket issued by the authentication web service and the session key they
// generated, sealed with the server's public key. Once the ticket checks out
// the session key is stored so that the lobby and transaction servers can key
// the connections the client opens next.
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
	if s.DB == nil {
		return fmt.Errorf("%s: no database configured", s.Name)
	}
	if s.Keys == nil {
		s.Keys = auth.NewKeyStore(s.DB)
	}
	return nil
}

func (s *Server) Routes() dispatch.Routes {
	return dispatch.Routes{
		Service: client.ServiceLogin,
		Outer: map[uint16]dispatch.Route{
			packets.UserLoginType: {Layout: packets.UserLogin, Handler: s.handleUserLogin},
			packets.HeartbeatType: {Layout: packets.Heartbeat, Handler: dispatch.Ignore},
		},
	}
}

func (s *Server) handleUserLogin(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	contextID, err := f.Field("ContextId")
	if err != nil {
		return nil, err
	}
	sealedKey, err := f.Field("SessionKey")
	if err != nil {
		return nil, err
	}

	customer, err := auth.VerifyTicket(s.DB, contextID.String())
	switch {
	case errors.Is(err, auth.ErrInvalidTicket):
		s.Logger.Infof("rejecting login on connection %d: unknown ticket %q", connID, contextID.String())
		return s.userInvalid(f, packets.InvalidTicket, err), nil
	case errors.Is(err, auth.ErrCustomerBanned):
		return s.userInvalid(f, packets.CustomerBanned, err), nil
	case err != nil:
		return nil, err
	}

	ciphertext, err := hex.DecodeString(sealedKey.String())
	if err != nil {
		return nil, fmt.Errorf("session key is not hex: %w", encryption.ErrDecryptionFailure)
	}
	key, err := s.Sessions.Handshake(connID, customer.ID, ciphertext)
	if err != nil {
		return nil, err
	}
	if err := s.Keys.Save(customer.ID, connID, key.Key); err != nil {
		return nil, err
	}

	if c, ok := s.Registry.Get(connID); ok {
		c.SetCustomerID(customer.ID)
	}
	s.Logger.Infof("customer %d (%s) logged in on connection %d", customer.ID, customer.Username, connID)

	resp := frame.New(packets.UserValidType, f.Header.Version, packets.UserValid).
		MustSet("CustomerId", customer.ID).
		MustSet("PersonaId", 0).
		MustSet("Banned", false).
		MustSet("Gagged", false).
		MustSet("ContextId", contextID.String())
	return []*frame.Frame{resp}, nil
}

func (s *Server) userInvalid(req *frame.Frame, reason uint32, err error) []*frame.Frame {
	resp := frame.New(packets.UserInvalidType, req.Header.Version, packets.UserInvalid).
		MustSet("Reason", reason).
		MustSet("Message", cases.Title(language.English).String(err.Error()))
	return []*frame.Frame{resp}
}
