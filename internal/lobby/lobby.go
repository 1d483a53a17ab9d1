// Package lobby implements the game lobby server. Its connections are keyed
// with the session key negotiated on the login server, after which every
// command arrives DES-encrypted inside an EncryptedCommand envelope.
package lobby

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/cache"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

// DefaultChannel is the only lobby channel.
const DefaultChannel = 1

const memberTTL = time.Hour

// member is what the lobby knows about a connected persona.
type member struct {
	PersonaID uint32
	Name      string
	UserData  []byte
}

type Server struct {
	Name     string
	Config   *core.Config
	Logger   *logrus.Logger
	DB       *gorm.DB
	Sessions *encryption.Manager
	Registry *client.Registry
	Keys     *auth.KeyStore

	members *cache.Cache
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
	s.members = cache.New()
	return nil
}

func (s *Server) Routes() dispatch.Routes {
	return dispatch.Routes{
		Service: client.ServiceLobby,
		Outer: map[uint16]dispatch.Route{
			packets.RequestConnectGameServerType: {Layout: packets.RequestConnectGameServer, Handler: s.handleConnect},
			packets.HeartbeatType:                {Layout: packets.Heartbeat, Handler: dispatch.Ignore},
		},
		Inner: map[uint16]dispatch.Route{
			packets.GetMiniUserListType: {Layout: packets.GetMiniUserList, Handler: s.handleGetMiniUserList},
			packets.SetMyUserDataType:   {Layout: packets.SetMyUserData, Handler: s.handleSetMyUserData},
			packets.HeartbeatType:       {Layout: packets.Heartbeat, Handler: dispatch.Ignore},
		},
		Envelope:     packets.EncryptedCommandType,
		Channel:      encryption.ChannelLegacy,
		OnDisconnect: s.leave,
	}
}

// leave drops the member that was connected on connID.
func (s *Server) leave(connID uint32) {
	s.members.Delete(memberKey(connID))
}

// handleConnect keys the connection with the customer's stored session key.
func (s *Server) handleConnect(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	customerID, err := f.Uint("CustomerId")
	if err != nil {
		return nil, err
	}
	personaID, err := f.Uint("PersonaId")
	if err != nil {
		return nil, err
	}
	name, err := f.Field("PersonaName")
	if err != nil {
		return nil, err
	}

	// A connection handed to another customer must not keep the old cipher.
	if sess, ok := s.Sessions.Get(connID); ok && sess.CustomerID != customerID {
		s.Sessions.Reset(connID)
	}
	if _, err := s.Keys.Establish(s.Sessions, connID, customerID); err != nil {
		return nil, fmt.Errorf("keying lobby connection %d: %w", connID, err)
	}
	if c, ok := s.Registry.Get(connID); ok {
		c.SetCustomerID(customerID)
	}
	s.members.Put(memberKey(connID), &member{PersonaID: personaID, Name: name.String()}, memberTTL)

	s.Logger.WithFields(logrus.Fields{
		"conn":     connID,
		"customer": customerID,
		"persona":  personaID,
	}).Info("persona joined the lobby")

	resp := frame.New(packets.GameServerConnectedType, f.Header.Version, packets.GameServerConnected).
		MustSet("CustomerId", customerID).
		MustSet("PersonaId", personaID).
		MustSet("ChannelId", DefaultChannel)
	return []*frame.Frame{resp}, nil
}

func (s *Server) handleSetMyUserData(_ context.Context, connID uint32, f *frame.Frame) ([]*frame.Frame, error) {
	m, ok := s.member(connID)
	if !ok {
		s.Logger.Warnf("user data from connection %d which never joined the lobby", connID)
		return nil, nil
	}
	userData, err := f.Field("Data")
	if err != nil {
		return nil, err
	}
	updated := *m
	updated.UserData = userData.Bytes()
	s.members.Put(memberKey(connID), &updated, memberTTL)
	return nil, nil
}

// handleGetMiniUserList lists every persona connected to the lobby.
func (s *Server) handleGetMiniUserList(_ context.Context, _ uint32, f *frame.Frame) ([]*frame.Frame, error) {
	channelID, err := f.Uint("ChannelId")
	if err != nil {
		return nil, err
	}

	var (
		users []byte
		count int
	)
	s.Registry.Each(func(c *client.Connection) bool {
		if c.Service != client.ServiceLobby {
			return true
		}
		m, ok := s.member(c.ID)
		if !ok {
			return true
		}
		entry := field.MustNew(packets.MiniUser, []field.Field{
			field.MustNew(packets.MiniUser.Children[0], m.PersonaID),
			field.MustNew(packets.MiniUser.Children[1], m.Name),
		})
		users = append(users, entry.Encode()...)
		count++
		return true
	})

	resp := frame.New(packets.MiniUserListType, f.Header.Version, packets.MiniUserList).
		MustSet("ChannelId", channelID).
		MustSet("Count", count)
	if err := resp.SetField("Users", users); err != nil {
		return nil, fmt.Errorf("listing %d lobby members: %w", count, err)
	}
	return []*frame.Frame{resp}, nil
}

func (s *Server) member(connID uint32) (*member, bool) {
	v, ok := s.members.Get(memberKey(connID))
	if !ok {
		return nil, false
	}
	return v.(*member), true
}

func memberKey(connID uint32) string {
	return strconv.FormatUint(uint64(connID), 10)
}
