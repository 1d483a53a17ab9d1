package client

import (
	"fmt"

	"github.com/dcrodman/mcos/internal/core/frame"
)

// Service identifies which game server a connection belongs to.
type Service uint8

const (
	ServiceUnknown Service = iota
	ServiceLogin
	ServiceChat
	ServicePersona
	ServiceLobby
	ServiceTransactions
)

// Well known ports the game client connects to.
const (
	LoginPort        = 8226
	ChatPort         = 8227
	PersonaPort      = 8228
	LobbyPort        = 7003
	TransactionsPort = 43300
)

func (s Service) String() string {
	switch s {
	case ServiceLogin:
		return "login"
	case ServiceChat:
		return "chat"
	case ServicePersona:
		return "persona"
	case ServiceLobby:
		return "lobby"
	case ServiceTransactions:
		return "transactions"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// FrameKind is the header format spoken on the service's port.
func (s Service) FrameKind() frame.Kind {
	if s == ServiceTransactions {
		return frame.KindServer
	}
	return frame.KindClient
}

// RequiresSession reports whether traffic on the service can only be handled
// once the connection has an encryption session. Login is where sessions are
// created, so it never does.
func (s Service) RequiresSession() bool {
	return s == ServiceLobby || s == ServiceTransactions
}

// PortTable maps local listening ports to services.
type PortTable map[int]Service

// DefaultPorts is the fixed table the retail client expects.
func DefaultPorts() PortTable {
	return PortTable{
		LoginPort:        ServiceLogin,
		ChatPort:         ServiceChat,
		PersonaPort:      ServicePersona,
		LobbyPort:        ServiceLobby,
		TransactionsPort: ServiceTransactions,
	}
}

// Classify returns the service listening on port in the default table.
func Classify(port int) Service {
	return DefaultPorts().Classify(port)
}

func (t PortTable) Classify(port int) Service {
	if s, ok := t[port]; ok {
		return s
	}
	return ServiceUnknown
}

// Port returns the port the service is mapped to, or 0.
func (t PortTable) Port(s Service) int {
	for port, svc := range t {
		if svc == s {
			return port
		}
	}
	return 0
}
