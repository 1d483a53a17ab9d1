// Package packets defines the opcodes and field layouts of the frames the
// servers exchange with the game client.
package packets

import "github.com/dcrodman/mcos/internal/core/field"

// Client frames shared by more than one server.
const (
	// AckType is the generic acknowledgement (NPS_ACK).
	AckType = 0x0207
	// HeartbeatType is the tracking ping the client sends on every socket.
	HeartbeatType = 0x0217
	// EncryptedCommandType wraps a DES-encrypted client frame.
	EncryptedCommandType = 0x1101
	// OkToLoginType is pushed to lobby connections as soon as they are accepted.
	OkToLoginType = 0x0230
)

// OkToLogin is the exact push the lobby sends on connect. Its declared length
// is zero, so it is written raw rather than through the frame codec.
var OkToLogin = []byte{0x02, 0x30, 0x00, 0x00}

// Heartbeat carries nothing the servers look at.
var Heartbeat = field.Layout{
	field.RawTail("Data"),
}

// Ack acknowledges the request whose opcode it echoes.
var Ack = field.Layout{
	field.Int32("Opcode"),
	field.Int32("Result"),
}

// The result codes carried in Ack frames.
const (
	ResultOK uint32 = iota
	ResultFailed
)

var clientTypeNames = map[uint16]string{
	AckType:                      "Ack",
	HeartbeatType:                "Heartbeat",
	EncryptedCommandType:         "EncryptedCommand",
	OkToLoginType:                "OkToLogin",
	UserLoginType:                "UserLogin",
	UserValidType:                "UserValid",
	UserInvalidType:              "UserInvalid",
	RequestConnectGameServerType: "RequestConnectGameServer",
	GameServerConnectedType:      "GameServerConnected",
	SetMyUserDataType:            "SetMyUserData",
	GetMiniUserListType:          "GetMiniUserList",
	MiniUserListType:             "MiniUserList",
	GameLoginType:                "GameLogin",
	GameLogoutType:               "GameLogout",
	GetPersonaMapsType:           "GetPersonaMaps",
	ValidatePersonaNameType:      "ValidatePersonaName",
	PersonaMapsType:              "PersonaMaps",
}

var messageTypeNames = map[uint16]string{
	GenericSuccessType: "GenericSuccess",
	GenericFailureType: "GenericFailure",
	LoginMessageType:   "Login",
	LogoutMessageType:  "Logout",
	SetOptionsType:     "SetOptions",
	ClientConnectType:  "ClientConnect",
	TrackingType:       "Tracking",
}

// Name returns a printable name for an opcode. Server frames (MCOTS) have
// their own numbering. The persona name replies share their numbers with
// UserValid and UserInvalid.
func Name(opcode uint16, serverFrame bool) string {
	names := clientTypeNames
	if serverFrame {
		names = messageTypeNames
	}
	if name, ok := names[opcode]; ok {
		return name
	}
	return "Unknown"
}
