package packets

import "github.com/dcrodman/mcos/internal/core/field"

// Frame types for the lobby server.
const (
	RequestConnectGameServerType = 0x0100
	GameServerConnectedType      = 0x0120

	// Sent inside EncryptedCommand envelopes.
	SetMyUserDataType   = 0x0103
	GetMiniUserListType = 0x0128
	MiniUserListType    = 0x0229
)

// RequestConnectGameServer is the first frame on a lobby connection; it names
// the customer whose stored session key keys the connection.
var RequestConnectGameServer = field.Layout{
	field.Int32("CustomerId"),
	field.Int32("PersonaId"),
	field.Container("PersonaName"),
	field.Int32("ShardId"),
	field.RawTail("_"),
}

var GameServerConnected = field.Layout{
	field.Int32("CustomerId"),
	field.Int32("PersonaId"),
	field.Int32("ChannelId"),
}

var SetMyUserData = field.Layout{
	field.Int32("PersonaId"),
	field.RawTail("Data"),
}

var GetMiniUserList = field.Layout{
	field.Int32("ChannelId"),
}

// MiniUser is one entry of a MiniUserList.
var MiniUser = field.Nested("User",
	field.Int32("PersonaId"),
	field.Container("Name"),
)

var MiniUserList = field.Layout{
	field.Int32("ChannelId"),
	field.Int16("Count"),
	field.RawTail("Users"),
}
