package packets

import "github.com/dcrodman/mcos/internal/core/field"

// Frame types for the login server.
const (
	UserLoginType   = 0x0501
	UserValidType   = 0x0601
	UserInvalidType = 0x0602
)

// UserLogin is sent by the client with the ticket it received from the
// authentication service and its RSA-sealed session key.
var UserLogin = field.Layout{
	field.Container("ContextId"),
	field.Container("_"),
	// Hex of the RSA ciphertext.
	field.Container("SessionKey"),
	field.Container("GameId"),
	field.Dword("_"),
}

var UserValid = field.Layout{
	field.Int32("CustomerId"),
	field.Int32("PersonaId"),
	field.Flag("Banned"),
	field.Flag("Gagged"),
	field.Container("ContextId"),
}

// Reasons sent in UserInvalid.
const (
	InvalidTicket uint32 = iota + 1
	InvalidSessionKey
	CustomerBanned
)

var UserInvalid = field.Layout{
	field.Int32("Reason"),
	field.Container("Message"),
}
