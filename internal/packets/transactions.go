package packets

import "github.com/dcrodman/mcos/internal/core/field"

// Message numbers for the transaction server (MCOTS). All of the bodies are
// little-endian and start with the message number.
const (
	GenericSuccessType = 101
	GenericFailureType = 102
	LoginMessageType   = 105
	LogoutMessageType  = 106
	SetOptionsType     = 109
	ClientConnectType  = 438
	TrackingType       = 440
)

// ClientConnect is the only message accepted before the connection has an
// encryption session.
var ClientConnect = field.Layout{
	field.Int16LE("MsgNo"),
	field.Int32LE("CustomerId"),
	field.Int32LE("PersonaId"),
	field.RawTail("_"),
}

// GenericReply is used for both GenericSuccess and GenericFailure.
var GenericReply = field.Layout{
	field.Int16LE("MsgNo"),
	field.Int16LE("ReplyTo"),
	field.Int32LE("Result"),
	field.Int32LE("Data"),
	field.Int32LE("Data2"),
}

var LoginMessage = field.Layout{
	field.Int16LE("MsgNo"),
	field.Int32LE("CustomerId"),
	field.Int32LE("PersonaId"),
	field.RawTail("_"),
}

// MessageHeader matches any message when only the number matters.
var MessageHeader = field.Layout{
	field.Int16LE("MsgNo"),
	field.RawTail("_"),
}
