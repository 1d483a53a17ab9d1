package packets

import "github.com/dcrodman/mcos/internal/core/field"

// Frame types for the persona server. The chat server reuses GameLogin.
const (
	GameLoginType           = 0x0503
	GameLogoutType          = 0x050F
	GetPersonaMapsType      = 0x0532
	ValidatePersonaNameType = 0x0533

	PersonaMapsType        = 0x0607
	PersonaNameValidType   = 0x0601
	PersonaNameInvalidType = 0x0602
)

var GameLogin = field.Layout{
	field.Int32("CustomerId"),
	field.Int32("PersonaId"),
	field.RawTail("_"),
}

var GameLogout = field.Layout{
	field.Int32("CustomerId"),
	field.Int32("PersonaId"),
}

var GetPersonaMaps = field.Layout{
	field.Int32("CustomerId"),
}

// PersonaMapsEntry describes one persona in a PersonaMaps response.
var PersonaMapsEntry = field.Nested("Persona",
	field.Int32("PersonaId"),
	field.Int32("ShardId"),
	field.Container("Name"),
)

var PersonaMaps = field.Layout{
	field.Int32("CustomerId"),
	field.Int16("Count"),
	field.RawTail("Personas"),
}

var ValidatePersonaName = field.Layout{
	field.Int32("CustomerId"),
	field.Container("Name"),
}

var PersonaNameValid = field.Layout{
	field.Container("Name"),
}

// Reasons sent in PersonaNameInvalid.
const (
	NameTaken uint32 = iota + 1
	NameMalformed
)

var PersonaNameInvalid = field.Layout{
	field.Int32("Reason"),
}
