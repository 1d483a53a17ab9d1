package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dcrodman/mcos/internal/core/field"
)

const (
	// HeaderSizeV0 is the legacy client header: opcode and length only.
	HeaderSizeV0 = 4
	// HeaderSizeV1 adds the version marker, a reserved word and a checksum.
	HeaderSizeV1 = 12
	// VersionMarker sits at offset 4 of a version 1 header.
	VersionMarker = 0x0101

	// ServerHeaderSize is the size of the little-endian "TOMC" header.
	ServerHeaderSize = 11
	// FlagEncrypted is set in ServerHeader.Flags when the body is encrypted
	// with the game channel cipher.
	FlagEncrypted = 0x08
)

// Signature identifies a server (MCOTS) header.
var Signature = [4]byte{'T', 'O', 'M', 'C'}

// ErrBadSignature is returned when a server header doesn't carry "TOMC".
var ErrBadSignature = errors.New("bad server header signature")

// DetectVersion reports whether b starts with a version 0 or version 1 client
// header. Clients never send an explicit version; the 0x0101 marker at offset 4
// is the only indicator.
func DetectVersion(b []byte) int {
	if len(b) >= HeaderSizeV1 && binary.BigEndian.Uint16(b[4:6]) == VersionMarker {
		return 1
	}
	return 0
}

// Header is the big-endian header on every NPS frame sent by the client (and
// the replies to it).
type Header struct {
	Opcode   uint16
	Length   uint16
	Version  uint8
	Reserved uint16
	// Checksum is carried through but never validated; the client doesn't
	// appear to check it either.
	Checksum uint32
}

// Size is the encoded size of the header.
func (h Header) Size() int {
	if h.Version == 1 {
		return HeaderSizeV1
	}
	return HeaderSizeV0
}

func (h Header) Encode() []byte {
	out := make([]byte, 0, h.Size())
	out = binary.BigEndian.AppendUint16(out, h.Opcode)
	out = binary.BigEndian.AppendUint16(out, h.Length)
	if h.Version == 1 {
		out = binary.BigEndian.AppendUint16(out, VersionMarker)
		out = binary.BigEndian.AppendUint16(out, h.Reserved)
		out = binary.BigEndian.AppendUint32(out, h.Checksum)
	}
	return out
}

// DecodeHeader reads a client header from the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSizeV0 {
		return Header{}, fmt.Errorf("client header: need %d bytes, have %d: %w",
			HeaderSizeV0, len(b), field.ErrTruncatedBuffer)
	}

	h := Header{
		Opcode: binary.BigEndian.Uint16(b[0:2]),
		Length: binary.BigEndian.Uint16(b[2:4]),
	}
	if DetectVersion(b) == 1 {
		h.Version = 1
		h.Reserved = binary.BigEndian.Uint16(b[6:8])
		h.Checksum = binary.BigEndian.Uint32(b[8:12])
	}
	return h, nil
}

// ServerHeader is the little-endian header used on the transactions port.
type ServerHeader struct {
	Length    uint16
	Signature [4]byte
	Sequence  uint32
	Flags     uint8
}

func (h ServerHeader) Size() int { return ServerHeaderSize }

// Encrypted reports whether the body is encrypted on the game channel.
func (h ServerHeader) Encrypted() bool { return h.Flags&FlagEncrypted != 0 }

func (h ServerHeader) Encode() []byte {
	out := make([]byte, 0, ServerHeaderSize)
	out = binary.LittleEndian.AppendUint16(out, h.Length)
	out = append(out, h.Signature[:]...)
	out = binary.LittleEndian.AppendUint32(out, h.Sequence)
	out = append(out, h.Flags)
	return out
}

// DecodeServerHeader reads an 11-byte server header from the start of b.
func DecodeServerHeader(b []byte) (ServerHeader, error) {
	if len(b) < ServerHeaderSize {
		return ServerHeader{}, fmt.Errorf("server header: need %d bytes, have %d: %w",
			ServerHeaderSize, len(b), field.ErrTruncatedBuffer)
	}

	var h ServerHeader
	h.Length = binary.LittleEndian.Uint16(b[0:2])
	copy(h.Signature[:], b[2:6])
	if !bytes.Equal(h.Signature[:], Signature[:]) {
		return h, fmt.Errorf("%q: %w", h.Signature[:], ErrBadSignature)
	}
	h.Sequence = binary.LittleEndian.Uint32(b[6:10])
	h.Flags = b[10]
	return h, nil
}
