// Package frame composes headers and fields into complete MCOS wire frames.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dcrodman/mcos/internal/core/field"
)

// ErrFieldNotFound is returned when a field is requested by a name that was
// never decoded or set on the frame.
var ErrFieldNotFound = errors.New("field not found")

// MaxLength is the largest frame a 16 bit header length can describe.
const MaxLength = 0xFFFF

// ErrFrameTooLarge is returned when a frame would not fit in MaxLength bytes.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes: %w", MaxLength, field.ErrInvalidValue)

// FieldError attaches the failing field and its offset within the frame to a
// codec error.
type FieldError struct {
	Opcode uint16
	Field  string
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("frame %#04x: field %q at offset %d: %v", e.Opcode, e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Kind selects which of the two header families a frame carries.
type Kind uint8

const (
	// KindClient frames use the 4 or 12 byte big-endian NPS header.
	KindClient Kind = iota
	// KindServer frames use the 11 byte little-endian "TOMC" header.
	KindServer
)

func (k Kind) String() string {
	if k == KindServer {
		return "server"
	}
	return "client"
}

// Frame is one complete protocol message. A structured frame carries the
// fields described by its layout; a legacy frame carries an opaque payload.
type Frame struct {
	Kind   Kind
	Header Header
	Server ServerHeader

	layout  field.Layout
	fields  []*field.Field
	payload []byte
	// Bytes left over after the last field of the layout. Kept so that
	// re-encoding a decoded frame is lossless.
	trailer []byte
	// Set for a frame decoded from a bare header. It has a layout but no
	// body until a field is set.
	headerOnly bool
}

// New returns an empty structured client frame.
func New(opcode uint16, version uint8, layout field.Layout) *Frame {
	f := &Frame{
		Kind:   KindClient,
		Header: Header{Opcode: opcode, Version: version},
		layout: layout,
		fields: make([]*field.Field, len(layout)),
	}
	f.Header.Length = uint16(f.Len())
	return f
}

// NewLegacy returns a client frame whose body is the given payload.
func NewLegacy(opcode uint16, payload []byte) *Frame {
	f := &Frame{
		Kind:    KindClient,
		Header:  Header{Opcode: opcode},
		payload: append([]byte{}, payload...),
	}
	f.Header.Length = uint16(f.Len())
	return f
}

// NewServer returns an empty structured server frame.
func NewServer(layout field.Layout) *Frame {
	f := &Frame{
		Kind:   KindServer,
		Server: ServerHeader{Signature: Signature},
		layout: layout,
		fields: make([]*field.Field, len(layout)),
	}
	f.Server.Length = uint16(f.Len())
	return f
}

// NewServerLegacy returns a server frame whose body is the given payload.
func NewServerLegacy(payload []byte) *Frame {
	f := &Frame{
		Kind:    KindServer,
		Server:  ServerHeader{Signature: Signature},
		payload: append([]byte{}, payload...),
	}
	f.Server.Length = uint16(f.Len())
	return f
}

// Decode parses a client frame from b. A nil layout yields a legacy frame.
func Decode(b []byte, layout field.Layout) (*Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	body, err := frameBody(b, int(h.Length), h.Size())
	if err != nil {
		return nil, fmt.Errorf("frame %#04x: %w", h.Opcode, err)
	}

	f := &Frame{Kind: KindClient, Header: h}
	if err := f.decodeBody(body, layout); err != nil {
		return nil, err
	}
	return f, nil
}

// DecodeServer parses a server frame from b. A nil layout yields a legacy frame.
func DecodeServer(b []byte, layout field.Layout) (*Frame, error) {
	h, err := DecodeServerHeader(b)
	if err != nil {
		return nil, err
	}
	body, err := frameBody(b, int(h.Length), ServerHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("server frame: %w", err)
	}

	f := &Frame{Kind: KindServer, Server: h}
	if err := f.decodeBody(body, layout); err != nil {
		return nil, err
	}
	return f, nil
}

func frameBody(b []byte, length, headerSize int) ([]byte, error) {
	if length < headerSize || length > len(b) {
		return nil, fmt.Errorf("declared length %d with %d byte header and %d bytes available: %w",
			length, headerSize, len(b), field.ErrTruncatedBuffer)
	}
	return b[headerSize:length], nil
}

func (f *Frame) decodeBody(body []byte, layout field.Layout) error {
	if layout == nil {
		f.payload = append([]byte{}, body...)
		f.layout, f.fields, f.trailer, f.headerOnly = nil, nil, nil, false
		return nil
	}

	opcode := f.Header.Opcode
	if f.Kind == KindServer && len(body) >= 2 {
		opcode = binary.LittleEndian.Uint16(body)
	}

	fields := make([]*field.Field, len(layout))
	if len(body) == 0 {
		f.layout, f.fields, f.payload, f.trailer, f.headerOnly = layout, fields, nil, nil, true
		return nil
	}

	offset := 0
	for i, d := range layout {
		fd, n, err := field.Decode(d, body[offset:])
		if err != nil {
			return &FieldError{Opcode: opcode, Field: d.Name, Offset: f.HeaderSize() + offset, Err: err}
		}
		fields[i] = &fd
		offset += n
	}

	f.layout = layout
	f.fields = fields
	f.payload = nil
	f.trailer = nil
	f.headerOnly = false
	if offset < len(body) {
		f.trailer = append([]byte{}, body[offset:]...)
	}
	return nil
}

// Decode re-interprets the body of the frame with layout. This is how a frame
// read off the wire as legacy becomes structured once its opcode is known.
func (f *Frame) Decode(layout field.Layout) error {
	return f.decodeBody(f.Body(), layout)
}

// Structured reports whether the frame carries named fields.
func (f *Frame) Structured() bool { return f.layout != nil }

func (f *Frame) Layout() field.Layout { return f.layout }

// HeaderSize is the size of whichever header the frame carries.
func (f *Frame) HeaderSize() int {
	if f.Kind == KindServer {
		return ServerHeaderSize
	}
	return f.Header.Size()
}

// Len is the total encoded size of the frame including its header.
func (f *Frame) Len() int {
	if !f.Structured() {
		return f.HeaderSize() + len(f.payload)
	}
	if f.headerOnly {
		return f.HeaderSize()
	}
	size := f.HeaderSize() + len(f.trailer)
	for i, d := range f.layout {
		if f.fields[i] != nil {
			size += f.fields[i].Size()
		} else {
			size += field.Zero(d).Size()
		}
	}
	return size
}

// Opcode identifies the message. Server frames have no opcode in the header;
// the first little-endian word of the body is the message number.
func (f *Frame) Opcode() uint16 {
	if f.Kind == KindClient {
		return f.Header.Opcode
	}
	body := f.Body()
	if len(body) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(body)
}

// Body returns the encoded frame without its header.
func (f *Frame) Body() []byte {
	if !f.Structured() {
		return append([]byte{}, f.payload...)
	}
	if f.headerOnly {
		return []byte{}
	}
	out := make([]byte, 0, f.Len()-f.HeaderSize())
	for i, d := range f.layout {
		if f.fields[i] != nil {
			out = append(out, f.fields[i].Encode()...)
		} else {
			out = append(out, field.Zero(d).Encode()...)
		}
	}
	return append(out, f.trailer...)
}

// SetBody replaces the body with an opaque payload, making the frame legacy.
// The frame is left untouched if the payload would not fit.
func (f *Frame) SetBody(payload []byte) error {
	if f.HeaderSize()+len(payload) > MaxLength {
		return fmt.Errorf("frame %#04x: %d byte body: %w", f.Opcode(), len(payload), ErrFrameTooLarge)
	}
	f.layout, f.fields, f.trailer, f.headerOnly = nil, nil, nil, false
	f.payload = append([]byte{}, payload...)
	f.syncLength()
	return nil
}

// Marshal is Encode for frames whose size isn't known to be bounded, such as
// ones built around a payload.
func (f *Frame) Marshal() ([]byte, error) {
	if n := f.Len(); n > MaxLength {
		return nil, fmt.Errorf("frame %#04x is %d bytes: %w", f.Opcode(), n, ErrFrameTooLarge)
	}
	return f.Encode(), nil
}

// Encode serializes the header followed by the body. The header length is
// recomputed first so it always matches the encoded size. Frames grown through
// SetField and SetBody never exceed MaxLength; use Marshal for the rest.
func (f *Frame) Encode() []byte {
	f.syncLength()
	body := f.Body()

	var header []byte
	if f.Kind == KindServer {
		header = f.Server.Encode()
	} else {
		header = f.Header.Encode()
	}
	return append(header, body...)
}

func (f *Frame) syncLength() {
	if f.Kind == KindServer {
		f.Server.Length = uint16(f.Len())
	} else {
		f.Header.Length = uint16(f.Len())
	}
}

// Fields returns the fields that have been decoded or set, in layout order.
func (f *Frame) Fields() []field.Field {
	var out []field.Field
	for _, fd := range f.fields {
		if fd != nil {
			out = append(out, *fd)
		}
	}
	return out
}

// Field returns the first field with the given name.
func (f *Frame) Field(name string) (field.Field, error) {
	for _, fd := range f.fields {
		if fd != nil && fd.Name() == name {
			return *fd, nil
		}
	}
	return field.Field{}, fmt.Errorf("frame %#04x: %q: %w", f.Opcode(), name, ErrFieldNotFound)
}

// Uint is shorthand for fetching an integer field.
func (f *Frame) Uint(name string) (uint32, error) {
	fd, err := f.Field(name)
	if err != nil {
		return 0, err
	}
	return fd.Uint(), nil
}

// SetField stores value under name, creating the field from the layout's
// descriptor if it hasn't been set yet. When several descriptors share a name
// (the "_" placeholders) the first unset one is filled, and once all are set
// the first is replaced; use SetFieldAt to address a later one.
func (f *Frame) SetField(name string, value interface{}) error {
	idx := -1
	for i, d := range f.layout {
		if d.Name != name {
			continue
		}
		if idx < 0 {
			idx = i
		}
		if f.fields[i] == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("frame %#04x: %q not in layout: %w", f.Opcode(), name, ErrFieldNotFound)
	}
	return f.SetFieldAt(idx, value)
}

// SetFieldAt stores value in the idx'th slot of the layout.
func (f *Frame) SetFieldAt(idx int, value interface{}) error {
	if idx < 0 || idx >= len(f.layout) {
		return fmt.Errorf("frame %#04x: no field at index %d: %w", f.Opcode(), idx, ErrFieldNotFound)
	}
	d := f.layout[idx]
	fd, err := field.New(d, value)
	if err != nil {
		return &FieldError{Opcode: f.Opcode(), Field: d.Name, Offset: f.offsetOf(idx), Err: err}
	}

	prev, wasHeaderOnly := f.fields[idx], f.headerOnly
	f.fields[idx], f.headerOnly = &fd, false
	if n := f.Len(); n > MaxLength {
		f.fields[idx], f.headerOnly = prev, wasHeaderOnly
		return &FieldError{Opcode: f.Opcode(), Field: d.Name, Offset: f.offsetOf(idx),
			Err: fmt.Errorf("frame would be %d bytes: %w", n, ErrFrameTooLarge)}
	}
	f.syncLength()
	return nil
}

// MustSet is SetField for values known to be valid; it panics on error.
func (f *Frame) MustSet(name string, value interface{}) *Frame {
	if err := f.SetField(name, value); err != nil {
		panic(err)
	}
	return f
}

func (f *Frame) offsetOf(idx int) int {
	offset := f.HeaderSize()
	for i := 0; i < idx; i++ {
		if f.fields[i] != nil {
			offset += f.fields[i].Size()
		} else {
			offset += field.Zero(f.layout[i]).Size()
		}
	}
	return offset
}
