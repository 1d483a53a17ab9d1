// Package field implements the composable field encoders and decoders used to
// build MCOS frames. Every field owns its bytes; nothing returned from Decode
// aliases the buffer that was passed in.
package field

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrTruncatedBuffer is returned when a declared length runs past the end
	// of the supplied bytes (or a null terminator is never found).
	ErrTruncatedBuffer = errors.New("truncated buffer")
	// ErrUnknownFieldKind is returned when a Descriptor carries a Kind that is
	// not one of the declared variants.
	ErrUnknownFieldKind = errors.New("unknown field kind")
	// ErrInvalidValue is returned when a value can't be coerced into a kind.
	ErrInvalidValue = errors.New("invalid field value")
)

// Kind is the closed set of field encodings understood by the codec.
type Kind uint8

const (
	KindInt16 Kind = iota + 1
	KindInt32
	KindPrefixed16
	KindPrefixed32
	KindCString
	KindRawTail
	KindNested
	KindFlag
)

func (k Kind) String() string {
	switch k {
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindPrefixed16:
		return "Prefixed16"
	case KindPrefixed32:
		return "Prefixed32"
	case KindCString:
		return "CString"
	case KindRawTail:
		return "RawTail"
	case KindNested:
		return "Nested"
	case KindFlag:
		return "Flag"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ByteOrder is satisfied by binary.BigEndian and binary.LittleEndian.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Descriptor names a field and declares how it is laid out on the wire.
type Descriptor struct {
	Name string
	Kind Kind
	// Byte order of integer values and length prefixes. Nil means big-endian,
	// which is what the NPS (client header) channel uses.
	Order ByteOrder
	// Children is only used by KindNested.
	Children []Descriptor
}

func (d Descriptor) order() ByteOrder {
	if d.Order == nil {
		return binary.BigEndian
	}
	return d.Order
}

func Int16(name string) Descriptor   { return Descriptor{Name: name, Kind: KindInt16} }
func Int16LE(name string) Descriptor { return Descriptor{Name: name, Kind: KindInt16, Order: binary.LittleEndian} }
func Int32(name string) Descriptor   { return Descriptor{Name: name, Kind: KindInt32} }
func Int32LE(name string) Descriptor { return Descriptor{Name: name, Kind: KindInt32, Order: binary.LittleEndian} }
func Flag(name string) Descriptor    { return Descriptor{Name: name, Kind: KindFlag} }
func CString(name string) Descriptor { return Descriptor{Name: name, Kind: KindCString} }
func RawTail(name string) Descriptor { return Descriptor{Name: name, Kind: KindRawTail} }

// Dword is the legacy name for a big-endian 32-bit field.
func Dword(name string) Descriptor { return Int32(name) }

// Container is a 2-byte big-endian length followed by that many bytes.
func Container(name string) Descriptor { return Descriptor{Name: name, Kind: KindPrefixed16} }

// Container32 is a 4-byte big-endian length followed by that many bytes.
func Container32(name string) Descriptor { return Descriptor{Name: name, Kind: KindPrefixed32} }

func Nested(name string, children ...Descriptor) Descriptor {
	return Descriptor{Name: name, Kind: KindNested, Children: children}
}

// Layout is the ordered list of descriptors making up a message body.
type Layout []Descriptor

// Find returns the first descriptor with the given name.
func (l Layout) Find(name string) (Descriptor, bool) {
	for _, d := range l {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Field is a decoded (or constructed) value bound to its Descriptor.
type Field struct {
	desc     Descriptor
	num      uint32
	data     []byte
	children []Field
}

func (f Field) Name() string           { return f.desc.Name }
func (f Field) Kind() Kind             { return f.desc.Kind }
func (f Field) Descriptor() Descriptor { return f.desc }
func (f Field) Children() []Field      { return f.children }

// Uint returns the value of an integer or flag field.
func (f Field) Uint() uint32 { return f.num }

// Bytes returns a copy of the field's content (without any length prefix or
// terminator). Integer fields return their encoded form.
func (f Field) Bytes() []byte {
	switch f.desc.Kind {
	case KindPrefixed16, KindPrefixed32, KindCString, KindRawTail:
		return append([]byte(nil), f.data...)
	default:
		return f.Encode()
	}
}

func (f Field) String() string {
	switch f.desc.Kind {
	case KindInt16, KindInt32, KindFlag:
		return fmt.Sprintf("%d", f.num)
	default:
		return string(f.Bytes())
	}
}

// Child returns the nested child with the given name.
func (f Field) Child(name string) (Field, bool) {
	for _, c := range f.children {
		if c.desc.Name == name {
			return c, true
		}
	}
	return Field{}, false
}

// Size is the number of bytes Encode produces.
func (f Field) Size() int {
	switch f.desc.Kind {
	case KindInt16:
		return 2
	case KindInt32:
		return 4
	case KindFlag:
		return 1
	case KindPrefixed16:
		return 2 + len(f.data)
	case KindPrefixed32:
		return 4 + len(f.data)
	case KindCString:
		return len(f.data) + 1
	case KindRawTail:
		return len(f.data)
	case KindNested:
		size := 0
		for _, c := range f.children {
			size += c.Size()
		}
		return size
	default:
		return 0
	}
}

// Encode returns the exact wire representation of the field.
func (f Field) Encode() []byte {
	order := f.desc.order()
	out := make([]byte, 0, f.Size())

	switch f.desc.Kind {
	case KindInt16:
		out = order.AppendUint16(out, uint16(f.num))
	case KindInt32:
		out = order.AppendUint32(out, f.num)
	case KindFlag:
		out = append(out, byte(f.num))
	case KindPrefixed16:
		out = order.AppendUint16(out, uint16(len(f.data)))
		out = append(out, f.data...)
	case KindPrefixed32:
		out = order.AppendUint32(out, uint32(len(f.data)))
		out = append(out, f.data...)
	case KindCString:
		out = append(out, f.data...)
		out = append(out, 0x00)
	case KindRawTail:
		out = append(out, f.data...)
	case KindNested:
		for _, c := range f.children {
			out = append(out, c.Encode()...)
		}
	}
	return out
}

// Decode reads a single field described by d from the start of buf and returns
// it along with the number of bytes consumed.
func Decode(d Descriptor, buf []byte) (Field, int, error) {
	order := d.order()
	f := Field{desc: d}

	switch d.Kind {
	case KindInt16:
		if len(buf) < 2 {
			return f, 0, truncated(d, 2, len(buf))
		}
		f.num = uint32(order.Uint16(buf))
		return f, 2, nil

	case KindInt32:
		if len(buf) < 4 {
			return f, 0, truncated(d, 4, len(buf))
		}
		f.num = order.Uint32(buf)
		return f, 4, nil

	case KindFlag:
		if len(buf) < 1 {
			return f, 0, truncated(d, 1, len(buf))
		}
		f.num = uint32(buf[0])
		return f, 1, nil

	case KindPrefixed16:
		if len(buf) < 2 {
			return f, 0, truncated(d, 2, len(buf))
		}
		n := int(order.Uint16(buf))
		if len(buf)-2 < n {
			return f, 0, truncated(d, 2+n, len(buf))
		}
		f.data = append([]byte{}, buf[2:2+n]...)
		return f, 2 + n, nil

	case KindPrefixed32:
		if len(buf) < 4 {
			return f, 0, truncated(d, 4, len(buf))
		}
		n := uint64(order.Uint32(buf))
		if uint64(len(buf)-4) < n {
			return f, 0, truncated(d, int(n)+4, len(buf))
		}
		f.data = append([]byte{}, buf[4:4+int(n)]...)
		return f, 4 + int(n), nil

	case KindCString:
		// The terminator is checked before anything is taken as content, so an
		// unterminated slice fails instead of reading past the end.
		for i := 0; i < len(buf); i++ {
			if buf[i] == 0x00 {
				f.data = append([]byte{}, buf[:i]...)
				return f, i + 1, nil
			}
		}
		return f, 0, fmt.Errorf("%s: no null terminator in %d bytes: %w", d.Name, len(buf), ErrTruncatedBuffer)

	case KindRawTail:
		f.data = append([]byte{}, buf...)
		return f, len(buf), nil

	case KindNested:
		offset := 0
		for _, cd := range d.Children {
			child, n, err := Decode(cd, buf[offset:])
			if err != nil {
				return f, 0, fmt.Errorf("%s.%s at offset %d: %w", d.Name, cd.Name, offset, err)
			}
			f.children = append(f.children, child)
			offset += n
		}
		return f, offset, nil

	default:
		return f, 0, fmt.Errorf("%s: %v: %w", d.Name, d.Kind, ErrUnknownFieldKind)
	}
}

// New builds a field for d from a Go value. Strings become UTF-8 bytes and
// integers destined for a byte-oriented kind become a big-endian 4-byte value.
func New(d Descriptor, value interface{}) (Field, error) {
	f := Field{desc: d}

	switch d.Kind {
	case KindInt16, KindInt32, KindFlag:
		n, ok := toUint(value)
		if !ok {
			return f, fmt.Errorf("%s: %T into %v: %w", d.Name, value, d.Kind, ErrInvalidValue)
		}
		if (d.Kind == KindInt16 && n > 0xFFFF) || (d.Kind == KindFlag && n > 0xFF) {
			return f, fmt.Errorf("%s: %d overflows %v: %w", d.Name, n, d.Kind, ErrInvalidValue)
		}
		f.num = uint32(n)
		return f, nil

	case KindPrefixed16, KindPrefixed32, KindCString, KindRawTail:
		b, err := toBytes(d, value)
		if err != nil {
			return f, err
		}
		if d.Kind == KindPrefixed16 && len(b) > 0xFFFF {
			return f, fmt.Errorf("%s: %d bytes overflows 16-bit prefix: %w", d.Name, len(b), ErrInvalidValue)
		}
		if d.Kind == KindCString {
			for _, c := range b {
				if c == 0x00 {
					return f, fmt.Errorf("%s: embedded null byte: %w", d.Name, ErrInvalidValue)
				}
			}
		}
		f.data = b
		return f, nil

	case KindNested:
		switch v := value.(type) {
		case []Field:
			f.children = append([]Field(nil), v...)
			return f, nil
		case []byte:
			decoded, n, err := Decode(d, v)
			if err != nil {
				return f, err
			}
			if n != len(v) {
				return f, fmt.Errorf("%s: %d trailing bytes: %w", d.Name, len(v)-n, ErrInvalidValue)
			}
			return decoded, nil
		default:
			return f, fmt.Errorf("%s: %T into %v: %w", d.Name, value, d.Kind, ErrInvalidValue)
		}

	default:
		return f, fmt.Errorf("%s: %v: %w", d.Name, d.Kind, ErrUnknownFieldKind)
	}
}

// MustNew is New for statically known values; it panics on error.
func MustNew(d Descriptor, value interface{}) Field {
	f, err := New(d, value)
	if err != nil {
		panic(err)
	}
	return f
}

func toBytes(d Descriptor, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return append([]byte{}, v...), nil
	}
	if n, ok := toUint(value); ok {
		return binary.BigEndian.AppendUint32(nil, uint32(n)), nil
	}
	return nil, fmt.Errorf("%s: %T into %v: %w", d.Name, value, d.Kind, ErrInvalidValue)
}

func toUint(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, v <= 0xFFFFFFFF
	case uint:
		return uint64(v), uint64(v) <= 0xFFFFFFFF
	case int:
		return uint64(v), v >= 0 && uint64(v) <= 0xFFFFFFFF
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0 && v <= 0xFFFFFFFF
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func truncated(d Descriptor, need, have int) error {
	return fmt.Errorf("%s: need %d bytes, have %d: %w", d.Name, need, have, ErrTruncatedBuffer)
}

// Zero returns the empty value of d: 0 for integers and flags, no content for
// byte-oriented kinds and zeroed children for nested structures.
func Zero(d Descriptor) Field {
	f := Field{desc: d}
	if d.Kind == KindNested {
		for _, cd := range d.Children {
			f.children = append(f.children, Zero(cd))
		}
	}
	return f
}
