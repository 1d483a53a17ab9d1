package frame

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/mcos/internal/core/field"
)

// A captured NPS user login (0x0501) with a version 1 header.
const userLoginHex = "0501013e01010000000000000020633366306131623264346535663630373138" +
	"3239336134623563366437653866000001003665333430623963666662333761" +
	"3938396361353434653662623738306132633738393031643366623333373338" +
	"3736383531316133303631376166613031643462663531323266333434353534" +
	"6335336264653265626238636432623765336431363030616436333163333835" +
	"6135643763636532336337373835343539616462633162346339303066666534" +
	"3864353735623564613563363338303430313235663635646230666533653234" +
	"3439346237366561393836343537643938363038346665643038623937386166" +
	"3464376431393661373434366138366235383030396536333662363131646231" +
	"3632313162363561396161646666323963350006303030303166fea31c19"

const userLoginSessionKey = "6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d" +
	"4bf5122f344554c53bde2ebb8cd2b7e3d1600ad631c385a5d7cce23c7785459a" +
	"dbc1b4c900ffe48d575b5da5c638040125f65db0fe3e24494b76ea986457d986" +
	"084fed08b978af4d7d196a7446a86b58009e636b611db16211b65a9aadff29c5"

var userLoginLayout = field.Layout{
	field.Container("ContextId"),
	field.Container("_"),
	field.Container("SessionKey"),
	field.Container("GameId"),
	field.Dword("_"),
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestDecode_UserLogin(t *testing.T) {
	raw := mustHex(t, userLoginHex)

	f, err := Decode(raw, userLoginLayout)
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}

	if f.Header.Opcode != 0x0501 {
		t.Errorf("expected opcode 0x0501, got %#04x", f.Header.Opcode)
	}
	if f.Header.Length != 0x013e {
		t.Errorf("expected length 0x013e, got %#04x", f.Header.Length)
	}
	if f.Header.Version != 1 {
		t.Errorf("expected version 1, got %d", f.Header.Version)
	}
	if f.HeaderSize() != 12 {
		t.Errorf("expected header size 12, got %d", f.HeaderSize())
	}

	sessionKey, err := f.Field("SessionKey")
	if err != nil {
		t.Fatalf("Field(SessionKey) returned an unexpected error: %v", err)
	}
	if sessionKey.String() != userLoginSessionKey {
		t.Errorf("SessionKey did not match fixture:\nwant %s\ngot  %s", userLoginSessionKey, sessionKey.String())
	}
	if _, err := hex.DecodeString(sessionKey.String()); err != nil {
		t.Errorf("SessionKey is not valid hex: %v", err)
	}

	if _, err := f.Field("NonExistentField"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}

	if diff := cmp.Diff(raw, f.Encode()); diff != "" {
		t.Errorf("re-encoded frame did not match the original bytes; diff:\n%s", diff)
	}
}

func TestEncode_BuildUserLogin(t *testing.T) {
	f := New(0x0501, 1, userLoginLayout)
	f.MustSet("ContextId", "c3f0a1b2d4e5f60718293a4b5c6d7e8f").
		MustSet("_", "").
		MustSet("SessionKey", userLoginSessionKey).
		MustSet("GameId", "00001f").
		MustSet("_", uint32(0xfea31c19))

	got := hex.EncodeToString(f.Encode())
	if got != userLoginHex {
		t.Errorf("Encode() did not reproduce the fixture:\nwant %s\ngot  %s", userLoginHex, got)
	}
}

func TestRoundTrip(t *testing.T) {
	layout := field.Layout{
		field.Int16("Kind"),
		field.Int32("CustomerId"),
		field.CString("Name"),
		field.Nested("Car", field.Int32("Id"), field.Flag("Stock")),
		field.Container32("Blob"),
		field.RawTail("Rest"),
	}
	f := New(0x0532, 0, layout)
	f.MustSet("Kind", 3).
		MustSet("CustomerId", 0x11223344).
		MustSet("Name", "Dale").
		MustSet("Car", []byte{0, 0, 0, 9, 1}).
		MustSet("Blob", []byte{0xDE, 0xAD}).
		MustSet("Rest", []byte{1, 2, 3})

	encoded := f.Encode()
	if int(f.Header.Length) != len(encoded) {
		t.Fatalf("header length %d does not match encoded length %d", f.Header.Length, len(encoded))
	}

	decoded, err := Decode(encoded, layout)
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(encoded, decoded.Encode()); diff != "" {
		t.Errorf("round trip changed the frame; diff:\n%s", diff)
	}
	for _, name := range []string{"Kind", "CustomerId", "Name", "Car", "Blob", "Rest"} {
		want, _ := f.Field(name)
		got, err := decoded.Field(name)
		if err != nil {
			t.Fatalf("Field(%s) returned an unexpected error: %v", name, err)
		}
		if !bytes.Equal(want.Encode(), got.Encode()) {
			t.Errorf("field %s: want %x, got %x", name, want.Encode(), got.Encode())
		}
	}
}

func TestDecode_HeaderOnly(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		layout  field.Layout
		version uint8
	}{
		{name: "v0 legacy", raw: []byte{0x02, 0x17, 0x00, 0x04}},
		{
			name:   "v0 with layout",
			raw:    []byte{0x05, 0x32, 0x00, 0x04},
			layout: field.Layout{field.Int32("CustomerId")},
		},
		{
			name:    "v1 with layout",
			raw:     []byte{0x05, 0x0F, 0x00, 0x0C, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			layout:  field.Layout{field.Int32("CustomerId"), field.Int32("PersonaId")},
			version: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.raw, tt.layout)
			if err != nil {
				t.Fatalf("Decode() returned an unexpected error: %v", err)
			}
			if f.Header.Version != tt.version || f.Len() != len(tt.raw) || len(f.Fields()) != 0 {
				t.Errorf("unexpected header-only frame: %+v len=%d fields=%d", f.Header, f.Len(), len(f.Fields()))
			}
			if diff := cmp.Diff(tt.raw, f.Encode()); diff != "" {
				t.Errorf("header-only frame did not re-encode as its header; diff:\n%s", diff)
			}
			if tt.layout != nil {
				if _, err := f.Field(tt.layout[0].Name); !errors.Is(err, ErrFieldNotFound) {
					t.Errorf("expected ErrFieldNotFound, got %v", err)
				}
			}
		})
	}
}

func TestDecode_HeaderOnlyThenSet(t *testing.T) {
	f, err := Decode([]byte{0x05, 0x0F, 0x00, 0x04}, field.Layout{field.Int32("CustomerId"), field.Int32("PersonaId")})
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	f.MustSet("PersonaId", 9)

	want := []byte{0x05, 0x0F, 0x00, 0x0C, 0, 0, 0, 0, 0, 0, 0, 9}
	if diff := cmp.Diff(want, f.Encode()); diff != "" {
		t.Errorf("unexpected encoding after filling a header-only frame; diff:\n%s", diff)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		layout  field.Layout
		wantErr error
	}{
		{
			name:    "short header",
			raw:     []byte{0x05, 0x01, 0x00},
			wantErr: field.ErrTruncatedBuffer,
		},
		{
			name:    "length exceeds data",
			raw:     []byte{0x05, 0x01, 0x00, 0x10, 0x00},
			wantErr: field.ErrTruncatedBuffer,
		},
		{
			name:    "field exceeds body",
			raw:     []byte{0x05, 0x01, 0x00, 0x07, 0x00, 0x09, 0x41},
			layout:  field.Layout{field.Container("Name")},
			wantErr: field.ErrTruncatedBuffer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw, tt.layout); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() want error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecode_FieldErrorCarriesNameAndOffset(t *testing.T) {
	raw := []byte{0x05, 0x01, 0x00, 0x09, 0x00, 0x00, 0x00, 0x01, 0x00}
	layout := field.Layout{field.Int32("CustomerId"), field.Container("Name")}

	_, err := Decode(raw, layout)
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected a *FieldError, got %v", err)
	}
	if fe.Field != "Name" || fe.Offset != 8 || fe.Opcode != 0x0501 {
		t.Errorf("unexpected FieldError: %+v", fe)
	}
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want int
	}{
		{"v0", []byte{0x05, 0x01, 0x00, 0x04}, 0},
		{"v1", []byte{0x05, 0x01, 0x00, 0x0c, 0x01, 0x01, 0, 0, 0, 0, 0, 0}, 1},
		{"marker without room for v1", []byte{0x05, 0x01, 0x00, 0x06, 0x01, 0x01}, 0},
		{"other marker", []byte{0x05, 0x01, 0x00, 0x0c, 0x01, 0x02, 0, 0, 0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectVersion(tt.raw); got != tt.want {
				t.Errorf("DetectVersion() want = %d, got = %d", tt.want, got)
			}
		})
	}
}

func TestServerFrame(t *testing.T) {
	layout := field.Layout{field.Int16LE("MsgNo"), field.Int32LE("CustomerId")}
	f := NewServer(layout)
	f.Server.Sequence = 7
	f.MustSet("MsgNo", 438).MustSet("CustomerId", 0x01020304)

	encoded := f.Encode()
	want := []byte{
		0x11, 0x00, 'T', 'O', 'M', 'C', 0x07, 0x00, 0x00, 0x00, 0x00,
		0xB6, 0x01, 0x04, 0x03, 0x02, 0x01,
	}
	if diff := cmp.Diff(want, encoded); diff != "" {
		t.Fatalf("server frame encoding mismatch; diff:\n%s", diff)
	}

	decoded, err := DecodeServer(encoded, nil)
	if err != nil {
		t.Fatalf("DecodeServer() returned an unexpected error: %v", err)
	}
	if decoded.Opcode() != 438 {
		t.Errorf("expected message number 438, got %d", decoded.Opcode())
	}
	if decoded.Server.Encrypted() {
		t.Error("expected the frame not to be flagged as encrypted")
	}
	if err := decoded.Decode(layout); err != nil {
		t.Fatalf("Decode(layout) returned an unexpected error: %v", err)
	}
	if id, _ := decoded.Uint("CustomerId"); id != 0x01020304 {
		t.Errorf("expected customer id 0x01020304, got %#x", id)
	}

	bad := append([]byte{}, encoded...)
	copy(bad[2:6], "XXXX")
	if _, err := DecodeServer(bad, nil); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}

func TestSetField_KeepsLengthConsistent(t *testing.T) {
	f := New(0x0533, 0, field.Layout{field.Container("Name")})
	if f.Header.Length != 6 {
		t.Fatalf("expected empty container frame of 6 bytes, got %d", f.Header.Length)
	}
	f.MustSet("Name", "speedy")
	if f.Header.Length != 12 {
		t.Errorf("expected length 12 after setting the name, got %d", f.Header.Length)
	}
	if err := f.SetField("Missing", "x"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestLegacyFrame(t *testing.T) {
	f := NewLegacy(0x1101, []byte{1, 2, 3, 4})
	encoded := f.Encode()
	if diff := cmp.Diff([]byte{0x11, 0x01, 0x00, 0x08, 1, 2, 3, 4}, encoded); diff != "" {
		t.Errorf("legacy encoding mismatch; diff:\n%s", diff)
	}
	if _, err := f.Field("anything"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound from a legacy frame, got %v", err)
	}
}

func TestDecode_KeepsTrailingBytes(t *testing.T) {
	raw := []byte{0x02, 0x17, 0x00, 0x08, 0x00, 0x01, 0xAA, 0xBB}
	f, err := Decode(raw, field.Layout{field.Int16("Seq")})
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(raw, f.Encode()); diff != "" {
		t.Errorf("trailing bytes were not preserved; diff:\n%s", diff)
	}
}

func TestFrame_MaxLength(t *testing.T) {
	f := NewLegacy(0x0607, make([]byte, 70000))
	if _, err := f.Marshal(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge from Marshal, got %v", err)
	}

	if err := f.SetBody(make([]byte, MaxLength-HeaderSizeV0+1)); !errors.Is(err, field.ErrInvalidValue) {
		t.Errorf("expected SetBody to reject an oversized body, got %v", err)
	}
	if err := f.SetBody(make([]byte, MaxLength-HeaderSizeV0)); err != nil {
		t.Fatalf("SetBody() returned an unexpected error: %v", err)
	}
	encoded, err := f.Marshal()
	if err != nil {
		t.Fatalf("Marshal() returned an unexpected error: %v", err)
	}
	if len(encoded) != MaxLength || f.Header.Length != MaxLength {
		t.Errorf("expected a %d byte frame, got %d bytes with header length %d", MaxLength, len(encoded), f.Header.Length)
	}

	s := NewServer(field.Layout{field.Int16LE("MsgNo"), field.RawTail("Data")}).MustSet("MsgNo", 101)
	err = s.SetField("Data", make([]byte, MaxLength))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected SetField to reject growth past %d bytes, got %v", MaxLength, err)
	}
	if s.Len() != ServerHeaderSize+2 || int(s.Server.Length) != s.Len() {
		t.Errorf("rejected SetField changed the frame: len=%d header=%d", s.Len(), s.Server.Length)
	}
}

func TestSetFieldAt(t *testing.T) {
	layout := field.Layout{field.Int16("_"), field.Int16("_")}
	f, err := Decode([]byte{0x01, 0x00, 0x00, 0x08, 0x00, 0x01, 0x00, 0x02}, layout)
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}

	// Both placeholders are set, so SetField can only reach the first.
	f.MustSet("_", 5)
	if err := f.SetFieldAt(1, 6); err != nil {
		t.Fatalf("SetFieldAt() returned an unexpected error: %v", err)
	}
	want := []byte{0x01, 0x00, 0x00, 0x08, 0x00, 0x05, 0x00, 0x06}
	if diff := cmp.Diff(want, f.Encode()); diff != "" {
		t.Errorf("unexpected encoding; diff:\n%s", diff)
	}

	if err := f.SetFieldAt(2, 7); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound for an index past the layout, got %v", err)
	}
}
