package persona

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/go-test/deep"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/data"
	"github.com/dcrodman/mcos/internal/core/data/datatest"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/packets"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := &Server{Name: "PERSONA", Logger: logger, DB: datatest.Open(t), Registry: client.NewRegistry(nil)}
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func createPersona(t *testing.T, s *Server, customerID, shardID uint32, name string) *data.Persona {
	t.Helper()
	p := &data.Persona{CustomerID: customerID, Name: name, NormalizedName: NormalizeName(name), ShardID: shardID}
	if err := data.CreatePersona(s.DB, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Speedy":    "speedy",
		"  SPEEDY ": "speedy",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"ab":                false,
		"abc":               true,
		"Drift_King-99":     true,
		"has space":         false,
		"semi;colon":        false,
		"seventeen_letters": false,
	}
	for name, want := range tests {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestHandleGameLogin(t *testing.T) {
	s := newTestServer(t)

	for _, opcode := range []uint16{packets.GameLoginType, packets.GameLogoutType} {
		req := frame.New(opcode, 0, packets.GameLogin).MustSet("CustomerId", 7)
		route := s.Routes().Outer[opcode]
		responses, err := route.Handler(context.Background(), 1, req)
		if err != nil {
			t.Fatalf("handler for %#04x returned an unexpected error: %v", opcode, err)
		}
		if len(responses) != 1 || responses[0].Opcode() != packets.AckType {
			t.Fatalf("expected an Ack for %#04x, got %v", opcode, responses)
		}
		if echoed, _ := responses[0].Uint("Opcode"); echoed != uint32(opcode) {
			t.Errorf("expected the ack to echo %#04x, got %#04x", opcode, echoed)
		}
	}
}

func TestHandleGetPersonaMaps(t *testing.T) {
	s := newTestServer(t)
	first := createPersona(t, s, 7, 44, "Speedy")
	second := createPersona(t, s, 7, 44, "Drifter")
	createPersona(t, s, 8, 44, "SomeoneElse")

	req := frame.New(packets.GetPersonaMapsType, 0, packets.GetPersonaMaps).MustSet("CustomerId", 7)
	responses, err := s.handleGetPersonaMaps(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("handleGetPersonaMaps() returned an unexpected error: %v", err)
	}
	resp := responses[0]
	if count, _ := resp.Uint("Count"); count != 2 {
		t.Fatalf("expected 2 personas, got %d", count)
	}

	type entry struct {
		ID, Shard uint32
		Name      string
	}
	var got []entry
	raw, _ := resp.Field("Personas")
	rest := raw.Bytes()
	for len(rest) > 0 {
		fd, n, err := field.Decode(packets.PersonaMapsEntry, rest)
		if err != nil {
			t.Fatalf("error decoding persona entry: %v", err)
		}
		id, _ := fd.Child("PersonaId")
		shard, _ := fd.Child("ShardId")
		name, _ := fd.Child("Name")
		got = append(got, entry{id.Uint(), shard.Uint(), name.String()})
		rest = rest[n:]
	}

	want := []entry{{first.ID, 44, "Speedy"}, {second.ID, 44, "Drifter"}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}

	// Served from the cache until the customer logs out.
	createPersona(t, s, 7, 44, "Latecomer")
	if cached, _ := s.personas(7); len(cached) != 2 {
		t.Errorf("expected the cached list of 2, got %d", len(cached))
	}
	logout := frame.New(packets.GameLogoutType, 0, packets.GameLogout).MustSet("CustomerId", 7)
	if _, err := s.handleGameLogout(context.Background(), 1, logout); err != nil {
		t.Fatal(err)
	}
	if fresh, _ := s.personas(7); len(fresh) != 3 {
		t.Errorf("expected 3 personas after the cache was cleared, got %d", len(fresh))
	}
}

func TestHandleGetPersonaMaps_BareHeader(t *testing.T) {
	s := newTestServer(t)
	createPersona(t, s, 7, 1, "Speedy")

	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()
	c := s.Registry.GetOrCreate(server)

	// 05 32 00 04: GetPersonaMaps with nothing after the header.
	req, err := frame.Decode([]byte{0x05, 0x32, 0x00, 0x04}, packets.GetPersonaMaps)
	if err != nil {
		t.Fatalf("Decode() returned an unexpected error: %v", err)
	}
	route := s.Routes().Outer[packets.GetPersonaMapsType]

	if _, err := route.Handler(context.Background(), c.ID, req); !errors.Is(err, frame.ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound before the connection logged in, got %v", err)
	}

	c.SetCustomerID(7)
	responses, err := route.Handler(context.Background(), c.ID, req)
	if err != nil {
		t.Fatalf("handler returned an unexpected error: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected one response, got %d", len(responses))
	}
	customerID, _ := responses[0].Uint("CustomerId")
	count, _ := responses[0].Uint("Count")
	if customerID != 7 || count != 1 {
		t.Errorf("expected customer 7 with one persona, got customer %d with %d", customerID, count)
	}
}

func TestHandleValidatePersonaName(t *testing.T) {
	s := newTestServer(t)
	createPersona(t, s, 7, 44, "Speedy")

	tests := map[string]struct {
		name   string
		opcode uint16
		reason uint32
	}{
		"available": {name: "Drifter", opcode: packets.PersonaNameValidType},
		"taken":     {name: "SPEEDY", opcode: packets.PersonaNameInvalidType, reason: packets.NameTaken},
		"malformed": {name: "no", opcode: packets.PersonaNameInvalidType, reason: packets.NameMalformed},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := frame.New(packets.ValidatePersonaNameType, 0, packets.ValidatePersonaName).
				MustSet("CustomerId", 7).
				MustSet("Name", tt.name)
			responses, err := s.handleValidatePersonaName(context.Background(), 1, req)
			if err != nil {
				t.Fatalf("handleValidatePersonaName() returned an unexpected error: %v", err)
			}
			if responses[0].Opcode() != tt.opcode {
				t.Fatalf("expected %#04x, got %#04x", tt.opcode, responses[0].Opcode())
			}
			if tt.reason != 0 {
				if reason, _ := responses[0].Uint("Reason"); reason != tt.reason {
					t.Errorf("expected reason %d, got %d", tt.reason, reason)
				}
			}
		})
	}
}
