package lobby

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/core/auth"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/data/datatest"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/field"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

var testSessionKey = []byte("lobbylobbylobbylobbylobbylobby!!")

type fixture struct {
	server     *Server
	dispatcher *dispatch.Dispatcher
	conn       *client.Connection
	peer       net.Conn
	customerID uint32
}

// newFixture accepts a loopback lobby connection for a customer that has
// already logged in.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	addr := listener.Addr().(*net.TCPAddr)

	peer, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		t.Fatalf("error initializing test connection: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	t.Cleanup(func() { serverConn.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db := datatest.Open(t)
	customer := datatest.Customer(t, db, "lobby", "ctx")
	keys := auth.NewKeyStore(db)
	if err := keys.Save(customer.ID, 99, testSessionKey); err != nil {
		t.Fatal(err)
	}

	registry := client.NewRegistry(client.PortTable{addr.Port: client.ServiceLobby})
	sessions := encryption.NewManager(nil)
	s := &Server{Name: "LOBBY", Logger: logger, DB: db, Sessions: sessions, Registry: registry, Keys: keys}
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	d := dispatch.New(registry, sessions, logger)
	d.Register(s.Routes())
	c, err := d.Connect(serverConn)
	if err != nil {
		t.Fatalf("Connect() returned an unexpected error: %v", err)
	}

	push := make([]byte, len(packets.OkToLogin))
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(peer, push); err != nil {
		t.Fatalf("error reading ok to login push: %v", err)
	}
	if !bytes.Equal(push, packets.OkToLogin) {
		t.Fatalf("expected push %x, got %x", packets.OkToLogin, push)
	}

	return &fixture{server: s, dispatcher: d, conn: c, peer: peer, customerID: customer.ID}
}

func (f *fixture) read(t *testing.T) *frame.Frame {
	t.Helper()
	_ = f.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := frame.Read(f.peer, frame.KindClient)
	if err != nil {
		t.Fatalf("error reading frame: %v", err)
	}
	decoded, err := frame.Decode(raw, nil)
	if err != nil {
		t.Fatalf("error decoding frame: %v", err)
	}
	return decoded
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	req := frame.New(packets.RequestConnectGameServerType, 0, packets.RequestConnectGameServer).
		MustSet("CustomerId", f.customerID).
		MustSet("PersonaId", 5).
		MustSet("PersonaName", "Speedy").
		MustSet("ShardId", 44)
	if err := f.dispatcher.Dispatch(context.Background(), f.conn, req.Encode()); err != nil {
		t.Fatalf("Dispatch() returned an unexpected error: %v", err)
	}
}

func TestConnect(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	reply := f.read(t)
	if err := reply.Decode(packets.GameServerConnected); err != nil {
		t.Fatal(err)
	}
	want := map[string]uint32{"CustomerId": f.customerID, "PersonaId": 5, "ChannelId": DefaultChannel}
	got := make(map[string]uint32)
	for _, fd := range reply.Fields() {
		got[fd.Name()] = fd.Uint()
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected GameServerConnected (-want +got):\n%s", diff)
	}

	if f.conn.State() != client.StateActive {
		t.Errorf("expected the connection to be active, got %v", f.conn.State())
	}
	if f.conn.CustomerID() != f.customerID {
		t.Errorf("expected customer %d on the connection, got %d", f.customerID, f.conn.CustomerID())
	}
}

func TestDisconnect_RemovesMember(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.read(t)

	if _, ok := f.server.member(f.conn.ID); !ok {
		t.Fatal("expected the persona to be a lobby member after connecting")
	}
	f.dispatcher.Disconnect(f.conn.ID)
	if _, ok := f.server.member(f.conn.ID); ok {
		t.Error("expected the member to be removed on disconnect")
	}
	if n := f.server.members.Len(); n != 0 {
		t.Errorf("expected no cached members, got %d", n)
	}
}

func TestConnect_NoStoredKey(t *testing.T) {
	f := newFixture(t)

	req := frame.New(packets.RequestConnectGameServerType, 0, packets.RequestConnectGameServer).
		MustSet("CustomerId", f.customerID+1)
	err := f.dispatcher.Dispatch(context.Background(), f.conn, req.Encode())
	if !errors.Is(err, auth.ErrNoSessionKey) {
		t.Fatalf("expected ErrNoSessionKey, got %v", err)
	}
	if dispatch.Action(err) != dispatch.CloseConnection {
		t.Errorf("expected the connection to be closed, got %v", dispatch.Action(err))
	}
	if f.conn.State() != client.StateAwaitingHandshake {
		t.Errorf("expected the connection to still await its handshake, got %v", f.conn.State())
	}
}

func TestConnect_OtherCustomerRekeys(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.read(t)

	other := datatest.Customer(t, f.server.DB, "other", "ctx2")
	otherKey := bytes.Repeat([]byte{0x42}, len(testSessionKey))
	if err := f.server.Keys.Save(other.ID, 100, otherKey); err != nil {
		t.Fatal(err)
	}
	f.customerID = other.ID
	f.connect(t)
	f.read(t)

	sess, ok := f.server.Sessions.Get(f.conn.ID)
	if !ok {
		t.Fatal("expected a session after reconnecting")
	}
	if sess.CustomerID != other.ID || !bytes.Equal(sess.Key, otherKey) {
		t.Errorf("expected the session to be rekeyed for customer %d, got customer %d key %x", other.ID, sess.CustomerID, sess.Key)
	}
}

func TestEncryptedCommands(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.read(t)

	gameClient, err := encryption.NewBlockPair(testSessionKey[:encryption.LegacyKeySize])
	if err != nil {
		t.Fatal(err)
	}
	send := func(inner *frame.Frame) {
		t.Helper()
		envelope := frame.NewLegacy(packets.EncryptedCommandType, gameClient.Encrypt(inner.Encode()))
		if err := f.dispatcher.Dispatch(context.Background(), f.conn, envelope.Encode()); err != nil {
			t.Fatalf("Dispatch() returned an unexpected error: %v", err)
		}
	}

	send(frame.New(packets.SetMyUserDataType, 0, packets.SetMyUserData).
		MustSet("PersonaId", 5).
		MustSet("Data", []byte{0xCA, 0xFE}))
	m, ok := f.server.member(f.conn.ID)
	if !ok || !bytes.Equal(m.UserData, []byte{0xCA, 0xFE}) {
		t.Fatalf("expected user data to be stored, got %+v", m)
	}

	send(frame.New(packets.GetMiniUserListType, 0, packets.GetMiniUserList).MustSet("ChannelId", DefaultChannel))
	envelope := f.read(t)
	if envelope.Opcode() != packets.EncryptedCommandType {
		t.Fatalf("expected an encrypted reply, got %#04x", envelope.Opcode())
	}
	plaintext, err := gameClient.Decrypt(envelope.Body())
	if err != nil {
		t.Fatal(err)
	}

	list, err := frame.Decode(plaintext, packets.MiniUserList)
	if err != nil {
		t.Fatalf("error decoding mini user list: %v", err)
	}
	if list.Opcode() != packets.MiniUserListType {
		t.Fatalf("expected MiniUserList, got %#04x", list.Opcode())
	}
	if count, _ := list.Uint("Count"); count != 1 {
		t.Fatalf("expected one user, got %d", count)
	}
	users, _ := list.Field("Users")
	user, _, err := field.Decode(packets.MiniUser, users.Bytes())
	if err != nil {
		t.Fatalf("error decoding user entry: %v", err)
	}
	name, _ := user.Child("Name")
	persona, _ := user.Child("PersonaId")
	if name.String() != "Speedy" || persona.Uint() != 5 {
		t.Errorf("unexpected user entry: %s/%d", name.String(), persona.Uint())
	}
}
