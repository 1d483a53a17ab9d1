package internal

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/chat"
	"github.com/dcrodman/mcos/internal/core"
	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/dispatch"
	"github.com/dcrodman/mcos/internal/packets"
)

// freePort returns a loopback port nothing is listening on.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startChatFrontend(t *testing.T, ctx context.Context, wg *sync.WaitGroup) (*frontend, string) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	port := freePort(t)
	registry := client.NewRegistry(client.PortTable{port: client.ServiceChat})
	f := &frontend{
		Address:    fmt.Sprintf("127.0.0.1:%d", port),
		Backend:    &chat.Server{Name: "CHAT", Logger: logger, Registry: registry},
		Config:     &core.Config{MaxConnections: 10},
		Logger:     logger,
		Dispatcher: dispatch.New(registry, encryption.NewManager(nil), logger),
	}
	if err := f.Start(ctx, wg); err != nil {
		t.Fatalf("Start() returned an unexpected error: %v", err)
	}
	return f, f.Address
}

func readAck(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := frame.Read(conn, frame.KindClient)
	if err != nil {
		t.Fatalf("error reading from frontend: %v", err)
	}
	return raw
}

func TestFrontend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	f, addr := startChatFrontend(t, ctx, wg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("error connecting to frontend: %v", err)
	}
	defer conn.Close()

	login := frame.New(packets.GameLoginType, 0, packets.GameLogin).MustSet("CustomerId", 3)
	want := frame.New(packets.AckType, 0, packets.Ack).
		MustSet("Opcode", packets.GameLoginType).
		MustSet("Result", packets.ResultOK).
		Encode()

	// A frame too short for its layout is dropped without closing the
	// connection, so the login after it is still answered.
	truncated := frame.NewLegacy(packets.GameLoginType, []byte{0x00, 0x01})
	if _, err := conn.Write(append(truncated.Encode(), login.Encode()...)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, readAck(t, conn)); diff != "" {
		t.Errorf("unexpected ack (-want +got):\n%s", diff)
	}
	if n := f.Dispatcher.Registry.Len(); n != 1 {
		t.Errorf("expected 1 registered connection, got %d", n)
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the frontend to shut down")
	}

	if n := f.Dispatcher.Registry.Len(); n != 0 {
		t.Errorf("expected the connection to be deregistered on shutdown, got %d", n)
	}
}

func TestFrontend_DisconnectDeregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := &sync.WaitGroup{}
	f, addr := startChatFrontend(t, ctx, wg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("error connecting to frontend: %v", err)
	}
	login := frame.New(packets.GameLoginType, 0, packets.GameLogin).MustSet("CustomerId", 3)
	if _, err := conn.Write(login.Encode()); err != nil {
		t.Fatal(err)
	}
	readAck(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.Dispatcher.Registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected the closed connection to be deregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
