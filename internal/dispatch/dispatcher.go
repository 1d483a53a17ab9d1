// Package dispatch routes decoded frames to the handlers registered for each
// service and writes their responses back to the connection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/mcos/internal/core/client"
	"github.com/dcrodman/mcos/internal/core/debug"
	"github.com/dcrodman/mcos/internal/core/encryption"
	"github.com/dcrodman/mcos/internal/core/frame"
	"github.com/dcrodman/mcos/internal/packets"
)

var (
	// ErrUnknownOpcode is returned when an encrypted payload carries an opcode
	// the service has no handler for. The request is aborted but the
	// connection stays open.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrUnknownService is returned for connections on a port no service is
	// registered for.
	ErrUnknownService = errors.New("no service registered for port")
	// ErrConnectionClosed is returned when the connection was deregistered
	// while its request was being handled.
	ErrConnectionClosed = errors.New("connection closed")
)

// Dispatcher owns the routing tables of every service.
type Dispatcher struct {
	Registry *client.Registry
	Sessions *encryption.Manager
	Logger   *logrus.Logger
	// Every frame is dumped here when set.
	PacketWriter io.Writer

	routes map[client.Service]*Routes
}

// New returns a Dispatcher with no services registered.
func New(registry *client.Registry, sessions *encryption.Manager, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		Registry: registry,
		Sessions: sessions,
		Logger:   logger,
		routes:   make(map[client.Service]*Routes),
	}
}

// Register installs the routing table for a service, replacing any earlier
// one. Routes must not be registered once connections are being dispatched.
func (d *Dispatcher) Register(routes Routes) {
	d.routes[routes.Service] = &routes
}

// Resolve returns the plaintext route for an opcode arriving on a port.
func (d *Dispatcher) Resolve(port int, opcode uint16) (Route, bool) {
	routes, ok := d.routes[d.Registry.Ports().Classify(port)]
	if !ok {
		return Route{}, false
	}
	route, ok := routes.Outer[opcode]
	return route, ok
}

// Connect registers a newly accepted socket. Lobby connections are told right
// away that they may log in.
func (d *Dispatcher) Connect(conn net.Conn) (*client.Connection, error) {
	c := d.Registry.GetOrCreate(conn)
	if c.Service == client.ServiceLobby {
		d.logPacket(c, false, packets.OkToLoginType, packets.OkToLogin)
		if err := c.Send(packets.OkToLogin); err != nil {
			return c, fmt.Errorf("sending ok to login: %w", err)
		}
	}
	return c, nil
}

// Disconnect forgets everything known about the connection and lets its
// service clean up. The socket itself is closed by its owner.
func (d *Dispatcher) Disconnect(connID uint32) {
	c, ok := d.Registry.Remove(connID)
	d.Sessions.Remove(connID)
	if !ok {
		return
	}
	if routes, ok := d.routes[c.Service]; ok && routes.OnDisconnect != nil {
		routes.OnDisconnect(connID)
	}
}

// Dispatch decodes one complete frame read from c, runs its handler and writes
// the responses. Callers use Action to decide what an error means for the
// connection.
func (d *Dispatcher) Dispatch(ctx context.Context, c *client.Connection, raw []byte) error {
	routes, ok := d.routes[c.Service]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownService, c.LocalPort)
	}

	outer, err := decode(routes.Kind(), raw)
	if err != nil {
		return err
	}
	d.logPacket(c, true, outer.Opcode(), raw)

	logger := d.Logger.WithFields(logrus.Fields{
		"conn":    c.ID,
		"service": c.Service.String(),
	})

	req, route := outer, Route{}
	encrypted := routes.encrypted(outer)
	if encrypted {
		if req, route, err = d.open(c, routes, outer); err != nil {
			return err
		}
	} else if route, ok = routes.Outer[outer.Opcode()]; !ok {
		logger.Warnf("ignoring unknown opcode %#04x", outer.Opcode())
		return nil
	}

	if err := req.Decode(route.Layout); err != nil {
		return err
	}

	responses, err := route.Handler(ctx, c.ID, req)
	if err != nil {
		return fmt.Errorf("handling %s: %w", packets.Name(req.Opcode(), req.Kind == frame.KindServer), err)
	}

	if c.State() == client.StateAwaitingHandshake && d.Sessions.Has(c.ID) && c.Activate() {
		logger.Debug("encryption session established")
	}

	return d.respond(c, routes, encrypted, responses)
}

func decode(kind frame.Kind, raw []byte) (*frame.Frame, error) {
	if kind == frame.KindServer {
		return frame.DecodeServer(raw, nil)
	}
	return frame.Decode(raw, nil)
}

// open decrypts the payload of an encrypted frame and finds the route for the
// frame inside it.
func (d *Dispatcher) open(c *client.Connection, routes *Routes, outer *frame.Frame) (*frame.Frame, Route, error) {
	if !d.Sessions.Has(c.ID) {
		return nil, Route{}, fmt.Errorf("encrypted frame on connection %d: %w", c.ID, encryption.ErrMissingSession)
	}

	plaintext, err := d.Sessions.Decrypt(c.ID, routes.Channel, outer.Body())
	if err != nil {
		return nil, Route{}, err
	}

	var inner *frame.Frame
	if outer.Kind == frame.KindServer {
		inner = frame.NewServerLegacy(plaintext)
		inner.Server.Sequence = outer.Server.Sequence
	} else if inner, err = frame.Decode(plaintext, nil); err != nil {
		return nil, Route{}, fmt.Errorf("decrypted payload: %w", err)
	}
	d.logPacket(c, true, inner.Opcode(), plaintext)

	route, ok := routes.Inner[inner.Opcode()]
	if !ok {
		return nil, Route{}, fmt.Errorf("%w: %#04x inside encrypted frame", ErrUnknownOpcode, inner.Opcode())
	}
	return inner, route, nil
}

// respond writes each response in order, sealing it first if the request was
// encrypted.
func (d *Dispatcher) respond(c *client.Connection, routes *Routes, encrypted bool, responses []*frame.Frame) error {
	for _, resp := range responses {
		if _, ok := d.Registry.Get(c.ID); !ok {
			return ErrConnectionClosed
		}

		// Checked before a sequence number is spent on it.
		if n := resp.Len(); n > frame.MaxLength {
			return fmt.Errorf("response %#04x is %d bytes: %w", resp.Opcode(), n, frame.ErrFrameTooLarge)
		}
		if resp.Kind == frame.KindServer {
			resp.Server.Sequence = c.NextSequence()
		}
		data := resp.Encode()
		d.logPacket(c, false, resp.Opcode(), data)

		if encrypted {
			var err error
			if data, err = d.seal(c, routes, resp); err != nil {
				return err
			}
		}
		if err := c.Send(data); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) seal(c *client.Connection, routes *Routes, resp *frame.Frame) ([]byte, error) {
	if resp.Kind == frame.KindServer {
		ciphertext, err := d.Sessions.Encrypt(c.ID, routes.Channel, resp.Body())
		if err != nil {
			return nil, err
		}
		sealed := frame.NewServerLegacy(ciphertext)
		sealed.Server.Sequence = resp.Server.Sequence
		sealed.Server.Flags = resp.Server.Flags | frame.FlagEncrypted
		return sealed.Marshal()
	}

	ciphertext, err := d.Sessions.Encrypt(c.ID, routes.Channel, resp.Encode())
	if err != nil {
		return nil, err
	}
	return frame.NewLegacy(routes.Envelope, ciphertext).Marshal()
}

func (d *Dispatcher) logPacket(c *client.Connection, fromClient bool, opcode uint16, data []byte) {
	if d.PacketWriter == nil {
		return
	}
	debug.PrintPacket(debug.PrintPacketParams{
		Writer:       d.PacketWriter,
		Service:      c.Service.String(),
		ClientPacket: fromClient,
		Name:         packets.Name(opcode, c.Service.FrameKind() == frame.KindServer),
		Opcode:       opcode,
		Data:         data,
	})
}
