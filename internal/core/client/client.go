package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// State is the progress of a connection towards being able to exchange game
// traffic.
type State uint32

const (
	StateUnclassified State = iota
	StateAwaitingHandshake
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUnclassified:
		return "unclassified"
	case StateAwaitingHandshake:
		return "awaiting handshake"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Connection represents a socket opened by a Motor City Online client.
type Connection struct {
	ID        uint32
	LocalPort int
	Service   Service

	conn   net.Conn
	ipAddr string
	port   string

	state      atomic.Uint32
	customerID atomic.Uint32
	sequence   atomic.Uint32

	// Serializes writes so that the frames of one response aren't interleaved.
	writeMu sync.Mutex

	// Debugging information used for logging purposes.
	DebugTags map[string]interface{}
}

func newConnection(id uint32, conn net.Conn, ports PortTable) *Connection {
	c := &Connection{
		ID:        id,
		conn:      conn,
		DebugTags: make(map[string]interface{}),
	}

	if host, port, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		c.ipAddr, c.port = host, port
	} else {
		c.ipAddr = conn.RemoteAddr().String()
	}
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		c.LocalPort = addr.Port
	}

	c.Service = ports.Classify(c.LocalPort)
	if c.Service != ServiceUnknown {
		if c.Service.RequiresSession() {
			c.state.Store(uint32(StateAwaitingHandshake))
		} else {
			c.state.Store(uint32(StateActive))
		}
	}

	c.DebugTags["conn"] = id
	c.DebugTags["service"] = c.Service.String()
	return c
}

func (c *Connection) IPAddr() string       { return c.ipAddr }
func (c *Connection) Port() string         { return c.port }
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// State returns where the connection is in its lifecycle.
func (c *Connection) State() State { return State(c.state.Load()) }

// Activate moves a connection that was waiting for its encryption session
// into the active state. It reports whether the state changed.
func (c *Connection) Activate() bool {
	return c.state.CompareAndSwap(uint32(StateAwaitingHandshake), uint32(StateActive))
}

// CustomerID is the customer the connection authenticated as, or 0.
func (c *Connection) CustomerID() uint32      { return c.customerID.Load() }
func (c *Connection) SetCustomerID(id uint32) { c.customerID.Store(id) }

// NextSequence returns the sequence number for the next server frame sent on
// this connection.
func (c *Connection) NextSequence() uint32 {
	return c.sequence.Add(1)
}

// Read consumes the available bytes directly from the client's connection.
func (c *Connection) Read(b []byte) (int, error) {
	return c.conn.Read(b)
}

// Write directly sends data to the client over its connection.
func (c *Connection) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Close the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Send writes each encoded frame to the client in order.
func (c *Connection) Send(frames ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, data := range frames {
		if err := c.transmit(data); err != nil {
			return err
		}
	}
	return nil
}

// transmit writes the contents of data to the connection until all of it has
// been sent.
func (c *Connection) transmit(data []byte) error {
	for sent := 0; sent < len(data); {
		n, err := c.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.IPAddr(), err)
		}
		sent += n
	}
	return nil
}
