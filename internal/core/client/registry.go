package client

import (
	"net"
	"sync"
	"sync/atomic"
)

// Registry is the set of open connections across every service, keyed by
// connection id.
type Registry struct {
	ports  PortTable
	nextID atomic.Uint32

	mu          sync.RWMutex
	connections map[uint32]*Connection
	bySocket    map[net.Conn]uint32
}

// NewRegistry returns an empty Registry classifying connections with ports.
// A nil table means DefaultPorts.
func NewRegistry(ports PortTable) *Registry {
	if ports == nil {
		ports = DefaultPorts()
	}
	return &Registry{
		ports:       ports,
		connections: make(map[uint32]*Connection),
		bySocket:    make(map[net.Conn]uint32),
	}
}

// Ports is the table the registry classifies connections with.
func (r *Registry) Ports() PortTable { return r.ports }

// GetOrCreate returns the Connection for conn, creating and classifying it
// the first time the socket is seen.
func (r *Registry) GetOrCreate(conn net.Conn) *Connection {
	r.mu.RLock()
	c, ok := r.connections[r.bySocket[conn]]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.bySocket[conn]; ok {
		return r.connections[id]
	}

	c = newConnection(r.nextID.Add(1), conn, r.ports)
	r.connections[c.ID] = c
	r.bySocket[conn] = c.ID
	return c
}

// Get returns the live connection with the given id.
func (r *Registry) Get(id uint32) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// Remove deregisters the connection. It does not close the socket.
func (r *Registry) Remove(id uint32) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	delete(r.connections, id)
	delete(r.bySocket, c.conn)
	return c, true
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Each calls fn for every registered connection until fn returns false. The
// registry must not be modified from fn.
func (r *Registry) Each(fn func(*Connection) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.connections {
		if !fn(c) {
			return
		}
	}
}
