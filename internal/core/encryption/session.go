// Package encryption owns the RSA login handshake and the per-connection
// cipher state that results from it.
package encryption

import (
	"crypto/rsa"
	"fmt"
	"sync"
)

const (
	minSessionKeySize = 12
	maxSessionKeySize = 32
)

// Session is the cipher state belonging to exactly one connection.
type Session struct {
	ConnectionID uint32
	CustomerID   uint32
	Key          []byte

	// Serializes use of the stateful ciphers.
	mu     sync.Mutex
	game   *CipherPair
	legacy *CipherPair
}

func newSession(connID, customerID uint32, key []byte) (*Session, error) {
	if len(key) < minSessionKeySize || len(key) > maxSessionKeySize {
		return nil, fmt.Errorf("%w: session key is %d bytes", ErrDecryptionFailure, len(key))
	}

	game, err := NewStreamPair(key)
	if err != nil {
		return nil, err
	}
	legacy, err := NewBlockPair(key[:LegacyKeySize])
	if err != nil {
		return nil, err
	}

	return &Session{
		ConnectionID: connID,
		CustomerID:   customerID,
		Key:          append([]byte{}, key...),
		game:         game,
		legacy:       legacy,
	}, nil
}

func (s *Session) pair(ch Channel) (*CipherPair, error) {
	switch ch {
	case ChannelGame:
		return s.game, nil
	case ChannelLegacy:
		return s.legacy, nil
	default:
		return nil, fmt.Errorf("unknown channel %v", ch)
	}
}

// Manager tracks the Session of every connection that has one. No state is
// shared between connections.
type Manager struct {
	handshaker *Handshaker

	mu       sync.RWMutex
	sessions map[uint32]*Session
}

// NewManager returns a Manager that opens login handshakes with key. A nil key
// is allowed for servers that only restore sessions from stored keys.
func NewManager(key *rsa.PrivateKey) *Manager {
	return &Manager{
		handshaker: NewHandshaker(key),
		sessions:   make(map[uint32]*Session),
	}
}

// Handshake decrypts the RSA blob sent by a client logging in on connID and
// creates its session. If connID already has a session it is left untouched
// and its key returned.
func (m *Manager) Handshake(connID, customerID uint32, rsaCiphertext []byte) (SessionKey, error) {
	if s, ok := m.Get(connID); ok {
		return SessionKey{Key: append([]byte{}, s.Key...)}, nil
	}

	key, err := m.handshaker.DecryptSessionKey(rsaCiphertext)
	if err != nil {
		return SessionKey{}, err
	}
	if _, err := m.Establish(connID, customerID, key.Key); err != nil {
		return SessionKey{}, err
	}
	return key, nil
}

// Establish creates the session for connID from a key recovered earlier (for
// example by the login server on another socket). Idempotent.
func (m *Manager) Establish(connID, customerID uint32, key []byte) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[connID]; ok {
		return s, nil
	}
	s, err := newSession(connID, customerID, key)
	if err != nil {
		return nil, err
	}
	m.sessions[connID] = s
	return s, nil
}

// Get returns the session for connID.
func (m *Manager) Get(connID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Has reports whether connID has completed a handshake.
func (m *Manager) Has(connID uint32) bool {
	_, ok := m.Get(connID)
	return ok
}

// Remove discards the session for connID when the connection goes away.
func (m *Manager) Remove(connID uint32) {
	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}

// Reset drops the cipher state of a live connection so that the next
// Handshake or Establish starts over. It reports whether there was a session.
func (m *Manager) Reset(connID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[connID]
	delete(m.sessions, connID)
	return ok
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Encrypt encrypts plaintext on the given channel of connID's session.
func (m *Manager) Encrypt(connID uint32, ch Channel, plaintext []byte) ([]byte, error) {
	s, ok := m.Get(connID)
	if !ok {
		return nil, fmt.Errorf("connection %d: %w", connID, ErrMissingSession)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pair(ch)
	if err != nil {
		return nil, err
	}
	return p.Encrypt(plaintext), nil
}

// Decrypt decrypts ciphertext on the given channel of connID's session.
func (m *Manager) Decrypt(connID uint32, ch Channel, ciphertext []byte) ([]byte, error) {
	s, ok := m.Get(connID)
	if !ok {
		return nil, fmt.Errorf("connection %d: %w", connID, ErrMissingSession)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.pair(ch)
	if err != nil {
		return nil, err
	}
	return p.Decrypt(ciphertext)
}
