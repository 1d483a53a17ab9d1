package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrDecryptionFailure covers a bad RSA blob, a bad symmetric payload and a
	// session key of the wrong size. The connection should be dropped.
	ErrDecryptionFailure = errors.New("decryption failure")
	// ErrConfiguration means the server's private key could not be loaded.
	ErrConfiguration = errors.New("encryption configuration error")
	// ErrMissingSession is returned when a channel is used before the
	// connection has a session.
	ErrMissingSession = errors.New("missing encryption session")
)

// SessionKeySize is the only session key length the client sends.
const SessionKeySize = 32

// SessionKey is the symmetric secret recovered from the login handshake.
type SessionKey struct {
	Key     []byte
	Expires uint32
}

// Hex is the form the key is persisted in.
func (k SessionKey) Hex() string { return hex.EncodeToString(k.Key) }

// LoadPrivateKey reads the server's RSA private key from a PEM file in either
// PKCS#1 or PKCS#8 form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no private key file configured", ErrConfiguration)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading private key: %v", ErrConfiguration, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s contains no PEM data", ErrConfiguration, path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", ErrConfiguration, path)
	}
	return key, nil
}

// WritePrivateKey stores key at path as a PKCS#1 PEM file readable only by
// its owner.
func WritePrivateKey(path string, key *rsa.PrivateKey) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer out.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := pem.Encode(out, block); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return out.Close()
}

// Handshaker recovers session keys sealed with the server's public key.
type Handshaker struct {
	key *rsa.PrivateKey
}

func NewHandshaker(key *rsa.PrivateKey) *Handshaker {
	return &Handshaker{key: key}
}

// DecryptSessionKey opens the RSA blob from a login frame. The plaintext is a
// big-endian u16 key length, the key, and a big-endian u32 expiry.
func (h *Handshaker) DecryptSessionKey(ciphertext []byte) (SessionKey, error) {
	if h == nil || h.key == nil {
		return SessionKey{}, fmt.Errorf("%w: no private key loaded", ErrConfiguration)
	}

	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, h.key, ciphertext)
	if err != nil {
		return SessionKey{}, fmt.Errorf("%w: rsa: %v", ErrDecryptionFailure, err)
	}
	if len(plaintext) < 2 {
		return SessionKey{}, fmt.Errorf("%w: %d byte plaintext", ErrDecryptionFailure, len(plaintext))
	}

	keyLen := int(binary.BigEndian.Uint16(plaintext))
	if keyLen != SessionKeySize {
		return SessionKey{}, fmt.Errorf("%w: session key is %d bytes, want %d",
			ErrDecryptionFailure, keyLen, SessionKeySize)
	}
	if len(plaintext) < 2+keyLen+4 {
		return SessionKey{}, fmt.Errorf("%w: %d byte plaintext too short for key and expiry",
			ErrDecryptionFailure, len(plaintext))
	}

	return SessionKey{
		Key:     append([]byte{}, plaintext[2:2+keyLen]...),
		Expires: binary.BigEndian.Uint32(plaintext[2+keyLen:]),
	}, nil
}
