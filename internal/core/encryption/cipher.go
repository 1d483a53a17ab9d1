package encryption

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"
	"fmt"
)

// Channel identifies one of the two independently keyed cipher streams a
// connection can have.
type Channel uint8

const (
	// ChannelGame is the RC4 stream used for post-handshake game traffic.
	ChannelGame Channel = iota + 1
	// ChannelLegacy is the DES-CBC channel used for encrypted lobby commands.
	ChannelLegacy
)

func (c Channel) String() string {
	switch c {
	case ChannelGame:
		return "game"
	case ChannelLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// LegacyKeySize is the DES key size; it is taken from the front of the session
// key (the first 16 characters of its hex form).
const LegacyKeySize = des.BlockSize

// CipherPair is an encrypter and decrypter sharing a key. The two halves keep
// their own state, which advances with every call, so calls on each half must
// be made in wire order.
type CipherPair struct {
	blockSize int
	encrypt   func(dst, src []byte)
	decrypt   func(dst, src []byte)
}

// NewStreamPair creates the RC4 pair used on the game channel. RC4 takes no IV.
func NewStreamPair(key []byte) (*CipherPair, error) {
	enc, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating stream cipher: %w", err)
	}
	dec, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating stream decipher: %w", err)
	}
	return &CipherPair{
		blockSize: 1,
		encrypt:   enc.XORKeyStream,
		decrypt:   dec.XORKeyStream,
	}, nil
}

// NewBlockPair creates the DES-CBC pair used on the legacy lobby channel: no
// padding, all-zero IV. The CBC chain carries over between calls.
func NewBlockPair(key []byte) (*CipherPair, error) {
	block, err := des.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating block cipher: %w", err)
	}
	iv := make([]byte, des.BlockSize)
	return &CipherPair{
		blockSize: des.BlockSize,
		encrypt:   cipher.NewCBCEncrypter(block, iv).CryptBlocks,
		decrypt:   cipher.NewCBCDecrypter(block, iv).CryptBlocks,
	}, nil
}

// BlockSize is 1 for the stream pair and 8 for the block pair.
func (p *CipherPair) BlockSize() int { return p.blockSize }

// Encrypt returns the ciphertext of plaintext. Input to the block pair is
// zero-padded up to the block size; the client discards the padding.
func (p *CipherPair) Encrypt(plaintext []byte) []byte {
	src := plaintext
	if rem := len(src) % p.blockSize; rem != 0 {
		src = make([]byte, len(plaintext)+p.blockSize-rem)
		copy(src, plaintext)
	}
	out := make([]byte, len(src))
	p.encrypt(out, src)
	return out
}

// Decrypt returns the plaintext of ciphertext. The block pair rejects input
// that isn't a whole number of blocks.
func (p *CipherPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%p.blockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d byte block",
			ErrDecryptionFailure, len(ciphertext), p.blockSize)
	}
	out := make([]byte, len(ciphertext))
	p.decrypt(out, ciphertext)
	return out, nil
}
