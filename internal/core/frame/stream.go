package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dcrodman/mcos/internal/core/field"
)

// ReadClient blocks until one complete client frame has been read from r and
// returns its raw bytes. The length in the first four bytes is trusted to
// delimit the frame.
func ReadClient(r io.Reader) ([]byte, error) {
	prefix := make([]byte, HeaderSizeV0)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(prefix[2:4]))
	if length < HeaderSizeV0 {
		return nil, fmt.Errorf("client frame %#04x declares length %d: %w",
			binary.BigEndian.Uint16(prefix[0:2]), length, field.ErrTruncatedBuffer)
	}
	return readRest(r, prefix, length)
}

// ReadServer blocks until one complete server frame has been read from r and
// returns its raw bytes.
func ReadServer(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}

	length := int(binary.LittleEndian.Uint16(prefix))
	if length < ServerHeaderSize {
		return nil, fmt.Errorf("server frame declares length %d: %w", length, field.ErrTruncatedBuffer)
	}
	return readRest(r, prefix, length)
}

// Read reads one frame of the given kind.
func Read(r io.Reader, kind Kind) ([]byte, error) {
	if kind == KindServer {
		return ReadServer(r)
	}
	return ReadClient(r)
}

func readRest(r io.Reader, prefix []byte, length int) ([]byte, error) {
	buf := make([]byte, length)
	copy(buf, prefix)
	if _, err := io.ReadFull(r, buf[len(prefix):]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading %d byte frame: %w", length, err)
	}
	return buf, nil
}
