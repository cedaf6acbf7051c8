package rpc

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/nodekeeper/nodekeeper/errors"
)

const HashSize = 32

// Hash is a block hash in its natural byte order, hex encoded for display and on the wire.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := NewHashFromString(string(b))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// Uint16 returns the first two bytes read little endian. It is used to spread blocks vertically in the DAG view.
func (h Hash) Uint16() uint16 {
	return binary.LittleEndian.Uint16(h[:2])
}

func NewHashFromString(s string) (Hash, error) {
	var h Hash

	if len(s) != HashSize*2 {
		return h, errors.NewInvalidArgumentError("invalid hash length %d", len(s))
	}

	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, errors.NewInvalidArgumentError("invalid hash %q", s, err)
	}

	return h, nil
}
