package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AddressSize is the length of an address in hex characters.
const AddressSize = 2 * blake2b.Size256

// Addresser maps (key, round) to the opaque backend address the key's value
// is stored under for that round.
type Addresser struct {
	key [KeySize]byte
}

// NewAddresser creates an addresser keyed with a derived address key.
func NewAddresser(key [KeySize]byte) *Addresser {
	return &Addresser{key: key}
}

// Address is a keyed BLAKE2b-256 digest of the length-prefixed key and the
// big-endian round, hex encoded.
func (a *Addresser) Address(key string, round uint64) string {
	h, err := blake2b.New256(a.key[:])
	if err != nil {
		// only possible with a key longer than 64 bytes
		panic(fmt.Sprintf("blake2b: %v", err))
	}

	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(key)))
	h.Write(buf[:n])
	h.Write([]byte(key))
	binary.BigEndian.PutUint64(buf[:8], round)
	h.Write(buf[:8])

	return hex.EncodeToString(h.Sum(nil))
}
