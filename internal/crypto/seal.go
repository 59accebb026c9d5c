package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	kindPlaceholder byte = 0
	kindValue       byte = 1
)

// ErrOpen is returned for sealed values that fail authentication or framing.
var ErrOpen = errors.New("cannot open sealed value")

// Sealer encrypts values with XChaCha20-Poly1305, binding each ciphertext to
// the address it is stored under. Plaintexts are padded to a multiple of
// padSize so values of similar length, including placeholders, look alike.
type Sealer struct {
	aead    cipher.AEAD
	padSize int
}

// NewSealer creates a sealer. padSize 0 disables padding.
func NewSealer(key [KeySize]byte, padSize int) (*Sealer, error) {
	if padSize < 0 {
		return nil, fmt.Errorf("pad size must not be negative, got %d", padSize)
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return &Sealer{aead: aead, padSize: padSize}, nil
}

// Seal encrypts value for address.
func (s *Sealer) Seal(address string, value []byte) ([]byte, error) {
	return s.seal(address, kindValue, value)
}

// SealPlaceholder encrypts an empty placeholder for address. Placeholders
// open as absent.
func (s *Sealer) SealPlaceholder(address string) ([]byte, error) {
	return s.seal(address, kindPlaceholder, nil)
}

func (s *Sealer) seal(address string, kind byte, value []byte) ([]byte, error) {
	var hdr [1 + binary.MaxVarintLen64]byte
	hdr[0] = kind
	n := 1 + binary.PutUvarint(hdr[1:], uint64(len(value)))

	size := n + len(value)
	if s.padSize > 0 && size%s.padSize != 0 {
		size += s.padSize - size%s.padSize
	}
	plaintext := make([]byte, size)
	copy(plaintext, hdr[:n])
	copy(plaintext[n:], value)

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+size+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(address)), nil
}

// Open decrypts a sealed value stored at address. placeholder is true when
// the stored value is a placeholder, in which case value is nil.
func (s *Sealer) Open(address string, sealed []byte) (value []byte, placeholder bool, err error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, false, fmt.Errorf("%w: %d bytes is too short", ErrOpen, len(sealed))
	}

	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(address))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	if len(plaintext) == 0 {
		return nil, false, fmt.Errorf("%w: empty plaintext", ErrOpen)
	}

	switch plaintext[0] {
	case kindPlaceholder:
		return nil, true, nil
	case kindValue:
	default:
		return nil, false, fmt.Errorf("%w: unknown kind %d", ErrOpen, plaintext[0])
	}

	length, n := binary.Uvarint(plaintext[1:])
	if n <= 0 || length > uint64(len(plaintext)-1-n) {
		return nil, false, fmt.Errorf("%w: bad length header", ErrOpen)
	}
	start := 1 + n
	return plaintext[start : start+int(length)], false, nil
}
