// Package crypto provides the proxy's secret-keyed primitives: the address
// rotation PRF and authenticated sealing of values stored at the backend.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretSize is the minimum length of configured secret material.
const MinSecretSize = 32

// KeySize is the length of each derived key.
const KeySize = 32

const (
	addressInfo = "oblivkv/address"
	sealInfo    = "oblivkv/seal"
)

// ErrShortSecret is returned when secret material is shorter than MinSecretSize.
var ErrShortSecret = errors.New("secret material too short")

// Keys holds the independent keys derived from the proxy secret.
type Keys struct {
	Address [KeySize]byte
	Seal    [KeySize]byte
}

// DeriveKeys expands secret into one key per purpose with HKDF-SHA256.
func DeriveKeys(secret []byte) (Keys, error) {
	var k Keys
	if len(secret) < MinSecretSize {
		return k, fmt.Errorf("%w: need %d bytes, got %d", ErrShortSecret, MinSecretSize, len(secret))
	}
	if err := expand(secret, addressInfo, k.Address[:]); err != nil {
		return k, err
	}
	if err := expand(secret, sealInfo, k.Seal[:]); err != nil {
		return k, err
	}
	return k, nil
}

func expand(secret []byte, info string, out []byte) error {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("failed to derive %s key: %w", info, err)
	}
	return nil
}
