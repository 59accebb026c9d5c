package proxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/mundrapranay/oblivkv/internal/crypto"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid proxy config")

// Config holds the scheduler's sizing, timing and key material.
type Config struct {
	// CacheCapacity bounds the local cache.
	CacheCapacity int
	// BatchSize is the number of backend reads issued every round.
	BatchSize int
	// DummyFillCount is the number of dummy slots reserved in every batch.
	DummyFillCount int
	// DummyPoolSize is the number of dummy keys generated at startup.
	DummyPoolSize int
	// RoundTimeout bounds the read fan-out of a round.
	RoundTimeout time.Duration
	// WriteTimeout bounds the write-back fan-out of a round.
	WriteTimeout time.Duration
	// Secret keys the address PRF and value sealing. It must never be
	// derived from application keys.
	Secret []byte
	// ValuePadSize pads sealed plaintexts to a multiple of this size.
	ValuePadSize int
}

// DefaultConfig returns the stock sizing. Secret is left empty.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:  100,
		BatchSize:      50,
		DummyFillCount: 25,
		DummyPoolSize:  100,
		RoundTimeout:   5 * time.Second,
		WriteTimeout:   5 * time.Second,
		ValuePadSize:   64,
	}
}

// Validate checks the sizing constraints the scheduler relies on.
func (c Config) Validate() error {
	switch {
	case c.CacheCapacity <= 0:
		return fmt.Errorf("%w: cache capacity must be positive, got %d", ErrInvalidConfig, c.CacheCapacity)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.DummyFillCount < 1:
		return fmt.Errorf("%w: dummy fill count must be at least 1, got %d", ErrInvalidConfig, c.DummyFillCount)
	case 2*c.DummyFillCount > c.BatchSize:
		return fmt.Errorf("%w: dummy fill count %d exceeds half the batch size %d", ErrInvalidConfig, c.DummyFillCount, c.BatchSize)
	case c.DummyPoolSize <= 2*c.DummyFillCount:
		return fmt.Errorf("%w: dummy pool size %d must exceed twice the dummy fill count %d", ErrInvalidConfig, c.DummyPoolSize, c.DummyFillCount)
	case c.RoundTimeout <= 0:
		return fmt.Errorf("%w: round timeout must be positive", ErrInvalidConfig)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	case len(c.Secret) < crypto.MinSecretSize:
		return fmt.Errorf("%w: secret must be at least %d bytes, got %d", ErrInvalidConfig, crypto.MinSecretSize, len(c.Secret))
	case c.ValuePadSize < 0:
		return fmt.Errorf("%w: value pad size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// missBudget is the number of slots client misses may take in one round.
// Misses past it wait for a later round even when dummy or padding slots
// would have been free.
func (c Config) missBudget() int {
	return c.BatchSize - c.DummyFillCount
}
