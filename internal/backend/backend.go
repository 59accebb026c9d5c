// Package backend adapts the untrusted key-value stores the proxy can sit in
// front of. Every adapter sees only opaque addresses and sealed values.
package backend

//go:generate mockgen -destination=mocks/backend.go -package=mocks github.com/mundrapranay/oblivkv/internal/backend Backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when nothing is stored at an address.
var ErrNotFound = errors.New("address not found")

// Backend is a remote or embedded address -> bytes store.
// Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, address string) ([]byte, error)
	Put(ctx context.Context, address string, value []byte) error
	Close() error
}

// Adapter kinds accepted by Open.
const (
	KindGRPC    = "grpc"
	KindRedis   = "redis"
	KindLevelDB = "leveldb"
	KindMemory  = "memory"
)

// Options selects and configures an adapter.
type Options struct {
	Kind string `yaml:"kind"`

	// Address is the gRPC target or the redis host:port.
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Path is the LevelDB directory.
	Path string `yaml:"path"`
}

// Open creates the adapter named by opts.Kind.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case KindGRPC:
		if opts.Address == "" {
			return nil, fmt.Errorf("grpc backend requires an address")
		}
		return NewGRPC(opts.Address)
	case KindRedis:
		if opts.Address == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedis(opts.Address, opts.Password, opts.DB), nil
	case KindLevelDB:
		if opts.Path == "" {
			return nil, fmt.Errorf("leveldb backend requires a path")
		}
		return NewLevelDB(opts.Path)
	case KindMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", opts.Kind)
	}
}
