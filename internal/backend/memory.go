package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is an in-process backend. It records the number of operations it
// served, which tests use to observe the proxy's traffic shape.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte

	gets atomic.Int64
	puts atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, address string) ([]byte, error) {
	m.gets.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[address]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ctx context.Context, address string, value []byte) error {
	m.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[address] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error { return nil }

// Gets returns the number of Get calls served.
func (m *Memory) Gets() int64 { return m.gets.Load() }

// Puts returns the number of Put calls served.
func (m *Memory) Puts() int64 { return m.puts.Load() }

// Len returns the number of stored addresses.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
