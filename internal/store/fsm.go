package store

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"google.golang.org/protobuf/encoding/protowire"
)

// OpPut is the only command the backend replicates. Addresses are written
// once per round and never deleted by the proxy.
const OpPut = "PUT"

// Command represents a single operation to be applied to the FSM.
type Command struct {
	Op      string
	Address string
	Value   []byte
}

// Encode serializes the command in protobuf wire format.
func (c Command) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, c.Op)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, c.Address)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	return protowire.AppendBytes(b, c.Value)
}

// DecodeCommand parses a command produced by Encode.
func DecodeCommand(b []byte) (Command, error) {
	var cmd Command
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return cmd, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
		} else {
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			switch num {
			case 1:
				cmd.Op = string(v)
			case 2:
				cmd.Address = string(v)
			case 3:
				cmd.Value = append([]byte(nil), v...)
			}
		}
		if n < 0 {
			return cmd, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return cmd, nil
}

// FSM is the replicated address -> sealed value map.
type FSM struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewFSM creates a new FSM instance.
func NewFSM() *FSM {
	return &FSM{
		data: make(map[string][]byte),
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := DecodeCommand(log.Data)
	if err != nil {
		return fmt.Errorf("failed to deserialize command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpPut:
		f.data[cmd.Address] = cmd.Value
		return nil
	default:
		return fmt.Errorf("unrecognized command op: %s", cmd.Op)
	}
}

// Get retrieves the value stored at address.
func (f *FSM) Get(address string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, exists := f.data[address]
	return value, exists
}

// Len returns the number of stored addresses.
func (f *FSM) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data)
}

// Snapshot captures the FSM state for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// values are never mutated in place, so sharing them is safe
	clone := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		clone[k] = v
	}
	return &FSMSnapshot{data: clone}, nil
}

// Restore replaces the FSM state with a snapshot written by Persist.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	data, err := decodeSnapshot(raw)
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

// FSMSnapshot represents a snapshot of the FSM state.
type FSMSnapshot struct {
	data map[string][]byte
}

// Persist writes the snapshot as a sequence of length-delimited
// (address, value) records.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	var b []byte
	for address, value := range s.data {
		var rec []byte
		rec = protowire.AppendTag(rec, 1, protowire.BytesType)
		rec = protowire.AppendString(rec, address)
		rec = protowire.AppendTag(rec, 2, protowire.BytesType)
		rec = protowire.AppendBytes(rec, value)

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, rec)
	}

	if _, err := sink.Write(b); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return sink.Close()
}

// Release is a no-op for the in-memory snapshot.
func (s *FSMSnapshot) Release() {}

var errBadRecord = errors.New("malformed snapshot record")

func decodeSnapshot(b []byte) (map[string][]byte, error) {
	data := make(map[string][]byte)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			return nil, errBadRecord
		}
		rec, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		address, value, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		data[address] = value
	}
	return data, nil
}

func decodeRecord(b []byte) (string, []byte, error) {
	var (
		address string
		value   []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return "", nil, errBadRecord
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			address = string(v)
		case 2:
			value = append([]byte(nil), v...)
		}
	}
	if address == "" {
		return "", nil, errBadRecord
	}
	return address, value, nil
}
