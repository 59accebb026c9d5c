package store

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/hashicorp/raft"
)

func putLog(address, value string) *raft.Log {
	cmd := Command{Op: OpPut, Address: address, Value: []byte(value)}
	return &raft.Log{Data: cmd.Encode()}
}

func TestNewFSM(t *testing.T) {
	fsm := NewFSM()
	if fsm == nil {
		t.Fatal("NewFSM returned nil")
	}
	if fsm.Len() != 0 {
		t.Fatal("FSM should start with empty data")
	}
}

func TestCommand_EncodeDecode(t *testing.T) {
	cmd := Command{Op: OpPut, Address: "9f86d081", Value: []byte{0, 1, 2}}
	got, err := DecodeCommand(cmd.Encode())
	if err != nil {
		t.Fatalf("Failed to decode command: %v", err)
	}
	if got.Op != cmd.Op || got.Address != cmd.Address || !bytes.Equal(got.Value, cmd.Value) {
		t.Fatalf("Expected %+v, got %+v", cmd, got)
	}

	if _, err := DecodeCommand([]byte{0x0a, 0x10, 'x'}); err == nil {
		t.Fatal("Truncated command should not decode")
	}
}

func TestFSM_Apply_PUT(t *testing.T) {
	fsm := NewFSM()

	if result := fsm.Apply(putLog("addr-1", "sealed-1")); result != nil {
		t.Fatalf("Apply returned error: %v", result)
	}

	value, exists := fsm.Get("addr-1")
	if !exists {
		t.Fatal("Address was not stored")
	}
	if string(value) != "sealed-1" {
		t.Fatalf("Expected 'sealed-1', got '%s'", string(value))
	}

	// overwrite
	fsm.Apply(putLog("addr-1", "sealed-2"))
	value, _ = fsm.Get("addr-1")
	if string(value) != "sealed-2" {
		t.Fatalf("Expected 'sealed-2', got '%s'", string(value))
	}
	if fsm.Len() != 1 {
		t.Fatalf("Expected 1 address, got %d", fsm.Len())
	}
}

func TestFSM_Apply_InvalidOperation(t *testing.T) {
	fsm := NewFSM()

	cmd := Command{Op: "DELETE", Address: "addr-1"}
	result := fsm.Apply(&raft.Log{Data: cmd.Encode()})
	if result == nil {
		t.Fatal("Apply should return error for invalid operation")
	}

	err, ok := result.(error)
	if !ok {
		t.Fatal("Result should be an error")
	}
	if err.Error() != "unrecognized command op: DELETE" {
		t.Fatalf("Expected error message about invalid op, got: %v", err)
	}

	if result := fsm.Apply(&raft.Log{Data: []byte{0xff}}); result == nil {
		t.Fatal("Apply should reject undecodable data")
	}
}

func TestFSM_SnapshotRestore(t *testing.T) {
	fsm := NewFSM()
	for i := 0; i < 100; i++ {
		fsm.Apply(putLog(fmt.Sprintf("addr-%d", i), fmt.Sprintf("sealed-%d", i)))
	}
	fsm.Apply(putLog("empty", ""))

	snapshot, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}

	var buf bytes.Buffer
	sink := &mockSnapshotSink{buf: &buf}
	if err := snapshot.Persist(sink); err != nil {
		t.Fatalf("Failed to persist snapshot: %v", err)
	}
	if !sink.closed {
		t.Fatal("Persist should close the sink")
	}
	snapshot.Release()

	// writes after the snapshot must not leak into it
	fsm.Apply(putLog("late", "x"))

	restored := NewFSM()
	restored.Apply(putLog("stale", "gone"))
	if err := restored.Restore(io.NopCloser(&buf)); err != nil {
		t.Fatalf("Failed to restore snapshot: %v", err)
	}

	if restored.Len() != 101 {
		t.Fatalf("Expected 101 addresses, got %d", restored.Len())
	}
	for i := 0; i < 100; i++ {
		value, exists := restored.Get(fmt.Sprintf("addr-%d", i))
		if !exists || string(value) != fmt.Sprintf("sealed-%d", i) {
			t.Fatalf("addr-%d: exists=%v, value=%s", i, exists, string(value))
		}
	}
	if _, exists := restored.Get("empty"); !exists {
		t.Fatal("Empty values must survive a snapshot")
	}
	if _, exists := restored.Get("stale"); exists {
		t.Fatal("Restore should replace existing state")
	}
	if _, exists := restored.Get("late"); exists {
		t.Fatal("Snapshot should not include later writes")
	}
}

func TestFSM_RestoreRejectsGarbage(t *testing.T) {
	fsm := NewFSM()
	fsm.Apply(putLog("addr-1", "v"))

	err := fsm.Restore(io.NopCloser(bytes.NewReader([]byte{0x0a, 0x05, 0x01})))
	if err == nil {
		t.Fatal("Restore should fail on a truncated snapshot")
	}
	if _, exists := fsm.Get("addr-1"); !exists {
		t.Fatal("A failed restore must leave the state untouched")
	}
}

// Helper types for testing

type mockSnapshotSink struct {
	buf    *bytes.Buffer
	closed bool
}

func (m *mockSnapshotSink) Write(p []byte) (int, error) {
	return m.buf.Write(p)
}

func (m *mockSnapshotSink) Close() error {
	m.closed = true
	return nil
}

func (m *mockSnapshotSink) ID() string {
	return "test-snapshot"
}

func (m *mockSnapshotSink) Cancel() error {
	return nil
}
