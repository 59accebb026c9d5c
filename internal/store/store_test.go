package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(dataDir string) Config {
	return Config{
		NodeID:           "test-node",
		ListenAddr:       "127.0.0.1:0", // Use port 0 for random port
		DataDir:          dataDir,
		Bootstrap:        true,
		HeartbeatTimeout: 1000 * time.Millisecond,
		ElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
	}
}

func newTestStore(t *testing.T, dataDir string) *Store {
	store, err := NewStore(testConfig(dataDir))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewStore(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	defer store.Shutdown()

	if store.fsm == nil {
		t.Fatal("Store FSM is nil")
	}
	if store.raft == nil {
		t.Fatal("Store Raft instance is nil")
	}
	if store.Addr() == "" || store.Addr() == "127.0.0.1:0" {
		t.Fatalf("Expected a bound address, got %q", store.Addr())
	}
}

func TestNewStore_CreatesDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "raft")
	store := newTestStore(t, dataDir)
	defer store.Shutdown()

	if err := store.WaitForLeader(5 * time.Second); err != nil {
		t.Fatalf("Failed waiting for leader: %v", err)
	}
}

func TestStore_PutAndGet(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	defer store.Shutdown()

	if err := store.WaitForLeader(5 * time.Second); err != nil {
		t.Fatalf("Failed waiting for leader: %v", err)
	}
	if !store.IsLeader() {
		t.Fatal("Single bootstrapped node should be leader")
	}

	if err := store.Put("addr-1", []byte("sealed-1")); err != nil {
		t.Fatalf("Failed to put value: %v", err)
	}

	value, exists := store.Get("addr-1")
	if !exists {
		t.Fatal("Address should exist")
	}
	if string(value) != "sealed-1" {
		t.Fatalf("Expected 'sealed-1', got '%s'", string(value))
	}

	if _, exists := store.Get("nonexistent"); exists {
		t.Fatal("Nonexistent address should not exist")
	}
}

func TestStore_MultiplePuts(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	defer store.Shutdown()

	if err := store.WaitForLeader(5 * time.Second); err != nil {
		t.Fatalf("Failed waiting for leader: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := store.Put(fmt.Sprintf("addr-%d", i), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Failed to put addr-%d: %v", i, err)
		}
	}
	// rewriting an address keeps the count
	if err := store.Put("addr-0", []byte("rewritten")); err != nil {
		t.Fatalf("Failed to put value: %v", err)
	}

	if store.Len() != 10 {
		t.Fatalf("Expected 10 addresses, got %d", store.Len())
	}
	value, _ := store.Get("addr-0")
	if string(value) != "rewritten" {
		t.Fatalf("Expected 'rewritten', got '%s'", string(value))
	}
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	store := newTestStore(t, dataDir)
	if err := store.WaitForLeader(5 * time.Second); err != nil {
		t.Fatalf("Failed waiting for leader: %v", err)
	}
	if err := store.Put("addr-1", []byte("durable")); err != nil {
		t.Fatalf("Failed to put value: %v", err)
	}
	if err := store.Shutdown(); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	reopened := newTestStore(t, dataDir)
	defer reopened.Shutdown()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if value, ok := reopened.Get("addr-1"); ok {
			if string(value) != "durable" {
				t.Fatalf("Expected 'durable', got '%s'", string(value))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Log was not replayed after restart")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStore_FollowerRejectsWrites(t *testing.T) {
	config := Config{
		NodeID:           "lonely",
		ListenAddr:       "127.0.0.1:0",
		DataDir:          t.TempDir(),
		Bootstrap:        false,
		HeartbeatTimeout: 500 * time.Millisecond,
		ElectionTimeout:  500 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
	}
	store, err := NewStore(config)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Shutdown()

	if err := store.Put("addr-1", []byte("v")); !errors.Is(err, ErrNotLeader) {
		t.Fatalf("Expected ErrNotLeader, got %v", err)
	}
	if err := store.AddPeer("other", "127.0.0.1:1"); !errors.Is(err, ErrNotLeader) {
		t.Fatalf("Expected ErrNotLeader, got %v", err)
	}
	if err := store.RemovePeer("other"); !errors.Is(err, ErrNotLeader) {
		t.Fatalf("Expected ErrNotLeader, got %v", err)
	}
	if err := store.WaitForLeader(200 * time.Millisecond); err == nil {
		t.Fatal("Unbootstrapped node should not find a leader")
	}
}

func TestStore_ShutdownReleasesDataDir(t *testing.T) {
	dataDir := t.TempDir()

	store := newTestStore(t, dataDir)
	if err := store.Shutdown(); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	// a held BoltDB lock would block NewStore forever
	type result struct {
		store *Store
		err   error
	}
	opened := make(chan result, 1)
	go func() {
		reopened, err := NewStore(testConfig(dataDir))
		opened <- result{reopened, err}
	}()

	select {
	case r := <-opened:
		if r.err != nil {
			t.Fatalf("Failed to reopen store: %v", r.err)
		}
		if err := r.store.Shutdown(); err != nil {
			t.Fatalf("Failed to shut down reopened store: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Reopening the data directory blocked after Shutdown")
	}
}
