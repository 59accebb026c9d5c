package store

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

const applyTimeout = 10 * time.Second

// ErrNotLeader is returned for writes on a follower.
var ErrNotLeader = errors.New("not the leader")

// Store wraps a Raft instance and provides a clean API for operations.
type Store struct {
	raft        *raft.Raft
	fsm         *FSM
	transport   *raft.NetworkTransport
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore
	logger      hclog.Logger
}

// Config holds configuration for initializing a Raft store.
type Config struct {
	NodeID     string
	ListenAddr string
	// AdvertiseAddr is the address peers dial. Defaults to the bound
	// listener address, which must then not be unspecified.
	AdvertiseAddr    string
	DataDir          string
	Bootstrap        bool
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	Logger           hclog.Logger
}

// NewStore creates and initializes a new Raft store.
func NewStore(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	fsm := NewFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	raftConfig.Logger = logger.Named("raft")
	if config.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = config.HeartbeatTimeout
		raftConfig.LeaderLeaseTimeout = config.HeartbeatTimeout
	}
	if config.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = config.ElectionTimeout
	}
	if config.CommitTimeout > 0 {
		raftConfig.CommitTimeout = config.CommitTimeout
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "logs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(config.DataDir, "stable"))
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(config.DataDir, 3, logger.Named("snapshot"))
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	var advertise net.Addr
	if config.AdvertiseAddr != "" {
		advertise, err = net.ResolveTCPAddr("tcp", config.AdvertiseAddr)
		if err != nil {
			logStore.Close()
			stableStore.Close()
			return nil, fmt.Errorf("failed to resolve address: %w", err)
		}
	}

	transport, err := raft.NewTCPTransportWithLogger(config.ListenAddr, advertise, 3, 10*time.Second, logger.Named("transport"))
	if err != nil {
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		logStore.Close()
		stableStore.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	// Bootstrap if this is the first node
	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			logger.Warn("bootstrap failed", "error", err)
		}
	}

	return &Store{
		raft:        r,
		fsm:         fsm,
		transport:   transport,
		logStore:    logStore,
		stableStore: stableStore,
		logger:      logger,
	}, nil
}

// Put writes a value at address via Raft consensus.
func (s *Store) Put(address string, value []byte) error {
	if s.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	cmd := Command{
		Op:      OpPut,
		Address: address,
		Value:   value,
	}

	future := s.raft.Apply(cmd.Encode(), applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

// Get retrieves a value from the local FSM.
// Followers may lag the leader by the replication delay.
func (s *Store) Get(address string) ([]byte, bool) {
	return s.fsm.Get(address)
}

// Len returns the number of addresses in the local FSM.
func (s *Store) Len() int {
	return s.fsm.Len()
}

// Addr returns the raft address peers reach this node at.
func (s *Store) Addr() string {
	return string(s.transport.LocalAddr())
}

// IsLeader returns whether this node is currently the Raft leader.
func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Leader returns the address of the current leader.
func (s *Store) Leader() raft.ServerAddress {
	return s.raft.Leader()
}

// WaitForLeader blocks until the cluster has a leader or timeout elapses.
func (s *Store) WaitForLeader(timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for s.raft.Leader() == "" {
		select {
		case <-deadline:
			return fmt.Errorf("no leader after %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}

// AddPeer adds a new voter to the cluster.
func (s *Store) AddPeer(peerID, peerAddr string) error {
	if !s.IsLeader() {
		return ErrNotLeader
	}
	s.logger.Info("adding peer", "id", peerID, "addr", peerAddr)
	return s.raft.AddVoter(raft.ServerID(peerID), raft.ServerAddress(peerAddr), 0, 0).Error()
}

// RemovePeer removes a peer from the cluster.
func (s *Store) RemovePeer(peerID string) error {
	if !s.IsLeader() {
		return ErrNotLeader
	}
	s.logger.Info("removing peer", "id", peerID)
	return s.raft.RemoveServer(raft.ServerID(peerID), 0, 0).Error()
}

// Shutdown stops Raft and releases the transport and the BoltDB files, so
// the data directory can be reopened.
func (s *Store) Shutdown() error {
	err := s.raft.Shutdown().Error()

	if cerr := s.transport.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close transport: %w", cerr)
	}
	if cerr := s.logStore.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close log store: %w", cerr)
	}
	if cerr := s.stableStore.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close stable store: %w", cerr)
	}
	return err
}
