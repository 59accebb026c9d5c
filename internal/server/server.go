package server

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apiv1 "github.com/mundrapranay/oblivkv/api/v1"
	"github.com/mundrapranay/oblivkv/internal/store"
)

// Server implements the BackendService gRPC server on top of a raft store.
// Reads are served from the local replica; writes and membership changes
// must reach the leader.
type Server struct {
	apiv1.UnimplementedBackendServiceServer

	store  *store.Store
	logger hclog.Logger
}

// NewServer creates a new gRPC server instance.
func NewServer(s *store.Store, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		store:  s,
		logger: logger,
	}
}

// Get returns the sealed value stored at an address.
func (s *Server) Get(ctx context.Context, req *apiv1.GetRequest) (*apiv1.GetResponse, error) {
	if req.Address == "" {
		return nil, status.Errorf(codes.InvalidArgument, "address is required")
	}

	value, ok := s.store.Get(req.Address)
	if !ok {
		return &apiv1.GetResponse{}, nil
	}
	return &apiv1.GetResponse{Value: value, Found: true}, nil
}

// Put replicates a sealed value at an address.
func (s *Server) Put(ctx context.Context, req *apiv1.PutRequest) (*apiv1.PutResponse, error) {
	if req.Address == "" {
		return nil, status.Errorf(codes.InvalidArgument, "address is required")
	}
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	if err := s.store.Put(req.Address, req.Value); err != nil {
		return nil, toStatus(err, "failed to store value")
	}
	return &apiv1.PutResponse{}, nil
}

// Join adds a node to the raft cluster.
func (s *Server) Join(ctx context.Context, req *apiv1.JoinRequest) (*apiv1.JoinResponse, error) {
	if req.NodeId == "" || req.RaftAddress == "" {
		return nil, status.Errorf(codes.InvalidArgument, "node_id and raft_address are required")
	}
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	if err := s.store.AddPeer(req.NodeId, req.RaftAddress); err != nil {
		s.logger.Error("join failed", "node", req.NodeId, "error", err)
		return nil, toStatus(err, "failed to add peer")
	}
	return &apiv1.JoinResponse{}, nil
}

// Leave removes a node from the raft cluster.
func (s *Server) Leave(ctx context.Context, req *apiv1.LeaveRequest) (*apiv1.LeaveResponse, error) {
	if req.NodeId == "" {
		return nil, status.Errorf(codes.InvalidArgument, "node_id is required")
	}
	if !s.store.IsLeader() {
		return nil, status.Errorf(codes.FailedPrecondition, "not the leader")
	}

	if err := s.store.RemovePeer(req.NodeId); err != nil {
		s.logger.Error("leave failed", "node", req.NodeId, "error", err)
		return nil, toStatus(err, "failed to remove peer")
	}
	return &apiv1.LeaveResponse{}, nil
}

// leadership can move between the check and the raft call
func toStatus(err error, msg string) error {
	if errors.Is(err, store.ErrNotLeader) {
		return status.Errorf(codes.FailedPrecondition, "not the leader")
	}
	return status.Errorf(codes.Internal, "%s: %v", msg, err)
}
