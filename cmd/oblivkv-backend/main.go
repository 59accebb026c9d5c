package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apiv1 "github.com/mundrapranay/oblivkv/api/v1"
	"github.com/mundrapranay/oblivkv/internal/server"
	"github.com/mundrapranay/oblivkv/internal/store"
)

var (
	nodeID        = flag.String("node-id", "", "Unique ID for this node")
	listenAddr    = flag.String("listen-addr", "127.0.0.1:8080", "Address to listen for Raft communication")
	advertiseAddr = flag.String("advertise-addr", "", "Raft address peers should dial (defaults to listen-addr)")
	grpcAddr      = flag.String("grpc-addr", "127.0.0.1:9090", "Address to listen for the BackendService gRPC API")
	dataDir       = flag.String("data-dir", "./data", "Directory to store Raft logs and snapshots")
	bootstrap     = flag.Bool("bootstrap", false, "Bootstrap a new cluster (first node)")
	joinAddr      = flag.String("join", "", "gRPC address of the cluster leader to join")
	logLevel      = flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

// run returns the process exit code so Store.Shutdown runs before exit.
func run() int {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "oblivkv-backend",
		Level: hclog.LevelFromString(*logLevel),
	})

	if *nodeID == "" {
		logger.Error("node-id is required")
		return 1
	}

	storeConfig := store.Config{
		NodeID:           *nodeID,
		ListenAddr:       *listenAddr,
		AdvertiseAddr:    *advertiseAddr,
		DataDir:          *dataDir,
		Bootstrap:        *bootstrap,
		HeartbeatTimeout: 1000 * time.Millisecond,
		ElectionTimeout:  1000 * time.Millisecond,
		CommitTimeout:    50 * time.Millisecond,
		Logger:           logger.Named("store"),
	}

	s, err := store.NewStore(storeConfig)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		return 1
	}
	defer s.Shutdown()

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", *grpcAddr, "error", err)
		return 1
	}

	grpcSrv := grpc.NewServer()
	apiv1.RegisterBackendServiceServer(grpcSrv, server.NewServer(s, logger.Named("server")))

	logger.Info("starting gRPC server", "addr", lis.Addr().String())
	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcSrv.Serve(lis) }()

	if *joinAddr != "" && !*bootstrap {
		if err := join(*joinAddr, *nodeID, s.Addr(), logger); err != nil {
			logger.Error("failed to join cluster", "leader", *joinAddr, "error", err)
			return 1
		}
	}

	if err := s.WaitForLeader(30 * time.Second); err != nil {
		logger.Warn("no leader yet", "error", err)
	} else if s.IsLeader() {
		logger.Info("became leader")
	}

	logger.Info("node ready", "node", *nodeID, "raft", s.Addr(), "grpc", lis.Addr().String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		logger.Error("failed to serve gRPC", "error", err)
		return 1
	case <-sigChan:
	}

	logger.Info("shutting down")
	grpcSrv.GracefulStop()
	return 0
}

// join asks the leader to add this node, retrying while the leader starts.
func join(leader, id, raftAddr string, logger hclog.Logger) error {
	conn, err := grpc.NewClient(leader, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %w", err)
	}
	defer conn.Close()
	client := apiv1.NewBackendServiceClient(conn)

	var lastErr error
	for attempt := 1; attempt <= 10; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, lastErr = client.Join(ctx, &apiv1.JoinRequest{NodeId: id, RaftAddress: raftAddr})
		cancel()
		if lastErr == nil {
			logger.Info("joined cluster", "leader", leader)
			return nil
		}
		logger.Warn("join attempt failed", "attempt", attempt, "error", lastErr)
		time.Sleep(time.Second)
	}
	return lastErr
}
