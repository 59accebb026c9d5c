package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apiv1 "github.com/mundrapranay/oblivkv/api/v1"
)

// This helper adds peers to, or removes them from, a backend cluster through
// the leader's gRPC API.
//
// Usage: cluster-peer-helper <leader-grpc-addr> <peer-id>:<raft-addr> [...]
//        cluster-peer-helper -remove <leader-grpc-addr> <peer-id> [...]
func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	remove := len(args) > 0 && args[0] == "-remove"
	if remove {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-remove] <leader-grpc-addr> <peer-id>[:<raft-addr>] [...]\n", os.Args[0])
		return 1
	}

	conn, err := grpc.NewClient(args[0], grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to leader: %v\n", err)
		return 1
	}
	defer conn.Close()
	client := apiv1.NewBackendServiceClient(conn)

	failed := 0
	for _, spec := range args[1:] {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if remove {
			err = removePeer(ctx, client, spec)
		} else {
			err = addPeer(ctx, client, spec)
		}
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			failed++
		}
	}

	if failed > 0 {
		return 1
	}
	fmt.Println("Membership change complete")
	return 0
}

func addPeer(ctx context.Context, client apiv1.BackendServiceClient, spec string) error {
	// peer-id:host:port, split on the first colon
	id, addr, ok := strings.Cut(spec, ":")
	if !ok || id == "" || addr == "" {
		return fmt.Errorf("invalid peer spec %q (expected peer-id:raft-addr)", spec)
	}

	fmt.Printf("Adding peer %s at %s...\n", id, addr)
	if _, err := client.Join(ctx, &apiv1.JoinRequest{NodeId: id, RaftAddress: addr}); err != nil {
		return fmt.Errorf("failed to add peer %s: %w", id, err)
	}
	fmt.Printf("Added peer %s\n", id)
	return nil
}

func removePeer(ctx context.Context, client apiv1.BackendServiceClient, id string) error {
	fmt.Printf("Removing peer %s...\n", id)
	if _, err := client.Leave(ctx, &apiv1.LeaveRequest{NodeId: id}); err != nil {
		return fmt.Errorf("failed to remove peer %s: %w", id, err)
	}
	fmt.Printf("Removed peer %s\n", id)
	return nil
}
