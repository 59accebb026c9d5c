package backend

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	apiv1 "github.com/mundrapranay/oblivkv/api/v1"
)

// GRPC talks to an oblivkv-backend node. Reads may go to any node; writes
// must reach the raft leader.
type GRPC struct {
	conn   *grpc.ClientConn
	client apiv1.BackendServiceClient
}

func NewGRPC(target string) (*GRPC, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &GRPC{
		conn:   conn,
		client: apiv1.NewBackendServiceClient(conn),
	}, nil
}

func (g *GRPC) Get(ctx context.Context, address string) ([]byte, error) {
	resp, err := g.client.Get(ctx, &apiv1.GetRequest{Address: address})
	if err != nil {
		return nil, fmt.Errorf("backend get: %w", err)
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	return resp.Value, nil
}

func (g *GRPC) Put(ctx context.Context, address string, value []byte) error {
	if _, err := g.client.Put(ctx, &apiv1.PutRequest{Address: address, Value: value}); err != nil {
		return fmt.Errorf("backend put: %w", err)
	}
	return nil
}

func (g *GRPC) Close() error {
	return g.conn.Close()
}
