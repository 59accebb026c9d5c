package backend

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	apiv1 "github.com/mundrapranay/oblivkv/api/v1"
)

// exercise runs the contract every adapter must satisfy.
func exercise(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, b.Put(ctx, "a1", []byte("one")))
	v, err := b.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, b.Put(ctx, "a1", []byte("two")))
	v, err = b.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := string(rune('a'+i)) + "-c"
			assert.NoError(t, b.Put(ctx, addr, []byte{byte(i)}))
			got, err := b.Get(ctx, addr)
			assert.NoError(t, err)
			assert.Equal(t, []byte{byte(i)}, got)
		}(i)
	}
	wg.Wait()
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exercise(t, m)
	assert.Equal(t, 17, m.Len())
	assert.Equal(t, int64(18), m.Puts())
	assert.Equal(t, int64(19), m.Gets())
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, m.Put(ctx, "x", buf))
	buf[0] = 'z'

	v, err := m.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Get(ctx, "x")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(m.Put(ctx, "x", nil), context.Canceled))
	assert.Equal(t, 0, m.Len())
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend")
	l, err := NewLevelDB(path)
	require.NoError(t, err)
	exercise(t, l)
	require.NoError(t, l.Close())

	// data survives reopening
	l, err = NewLevelDB(path)
	require.NoError(t, err)
	defer l.Close()
	v, err := l.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("OBLIVKV_REDIS_ADDR")
	if addr == "" {
		t.Skip("OBLIVKV_REDIS_ADDR not set")
	}
	r := NewRedis(addr, os.Getenv("OBLIVKV_REDIS_PASSWORD"), 0)
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))
	exercise(t, r)
}

// mapServer is a minimal BackendService used to test the gRPC adapter
// without a raft cluster.
type mapServer struct {
	apiv1.UnimplementedBackendServiceServer
	mem *Memory
}

func (s *mapServer) Get(ctx context.Context, req *apiv1.GetRequest) (*apiv1.GetResponse, error) {
	v, err := s.mem.Get(ctx, req.Address)
	if errors.Is(err, ErrNotFound) {
		return &apiv1.GetResponse{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &apiv1.GetResponse{Value: v, Found: true}, nil
}

func (s *mapServer) Put(ctx context.Context, req *apiv1.PutRequest) (*apiv1.PutResponse, error) {
	return &apiv1.PutResponse{}, s.mem.Put(ctx, req.Address, req.Value)
}

func TestGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	apiv1.RegisterBackendServiceServer(srv, &mapServer{mem: NewMemory()})
	go srv.Serve(lis)
	defer srv.Stop()

	g, err := NewGRPC(lis.Addr().String())
	require.NoError(t, err)
	defer g.Close()

	exercise(t, g)

	// Join is not implemented by mapServer
	_, err = g.client.Join(context.Background(), &apiv1.JoinRequest{NodeId: "n"})
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	b, err := Open(Options{Kind: KindMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(Options{Kind: KindLevelDB, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LevelDB{}, b)
	require.NoError(t, b.Close())

	b, err = Open(Options{Kind: KindRedis, Address: "127.0.0.1:6379"})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, b)
	require.NoError(t, b.Close())

	b, err = Open(Options{Kind: KindGRPC, Address: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.IsType(t, &GRPC{}, b)
	require.NoError(t, b.Close())

	for _, opts := range []Options{
		{Kind: "etcd"},
		{Kind: KindGRPC},
		{Kind: KindRedis},
		{Kind: KindLevelDB},
	} {
		_, err := Open(opts)
		assert.Error(t, err, "kind %q", opts.Kind)
	}
}
