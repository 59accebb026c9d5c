package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const defaultTimeout = 30 * time.Second

// Op is one operation in a batch. Val is only sent for writes.
type Op struct {
	RID string  `json:"rid"`
	Op  string  `json:"op"`
	Key string  `json:"key"`
	Val *string `json:"val,omitempty"`
}

// Read builds a read operation.
func Read(rid, key string) Op {
	return Op{RID: rid, Op: "read", Key: key}
}

// Write builds a write operation.
func Write(rid, key string, value []byte) Op {
	v := string(value)
	return Op{RID: rid, Op: "write", Key: key, Val: &v}
}

// Stats mirrors the proxy's health report.
type Stats struct {
	Round          uint64 `json:"round"`
	Rounds         uint64 `json:"rounds"`
	DegradedRounds uint64 `json:"degraded_rounds"`
	CacheHits      uint64 `json:"cache_hits"`
	ReadFailures   uint64 `json:"read_failures"`
	WriteFailures  uint64 `json:"write_failures"`
	Panics         uint64 `json:"panics"`
}

// StatusError is returned when the proxy rejects a request.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("proxy returned %d: %s", e.Code, e.Message)
}

// Client talks to an oblivkv proxy over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	nextRID atomic.Uint64
}

// NewClient creates a client for the proxy at serverAddr, either host:port
// or a full http URL.
func NewClient(serverAddr string) (*Client, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	base := serverAddr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Batch sends ops as one round and returns the values the proxy answered,
// keyed by request id.
func (c *Client) Batch(ctx context.Context, ops []Op) (map[string]string, error) {
	if ops == nil {
		ops = []Op{}
	}
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out map[string]string
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("failed to send batch: %w", err)
	}
	return out, nil
}

// Get reads a single key. The bool is false when the key has no value.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rid := c.rid()
	out, err := c.Batch(ctx, []Op{Read(rid, key)})
	if err != nil {
		return nil, false, err
	}
	v, ok := out[rid]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Put writes a single key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.Batch(ctx, []Op{Write(c.rid(), key, value)})
	return err
}

// Health fetches the proxy's cumulative counters.
func (c *Client) Health(ctx context.Context) (Stats, error) {
	var stats Stats
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to build request: %w", err)
	}
	if err := c.do(req, &stats); err != nil {
		return stats, fmt.Errorf("failed to fetch health: %w", err)
	}
	return stats, nil
}

func (c *Client) rid() string {
	return strconv.FormatUint(c.nextRID.Add(1), 10)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(msg, &body) == nil && body.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: body.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
