// Package proxy implements the round scheduler of the oblivious access proxy.
//
// Every client batch is one round. A round answers what it can from the local
// cache, then issues exactly BatchSize backend reads made of the round's
// deduplicated misses, dummy reads and refreshes of the least recently
// scheduled real keys, and writes every slot back under a freshly rotated
// address. A key's value lives at Address(key, LastRound(key)); a round reads
// scheduled keys at their previous location and writes them to the current
// round's location.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/mundrapranay/oblivkv/internal/backend"
	"github.com/mundrapranay/oblivkv/internal/cache"
	"github.com/mundrapranay/oblivkv/internal/crypto"
	"github.com/mundrapranay/oblivkv/internal/schedule"
)

// OpKind is the kind of a client operation.
type OpKind string

const (
	OpRead  OpKind = "read"
	OpWrite OpKind = "write"
)

// Operation is one client request inside a batch.
type Operation struct {
	RequestID string
	Kind      OpKind
	Key       string
	// Value is required for writes. A nil value makes a write malformed.
	Value []byte
}

// RoundStats describes one processed round.
type RoundStats struct {
	Operations int
	Skipped    int
	CacheHits  int
	Misses     int
	// Overflow counts missed keys that did not fit in the batch.
	Overflow int

	BatchSize int
	Dummies   int
	Padding   int
	Degraded  bool

	ReadFailures  int
	Evictions     int
	Writes        int
	WriteFailures int
	// FillerWrites counts placeholders added so the write batch keeps one
	// write per read slot.
	FillerWrites int
}

// Result is the outcome of one round.
type Result struct {
	Round     uint64
	Responses map[string][]byte
	Stats     RoundStats
}

// Stats are cumulative counters since startup.
type Stats struct {
	Round          uint64 `json:"round"`
	Rounds         uint64 `json:"rounds"`
	DegradedRounds uint64 `json:"degraded_rounds"`
	CacheHits      uint64 `json:"cache_hits"`
	ReadFailures   uint64 `json:"read_failures"`
	WriteFailures  uint64 `json:"write_failures"`
	Panics         uint64 `json:"panics"`
}

// Scheduler owns the cache, timestamp index and priority queues. Rounds are
// serialized, so the owned structures carry no locking of their own.
type Scheduler struct {
	cfg     Config
	backend backend.Backend
	logger  hclog.Logger

	addresser *crypto.Addresser
	sealer    *crypto.Sealer

	mu     sync.Mutex
	cache  *cache.Cache
	index  *schedule.Index
	queues *schedule.DualQueue
	round  uint64

	rounds         atomic.Uint64
	lastRound      atomic.Uint64
	degradedRounds atomic.Uint64
	cacheHits      atomic.Uint64
	readFailures   atomic.Uint64
	writeFailures  atomic.Uint64
	panics         atomic.Uint64
}

// NewScheduler validates cfg, derives the key material and generates the
// dummy pool.
func NewScheduler(cfg Config, b backend.Backend, logger hclog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	keys, err := crypto.DeriveKeys(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}
	sealer, err := crypto.NewSealer(keys.Seal, cfg.ValuePadSize)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cfg.CacheCapacity)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:       cfg,
		backend:   b,
		logger:    logger,
		addresser: crypto.NewAddresser(keys.Address),
		sealer:    sealer,
		cache:     c,
		index:     schedule.NewIndex(),
		queues:    schedule.NewDualQueue(),
	}
	for i := 0; i < cfg.DummyPoolSize; i++ {
		s.queues.Dummy.Insert(0, fmt.Sprintf("%s%d", schedule.DummyPrefix, i))
	}
	return s, nil
}

// Process runs one round over ops. It never fails: malformed operations are
// skipped and backend failures leave the affected requests unanswered. The
// round is detached from ctx cancellation and bounded by the configured
// timeouts instead.
func (s *Scheduler) Process(ctx context.Context, ops []Operation) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.round++
	rs := newRoundState(s, s.round)

	func() {
		defer func() {
			if p := recover(); p != nil {
				s.panics.Add(1)
				s.logger.Error("round panicked, returning partial responses", "round", rs.round, "panic", p)
			}
		}()
		rs.run(context.WithoutCancel(ctx), ops)
	}()

	s.lastRound.Store(rs.round)
	s.rounds.Add(1)
	s.cacheHits.Add(uint64(rs.stats.CacheHits))
	s.readFailures.Add(uint64(rs.stats.ReadFailures))
	s.writeFailures.Add(uint64(rs.stats.WriteFailures))
	if rs.stats.Degraded {
		s.degradedRounds.Add(1)
	}

	return Result{
		Round:     rs.round,
		Responses: rs.responseMap(),
		Stats:     rs.stats,
	}
}

// Stats returns cumulative counters without waiting for a running round.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Round:          s.lastRound.Load(),
		Rounds:         s.rounds.Load(),
		DegradedRounds: s.degradedRounds.Load(),
		CacheHits:      s.cacheHits.Load(),
		ReadFailures:   s.readFailures.Load(),
		WriteFailures:  s.writeFailures.Load(),
		Panics:         s.panics.Load(),
	}
}

// Address returns the backend address of key in round.
func (s *Scheduler) Address(key string, round uint64) string {
	return s.addresser.Address(key, round)
}
