package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/mundrapranay/oblivkv/internal/backend"
)

// fetchResult is the outcome of one slot's read. failed means the value at
// the address is unknown; a found=false, failed=false result means nothing
// usable is stored there.
type fetchResult struct {
	value  []byte
	found  bool
	failed bool
}

type indexedFetch struct {
	i int
	fetchResult
}

// fetch reads every slot concurrently under the round timeout. Slots that
// have not answered by the deadline count as failed.
func (s *Scheduler) fetch(ctx context.Context, slots []slot) []fetchResult {
	out := make([]fetchResult, len(slots))
	for i := range out {
		out[i].failed = true
	}
	if len(slots) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RoundTimeout)
	defer cancel()

	results := make(chan indexedFetch, len(slots))
	for i, sl := range slots {
		go func(i int, address string) {
			r := indexedFetch{i: i}
			defer func() {
				if p := recover(); p != nil {
					s.logger.Error("backend get panicked", "panic", p)
					r.fetchResult = fetchResult{failed: true}
				}
				results <- r
			}()
			r.fetchResult = s.get(ctx, address)
		}(i, sl.address)
	}

	for n := 0; n < len(slots); n++ {
		select {
		case r := <-results:
			out[r.i] = r.fetchResult
		case <-ctx.Done():
			s.logger.Warn("round read deadline exceeded", "answered", n, "batch", len(slots))
			return out
		}
	}
	return out
}

func (s *Scheduler) get(ctx context.Context, address string) fetchResult {
	sealed, err := s.backend.Get(ctx, address)
	if errors.Is(err, backend.ErrNotFound) {
		return fetchResult{}
	}
	if err != nil {
		s.logger.Debug("backend get failed", "error", err)
		return fetchResult{failed: true}
	}

	value, placeholder, err := s.sealer.Open(address, sealed)
	if err != nil {
		s.logger.Warn("discarding unreadable backend value", "error", err)
		return fetchResult{}
	}
	if placeholder {
		return fetchResult{}
	}
	return fetchResult{value: value, found: true}
}

// store seals and issues the round's writes concurrently under the write
// timeout. It returns the number of writes issued and how many failed.
func (s *Scheduler) store(ctx context.Context, round uint64, order []string, writes map[string]writeOp) (int, int) {
	if len(order) == 0 {
		return 0, 0
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	errs := make(chan error, len(order))
	for _, address := range order {
		w := writes[address]
		go func(address string, w writeOp) {
			var err error
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("backend put panicked: %v", p)
				}
				errs <- err
			}()
			err = s.put(ctx, address, w)
		}(address, w)
	}

	failed := 0
	for n := 0; n < len(order); n++ {
		select {
		case err := <-errs:
			if err != nil {
				failed++
				s.logger.Warn("write-back failed", "round", round, "error", err)
			}
		case <-ctx.Done():
			failed += len(order) - n
			s.logger.Warn("round write deadline exceeded", "round", round, "unacknowledged", len(order)-n)
			return len(order), failed
		}
	}
	return len(order), failed
}

func (s *Scheduler) put(ctx context.Context, address string, w writeOp) error {
	var (
		sealed []byte
		err    error
	)
	if w.placeholder {
		sealed, err = s.sealer.SealPlaceholder(address)
	} else {
		sealed, err = s.sealer.Seal(address, w.value)
	}
	if err != nil {
		return fmt.Errorf("failed to seal value: %w", err)
	}
	return s.backend.Put(ctx, address, sealed)
}
