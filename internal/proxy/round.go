package proxy

import (
	"context"
	"fmt"

	"github.com/mundrapranay/oblivkv/internal/cache"
	"github.com/mundrapranay/oblivkv/internal/schedule"
)

type slotKind int

const (
	slotMiss slotKind = iota
	slotDummy
	slotPadding
)

// slot is one backend read of the batch.
type slot struct {
	kind    slotKind
	key     string
	address string
}

type pendingEntry struct {
	requestID     string
	seq           int
	needsResponse bool
}

type response struct {
	seq   int
	value []byte
}

// write is one backend write of the round, keyed by address.
type writeOp struct {
	key         string
	value       []byte
	placeholder bool
}

// roundState is the scratch state of a single round.
type roundState struct {
	s     *Scheduler
	round uint64
	stats RoundStats

	responses map[string]response

	pending   map[string][]pendingEntry
	missOrder []string

	// origins holds the pre-round location round of every real key touched
	// this round.
	origins map[string]uint64

	// evicted is the write-back buffer: entries evicted from the cache this
	// round, oldest first. buffered holds the live value per key; keys
	// removed from it are skipped when the buffer drains.
	evicted  []string
	buffered map[string][]byte
	// writtenBack records keys whose value was already written this round.
	writtenBack map[string]bool

	slots    []slot
	assigned map[string]bool

	writes     map[string]writeOp
	writeOrder []string
}

func newRoundState(s *Scheduler, round uint64) *roundState {
	return &roundState{
		s:           s,
		round:       round,
		responses:   make(map[string]response),
		pending:     make(map[string][]pendingEntry),
		origins:     make(map[string]uint64),
		buffered:    make(map[string][]byte),
		writtenBack: make(map[string]bool),
		assigned:    make(map[string]bool),
		writes:      make(map[string]writeOp),
	}
}

func (rs *roundState) run(ctx context.Context, ops []Operation) {
	rs.admit(ops)
	rs.buildBatch()
	fetched := rs.s.fetch(ctx, rs.slots)
	rs.apply(fetched)
	rs.stats.Writes, rs.stats.WriteFailures = rs.s.store(ctx, rs.round, rs.writeOrder, rs.writes)

	rs.s.logger.Debug("round complete",
		"round", rs.round,
		"ops", rs.stats.Operations,
		"hits", rs.stats.CacheHits,
		"misses", rs.stats.Misses,
		"batch", rs.stats.BatchSize,
		"dummies", rs.stats.Dummies,
		"padding", rs.stats.Padding,
		"writes", rs.stats.Writes)
}

func (rs *roundState) responseMap() map[string][]byte {
	out := make(map[string][]byte, len(rs.responses))
	for rid, r := range rs.responses {
		out[rid] = r.value
	}
	return out
}

// answer records a response. A later operation with the same request id
// wins regardless of when its value became available.
func (rs *roundState) answer(rid string, seq int, value []byte) {
	if cur, ok := rs.responses[rid]; ok && cur.seq > seq {
		return
	}
	rs.responses[rid] = response{seq: seq, value: value}
}

// touch schedules a real key into the current round, remembering where its
// value lived before.
func (rs *roundState) touch(key string) {
	if _, ok := rs.origins[key]; !ok {
		rs.origins[key] = rs.s.index.LastRound(key)
	}
	rs.s.index.Touch(key, rs.round)
	rs.s.queues.Real.Reschedule(rs.round, key)
}

// restore moves a key back to its pre-round location after its value could
// not be carried into this round.
func (rs *roundState) restore(key string) {
	origin, ok := rs.origins[key]
	if !ok {
		return
	}
	rs.s.index.Touch(key, origin)
	rs.s.queues.Real.Reschedule(origin, key)
}

// local reports whether the proxy holds the freshest value of key, so the
// backend copy at its previous location is stale or irrelevant.
func (rs *roundState) local(key string) bool {
	if rs.s.cache.Has(key) || rs.writtenBack[key] {
		return true
	}
	_, ok := rs.buffered[key]
	return ok
}

func (rs *roundState) addPending(key string, e pendingEntry) {
	if _, ok := rs.pending[key]; !ok {
		rs.missOrder = append(rs.missOrder, key)
	}
	rs.pending[key] = append(rs.pending[key], e)
}

func (rs *roundState) bufferEviction(e cache.Entry) {
	rs.stats.Evictions++
	if _, ok := rs.buffered[e.Key]; !ok {
		rs.evicted = append(rs.evicted, e.Key)
	}
	rs.buffered[e.Key] = e.Value
}

// admit resolves client operations against the cache and collects misses.
func (rs *roundState) admit(ops []Operation) {
	c := rs.s.cache
	for seq, op := range ops {
		if op.Key == "" || schedule.ClassOf(op.Key) == schedule.ClassDummy {
			rs.stats.Skipped++
			continue
		}

		switch op.Kind {
		case OpRead:
			if v, ok := c.Get(op.Key); ok {
				rs.stats.CacheHits++
				rs.answer(op.RequestID, seq, v)
			} else if v, ok := rs.buffered[op.Key]; ok {
				rs.stats.CacheHits++
				rs.answer(op.RequestID, seq, v)
			} else {
				rs.addPending(op.Key, pendingEntry{requestID: op.RequestID, seq: seq, needsResponse: true})
			}

		case OpWrite:
			if op.Value == nil {
				rs.stats.Skipped++
				continue
			}
			if !c.Has(op.Key) {
				rs.addPending(op.Key, pendingEntry{requestID: op.RequestID, seq: seq})
			}
			// the cache now holds the newest value
			delete(rs.buffered, op.Key)
			value := append([]byte(nil), op.Value...)
			if e, ok := c.Put(op.Key, value); ok {
				rs.bufferEviction(e)
			}

		default:
			rs.stats.Skipped++
			continue
		}

		rs.stats.Operations++
		rs.touch(op.Key)
	}
	rs.stats.Misses = len(rs.missOrder)
}

func (rs *roundState) addSlot(kind slotKind, key, address string) bool {
	if rs.assigned[address] {
		return false
	}
	rs.assigned[address] = true
	rs.slots = append(rs.slots, slot{kind: kind, key: key, address: address})
	return true
}

// buildBatch assembles the round's reads: misses, then dummies, then
// padding with the stalest real keys, then more dummies if still short.
func (rs *roundState) buildBatch() {
	cfg := rs.s.cfg
	budget := cfg.missBudget()

	for _, key := range rs.missOrder {
		if len(rs.slots) >= budget {
			// not fetched this round; reads stay unanswered
			rs.stats.Overflow++
			if !rs.local(key) {
				rs.restore(key)
			}
			continue
		}
		rs.addSlot(slotMiss, key, rs.s.addresser.Address(key, rs.origins[key]))
	}

	dummyTarget := len(rs.slots) + cfg.DummyFillCount
	for len(rs.slots) < dummyTarget && rs.addDummy() {
	}

	for len(rs.slots) < cfg.BatchSize && rs.addPadding() {
	}

	for len(rs.slots) < cfg.BatchSize && rs.addDummy() {
	}

	rs.stats.BatchSize = len(rs.slots)
	if len(rs.slots) < cfg.BatchSize {
		rs.stats.Degraded = true
		rs.s.logger.Warn("batch under-filled", "round", rs.round, "size", len(rs.slots), "target", cfg.BatchSize)
	}
}

// addDummy schedules the stalest dummy key. It reports false once the dummy
// queue is empty or every dummy is already in this round.
func (rs *roundState) addDummy() bool {
	q := rs.s.queues.Dummy
	_, last, ok := q.PeekMin()
	if !ok || last == rs.round {
		return false
	}
	key, _ := q.PopMin()
	address := rs.s.addresser.Address(key, last)
	rs.s.index.Touch(key, rs.round)
	q.Insert(rs.round, key)

	if rs.addSlot(slotDummy, key, address) {
		rs.stats.Dummies++
	}
	return true
}

// addPadding refreshes the stalest real key. Keys held locally are touched
// and re-queued without taking a slot. It reports false once the real queue
// is empty or cycles into keys already scheduled this round.
func (rs *roundState) addPadding() bool {
	q := rs.s.queues.Real
	_, last, ok := q.PeekMin()
	if !ok || last == rs.round {
		return false
	}
	key, _ := q.PopMin()
	local := rs.local(key)
	rs.touch(key)

	if !local && rs.addSlot(slotPadding, key, rs.s.addresser.Address(key, last)) {
		rs.stats.Padding++
	}
	return true
}

// apply routes fetched values in batch order and assembles the write-back
// batch with one write per slot.
func (rs *roundState) apply(fetched []fetchResult) {
	c := rs.s.cache
	for i, sl := range rs.slots {
		f := fetched[i]
		if f.failed {
			rs.stats.ReadFailures++
		}

		switch sl.kind {
		case slotMiss:
			if f.found {
				for _, p := range rs.pending[sl.key] {
					if p.needsResponse {
						rs.answer(p.requestID, p.seq, f.value)
					}
				}
			}
			if !rs.local(sl.key) {
				if f.failed {
					rs.restore(sl.key)
				} else if f.found {
					// evict only to make room; a cache with space keeps
					// its working set
					if c.Full() {
						if e, ok := c.EvictOne(); ok {
							rs.bufferEviction(e)
						}
					}
					c.Put(sl.key, f.value)
				}
			}
			rs.fillSlot(sl.key)

		case slotDummy:
			rs.placeholder(sl.key, rs.s.addresser.Address(sl.key, rs.round))

		case slotPadding:
			switch {
			case f.found && !rs.local(sl.key):
				rs.writeBack(sl.key, f.value)
			case f.failed:
				rs.restore(sl.key)
				rs.fillSlot(sl.key)
			default:
				rs.fillSlot(sl.key)
			}
		}
	}

	tail := 0
	for {
		key, value, ok := rs.nextEviction()
		if !ok {
			break
		}
		rs.writeBack(key, value)
		tail++
	}

	// a slot whose write landed on an address already written this round
	// still owes one write
	rs.padWrites(len(rs.slots) + tail)
}

// padWrites adds placeholder writes at fresh addresses until the write
// batch holds target writes.
func (rs *roundState) padWrites(target int) {
	for n := 0; len(rs.writeOrder) < target; n++ {
		key := rs.spareDummy(n)
		rs.placeholder(key, rs.s.addresser.Address(key, rs.round))
		rs.stats.FillerWrites++
	}
}

// spareDummy moves the stalest dummy not yet used this round to the current
// round. Once every dummy is used it returns a filler key that is never read.
func (rs *roundState) spareDummy(n int) string {
	q := rs.s.queues.Dummy
	if _, last, ok := q.PeekMin(); ok && last != rs.round {
		key, _ := q.PopMin()
		rs.s.index.Touch(key, rs.round)
		q.Insert(rs.round, key)
		return key
	}
	return fmt.Sprintf("%sfill_%d", schedule.DummyPrefix, n)
}

// fillSlot spends a slot's write on the oldest buffered eviction, or on a
// placeholder at the slot key's new address.
func (rs *roundState) fillSlot(key string) {
	if ek, ev, ok := rs.nextEviction(); ok {
		rs.writeBack(ek, ev)
		return
	}
	rs.placeholder(key, rs.s.addresser.Address(key, rs.round))
}

func (rs *roundState) nextEviction() (string, []byte, bool) {
	for len(rs.evicted) > 0 {
		key := rs.evicted[0]
		rs.evicted = rs.evicted[1:]
		if v, ok := rs.buffered[key]; ok {
			delete(rs.buffered, key)
			return key, v, true
		}
	}
	return "", nil, false
}

// writeBack moves key's value to its current-round address.
func (rs *roundState) writeBack(key string, value []byte) {
	address := rs.s.addresser.Address(key, rs.round)
	if _, ok := rs.writes[address]; !ok {
		rs.writeOrder = append(rs.writeOrder, address)
	}
	rs.writes[address] = writeOp{key: key, value: value}
	rs.writtenBack[key] = true
	rs.touch(key)
}

// placeholder never replaces real data at the same address.
func (rs *roundState) placeholder(key, address string) {
	if _, ok := rs.writes[address]; ok {
		return
	}
	rs.writeOrder = append(rs.writeOrder, address)
	rs.writes[address] = writeOp{key: key, placeholder: true}
}
