// Package schedule keeps the bookkeeping the round scheduler uses to pick
// batch members: the round each key was last scheduled in, and one
// min-round queue per key class.
package schedule

import "strings"

// DummyPrefix marks camouflage keys. Client keys must not carry it.
const DummyPrefix = "dummy_"

// Class partitions the key namespace.
type Class uint8

const (
	ClassReal Class = iota
	ClassDummy
)

func (c Class) String() string {
	if c == ClassDummy {
		return "dummy"
	}
	return "real"
}

// ClassOf derives a key's class from its prefix.
func ClassOf(key string) Class {
	if strings.HasPrefix(key, DummyPrefix) {
		return ClassDummy
	}
	return ClassReal
}

// Index maps every known key to the round it was last scheduled in.
// Records are never deleted.
type Index struct {
	rounds map[string]uint64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{rounds: make(map[string]uint64)}
}

// Touch records round as key's last-scheduled round.
func (x *Index) Touch(key string, round uint64) {
	x.rounds[key] = round
}

// LastRound returns key's last-scheduled round, 0 for unknown keys.
func (x *Index) LastRound(key string) uint64 {
	return x.rounds[key]
}

// Known reports whether key has a record.
func (x *Index) Known(key string) bool {
	_, ok := x.rounds[key]
	return ok
}

// Len returns the number of records.
func (x *Index) Len() int {
	return len(x.rounds)
}
