package schedule

import "github.com/tidwall/btree"

type item struct {
	round uint64
	seq   uint64
	key   string
}

func lessItem(a, b item) bool {
	if a.round != b.round {
		return a.round < b.round
	}
	return a.seq < b.seq
}

// Queue orders keys by the round they were last scheduled in, oldest first.
// A key occupies at most one slot. Ties are broken by insertion order.
type Queue struct {
	tree  *btree.BTreeG[item]
	items map[string]item
	seq   uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tree:  btree.NewBTreeGOptions(lessItem, btree.Options{NoLocks: true}),
		items: make(map[string]item),
	}
}

// Insert adds key at round. It returns false, leaving the queue unchanged,
// when key is already present.
func (q *Queue) Insert(round uint64, key string) bool {
	if _, ok := q.items[key]; ok {
		return false
	}
	q.seq++
	it := item{round: round, seq: q.seq, key: key}
	q.items[key] = it
	q.tree.Set(it)
	return true
}

// Reschedule moves key to round, inserting it if absent.
func (q *Queue) Reschedule(round uint64, key string) {
	q.Remove(key)
	q.Insert(round, key)
}

// Remove drops key from the queue.
func (q *Queue) Remove(key string) bool {
	it, ok := q.items[key]
	if !ok {
		return false
	}
	delete(q.items, key)
	q.tree.Delete(it)
	return true
}

// PopMin removes and returns the least recently scheduled key.
func (q *Queue) PopMin() (string, bool) {
	it, ok := q.tree.PopMin()
	if !ok {
		return "", false
	}
	delete(q.items, it.key)
	return it.key, true
}

// PeekMin returns the least recently scheduled key and its round without
// removing it.
func (q *Queue) PeekMin() (string, uint64, bool) {
	it, ok := q.tree.Min()
	if !ok {
		return "", 0, false
	}
	return it.key, it.round, true
}

// Contains reports whether key is queued.
func (q *Queue) Contains(key string) bool {
	_, ok := q.items[key]
	return ok
}

// Len returns the number of queued keys.
func (q *Queue) Len() int {
	return len(q.items)
}

// DualQueue keeps real and dummy keys in separate queues.
type DualQueue struct {
	Real  *Queue
	Dummy *Queue
}

// NewDualQueue creates two empty queues.
func NewDualQueue() *DualQueue {
	return &DualQueue{Real: NewQueue(), Dummy: NewQueue()}
}

// Len returns the number of keys across both queues.
func (d *DualQueue) Len() int {
	return d.Real.Len() + d.Dummy.Len()
}
