package forward

import (
	"sync"

	audit "mkcompany/pkg/platform/audit"
)

const defaultCapacity = 10000

// Buffer is a bounded FIFO of admin actions waiting to be forwarded. When
// full, the oldest entry is dropped; the database copy remains authoritative.
type Buffer struct {
	mu       sync.Mutex
	items    []audit.AdminAction
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
	dropped  int64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{
		items:    make([]audit.AdminAction, capacity),
		capacity: capacity,
	}
}

// Push adds action and reports whether an older entry was dropped to make room.
func (b *Buffer) Push(action audit.AdminAction) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.items[b.tail] = audit.AdminAction{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}
	b.items[b.head] = action
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// PopBatch removes up to n entries, oldest first.
func (b *Buffer) PopBatch(n int) []audit.AdminAction {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	n = min(n, b.count)
	out := make([]audit.AdminAction, n)
	for i := range n {
		out[i] = b.items[b.tail]
		b.items[b.tail] = audit.AdminAction{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns how many entries were discarded because the buffer was full.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
