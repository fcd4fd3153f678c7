package capture

import (
	"strings"
	"sync"
)

// DefaultCapacity is the number of fragments a buffer retains.
const DefaultCapacity = 50

// Buffer is a bounded FIFO of rendered fragments. Appending to a full
// buffer evicts the oldest fragment.
type Buffer struct {
	mu    sync.RWMutex
	items []string
	head  int // oldest fragment
	size  int
}

// NewBuffer returns a buffer holding at most capacity fragments.
// Non-positive capacities fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]string, capacity)}
}

func (b *Buffer) Append(fragment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.items)
	if b.size < n {
		b.items[(b.head+b.size)%n] = fragment
		b.size++
		return
	}
	b.items[b.head] = fragment
	b.head = (b.head + 1) % n
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int { return len(b.items) }

// Fragments returns a copy of the retained fragments, oldest first.
func (b *Buffer) Fragments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// String concatenates the retained fragments, oldest first.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for i := 0; i < b.size; i++ {
		sb.WriteString(b.items[(b.head+i)%len(b.items)])
	}
	return sb.String()
}
