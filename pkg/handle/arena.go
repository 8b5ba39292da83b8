// Package handle owns node state behind opaque integer handles.
//
// Handles encode a slot index and a generation. A destroyed handle becomes a
// tombstone: its node stays allocated until every in-flight call on it has
// returned, and the slot is reused only under a new generation. Stale or
// destroyed handles therefore fail with ErrNullHandle instead of touching
// freed state.
package handle

import (
	"fmt"
	"sync"

	"github.com/williw/nodecore/pkg/clock"
)

// Handle is an opaque node reference. The zero Handle is never valid.
type Handle uint64

// Null is the invalid handle.
const Null Handle = 0

func makeHandle(index uint32, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) split() (index uint32, gen uint32, ok bool) {
	low := uint32(h)
	if low == 0 {
		return 0, 0, false
	}
	return low - 1, uint32(h >> 32), true
}

func (h Handle) String() string {
	index, gen, ok := h.split()
	if !ok {
		return "null"
	}
	return fmt.Sprintf("%d@%d", index, gen)
}

type slot struct {
	gen      uint32
	node     *Node
	dead     bool
	inflight int
}

// Arena maps handles to nodes. It is safe for concurrent use across
// handles; a single node is not serialized internally.
type Arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	live  int
	clock clock.Clock
	// onRelease is called after a node has been released.
	onRelease func(*Node)
}

// Option configures an Arena.
type Option func(*Arena)

// WithClock sets the clock used to stamp node creation.
func WithClock(c clock.Clock) Option {
	return func(a *Arena) { a.clock = c }
}

// WithReleaseHook registers fn to run after a destroyed node is released.
func WithReleaseHook(fn func(*Node)) Option {
	return func(a *Arena) { a.onRelease = fn }
}

// NewArena creates an empty arena.
func NewArena(opts ...Option) *Arena {
	a := &Arena{clock: clock.Real()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Create allocates a node with default capabilities and returns its handle.
func (a *Arena) Create() (Handle, *Node) {
	node := newNode(a.clock.Now())

	a.mu.Lock()
	defer a.mu.Unlock()

	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot{gen: 1})
	}

	s := &a.slots[index]
	s.node = node
	s.dead = false
	s.inflight = 0
	a.live++

	h := makeHandle(index, s.gen)
	node.handle = h
	return h, node
}

// lookup returns the live slot for h. Callers hold a.mu.
func (a *Arena) lookup(h Handle) (*slot, bool) {
	index, gen, ok := h.split()
	if !ok || int(index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[index]
	if s.gen != gen || s.node == nil || s.dead {
		return nil, false
	}
	return s, true
}

// Acquire returns the node behind h and a release func that must be called
// when the caller is done with it. The node stays allocated until release
// runs, even if h is destroyed in the meantime.
func (a *Arena) Acquire(h Handle) (*Node, func(), error) {
	a.mu.Lock()
	s, ok := a.lookup(h)
	if !ok {
		a.mu.Unlock()
		return nil, func() {}, fmt.Errorf("acquire %s: %w", h, ErrNullHandle)
	}
	s.inflight++
	node := s.node
	a.mu.Unlock()

	var once sync.Once
	return node, func() { once.Do(func() { a.release(h) }) }, nil
}

func (a *Arena) release(h Handle) {
	index, _, _ := h.split()

	a.mu.Lock()
	s := &a.slots[index]
	s.inflight--
	var released *Node
	if s.dead && s.inflight == 0 {
		released = a.reclaim(index)
	}
	a.mu.Unlock()

	a.released(released)
}

// Destroy tombstones h. It reports whether h was live; destroying an
// already destroyed or unknown handle is a no-op.
func (a *Arena) Destroy(h Handle) bool {
	a.mu.Lock()
	s, ok := a.lookup(h)
	if !ok {
		a.mu.Unlock()
		return false
	}
	s.dead = true
	a.live--
	var released *Node
	if s.inflight == 0 {
		index, _, _ := h.split()
		released = a.reclaim(index)
	}
	a.mu.Unlock()

	a.released(released)
	return true
}

// reclaim frees a tombstoned slot for reuse under the next generation.
// Callers hold a.mu.
func (a *Arena) reclaim(index uint32) *Node {
	s := &a.slots[index]
	node := s.node
	s.node = nil
	s.dead = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, index)
	return node
}

func (a *Arena) released(node *Node) {
	if node == nil {
		return
	}
	node.close()
	if a.onRelease != nil {
		a.onRelease(node)
	}
}

// Live returns the number of handles that have not been destroyed.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Pending returns the number of destroyed nodes still held by in-flight calls.
func (a *Arena) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := range a.slots {
		if a.slots[i].dead {
			n++
		}
	}
	return n
}
