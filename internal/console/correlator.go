package console

import (
	"fmt"
	"sync"
)

// Correlator matches responses to requests by a monotonically increasing id.
// Every registered id leaves the pending table exactly once, through Resolve
// or Abandon.
type Correlator[T any] struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]chan T
}

// NewCorrelator creates a correlator whose first id is 1
func NewCorrelator[T any]() *Correlator[T] {
	return &Correlator[T]{
		nextID:  1,
		pending: make(map[int]chan T),
	}
}

// Register allocates the next id and returns the channel its response is delivered on
func (c *Correlator[T]) Register() (int, <-chan T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	if _, exists := c.pending[id]; exists {
		return 0, nil, fmt.Errorf("%w: %d", ErrDuplicateCommandID, id)
	}
	c.nextID++

	ch := make(chan T, 1)
	c.pending[id] = ch
	return id, ch, nil
}

// Resolve delivers v to the waiter of id and removes it.
// It returns false when id is not pending.
func (c *Correlator[T]) Resolve(id int, v T) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- v
	return true
}

// Abandon removes id without delivering anything
func (c *Correlator[T]) Abandon(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// AbandonAll removes every pending id and returns how many there were.
// Waiters are not signalled.
func (c *Correlator[T]) AbandonAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	c.pending = make(map[int]chan T)
	return n
}

// Pending returns the number of unresolved ids
func (c *Correlator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
