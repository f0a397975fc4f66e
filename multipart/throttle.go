package multipart

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Throttle bounds the number of part uploads in flight.
type Throttle struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewThrottle creates a Throttle with the given capacity (at least 1).
func NewThrottle(capacity int) *Throttle {
	if capacity < 1 {
		capacity = 1
	}
	return &Throttle{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// ThrottleCapacity sizes a Throttle for one upload. Sources that cannot be read
// concurrently get a single permit; a known part count caps the capacity so no
// permit sits idle.
func ThrottleCapacity(maxConcurrent int, concurrentReads bool, partCount int) int {
	c := maxConcurrent
	if !concurrentReads {
		c = 1
	}
	if partCount > 0 && c > partCount {
		c = partCount
	}
	if c < 1 {
		c = 1
	}
	return c
}

// Acquire blocks until a permit is available or ctx is done.
func (t *Throttle) Acquire(ctx context.Context) error {
	return t.sem.Acquire(ctx, 1)
}

// Release returns a permit.
func (t *Throttle) Release() {
	t.sem.Release(1)
}

// Capacity ...
func (t *Throttle) Capacity() int {
	return t.capacity
}
