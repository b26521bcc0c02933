package ident

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocator_NewAllocator(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, int64(0), a.Current(), "new allocator should start at 0")
}

func TestAllocator_NewAllocatorAt(t *testing.T) {
	a := NewAllocatorAt(100)
	assert.Equal(t, int64(100), a.Current())
	assert.Equal(t, int64(101), a.Next())
}

func TestAllocator_Next_Incrementing(t *testing.T) {
	a := NewAllocator()

	assert.Equal(t, int64(1), a.Next())
	assert.Equal(t, int64(2), a.Next())
	assert.Equal(t, int64(3), a.Next())
	assert.Equal(t, int64(3), a.Current())
}

func TestAllocator_Reseed(t *testing.T) {
	a := NewAllocator()
	a.Next()

	a.Reseed(41)
	assert.Equal(t, int64(42), a.Next(), "next id must be one past the seed")

	a.Reseed(10)
	assert.Equal(t, int64(43), a.Next(), "reseeding lower must not move backwards")
}

func TestAllocator_ConcurrentUniqueAndIncreasing(t *testing.T) {
	a := NewAllocator()
	const goroutines = 50
	const callsPerGoroutine = 200

	var wg sync.WaitGroup
	ids := make(chan int64, goroutines*callsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(0)
			for j := 0; j < callsPerGoroutine; j++ {
				id := a.Next()
				// Each goroutine observes its own calls in increasing order.
				assert.Greater(t, id, last)
				last = id
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
	assert.Equal(t, int64(goroutines*callsPerGoroutine), a.Current())
}

func TestAllocator_ConcurrentReseed(t *testing.T) {
	a := NewAllocator()

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(max int64) {
			defer wg.Done()
			a.Reseed(max)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(100), a.Current())
}
