package filestore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashLocks(t *testing.T) {
	locks := newHashLocks()

	var mu sync.Mutex
	inside := map[string]int{}
	maxInside := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		hash := []string{"h1", "h2"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(hash)
			defer unlock()

			mu.Lock()
			inside[hash]++
			if inside[hash] > maxInside[hash] {
				maxInside[hash] = inside[hash]
			}
			mu.Unlock()

			mu.Lock()
			inside[hash]--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside["h1"])
	assert.Equal(t, 1, maxInside["h2"])
	assert.Empty(t, locks.locks, "released entries are dropped")
}
