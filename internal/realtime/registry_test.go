package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryClaimAndRelease(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsRealtimeActive(1))
	assert.True(t, r.Claim(1))
	assert.True(t, r.IsRealtimeActive(1))
	assert.False(t, r.Claim(1), "a held account cannot be claimed twice")

	r.Release(1)
	assert.False(t, r.IsRealtimeActive(1))
	assert.True(t, r.Claim(1))
}

func TestRegistryIsolatesAccounts(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Claim(1))
	assert.True(t, r.Claim(2))
	assert.False(t, r.IsRealtimeActive(3))
}

func TestRegistryConcurrentClaims(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	wins := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Claim(7) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one claimer may win")
}
