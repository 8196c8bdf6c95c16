package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserLockMutualExclusion(t *testing.T) {
	ul := NewUserLock()

	const workers = 16
	const increments = 200

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				_ = ul.WithLock(7, func() error {
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*increments, counter)
}

func TestUserLockIndependentUsers(t *testing.T) {
	ul := NewUserLock()

	ul.Lock(1)
	defer ul.Unlock(1)

	// A different user's lock is unaffected.
	require.True(t, ul.TryLock(2))
	ul.Unlock(2)

	// The held lock is not re-acquirable.
	assert.False(t, ul.TryLock(1))
}
