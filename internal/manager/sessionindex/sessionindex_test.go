package sessionindex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	idx := New()

	assert.Equal(t, "", idx.Get("session-1"))

	idx.Set("session-1", "user-1")
	assert.Equal(t, "user-1", idx.Get("session-1"))

	idx.Set("session-1", "user-2")
	assert.Equal(t, "user-2", idx.Get("session-1"))

	idx.Delete("session-1")
	assert.Equal(t, "", idx.Get("session-1"))
}

func TestConcurrentAccess(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			idx.Set("session", "user")
		}(i)
		go func(i int) {
			defer wg.Done()
			idx.Get("session")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, "user", idx.Get("session"))
}
