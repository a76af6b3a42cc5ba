package sync_

import (
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestEvent(t *testing.T) {
	assert := assert_.New(t)
	e := NewEvent()
	assert.False(e.IsSet())
	select {
	case <-e.Wait():
		assert.Fail("<-e.Wait() should be blocking")
	default:
	}

	assert.True(e.Set())
	assert.True(e.IsSet())
	select {
	case <-e.Wait():
	default:
		assert.Fail("<-e.Wait() should not block")
	}
	// Idempotent
	assert.False(e.Set())

	assert.True(e.Clear())
	assert.False(e.IsSet())
	assert.False(e.Clear())
	select {
	case <-e.Wait():
		assert.Fail("<-e.Wait() should be blocking again")
	default:
	}
}

func TestEventWakesWaiters(t *testing.T) {
	assert := assert_.New(t)
	e := NewEvent()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-e.Wait()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Fail("event should be blocking all goroutines")
	case <-time.After(100 * time.Millisecond):
	}

	e.Set()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		assert.Fail("event should no longer be blocking")
	}
}

func TestMutexed(t *testing.T) {
	assert := assert_.New(t)
	m := NewMutexed(map[string]int{"a": 1})

	assert.NoError(m.Locked(func(v map[string]int) error {
		v["b"] = 2
		return nil
	}))
	assert.Len(m.Get(), 2)

	old := m.Swap(map[string]int{})
	assert.Len(old, 2)
	assert.Len(m.Get(), 0)
}
