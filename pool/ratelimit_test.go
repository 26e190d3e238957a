package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterUnlimited(t *testing.T) {
	rl := newRateLimiter(0)
	ran := false
	rl.run(func() { ran = true })
	assert.True(t, ran, "no limit means immediate admission")
}

func TestRateLimiterImmediateUnderLimit(t *testing.T) {
	rl := newRateLimiter(3)
	rl.charge()
	rl.charge()

	ran := false
	rl.run(func() { ran = true })
	assert.True(t, ran, "window has headroom")
}

func TestRateLimiterParksAtLimit(t *testing.T) {
	rl := newRateLimiter(2)
	rl.charge()
	rl.charge()

	start := time.Now()
	done := make(chan struct{})
	rl.run(func() { close(done) })

	select {
	case <-done:
		t.Fatal("continuation ran before the window cleared")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("window never cleared")
	}
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)
}

func TestRateLimiterFIFOResume(t *testing.T) {
	rl := newRateLimiter(1)
	rl.charge()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		rl.run(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	waitDone(t, &wg, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "parked continuations resume in FIFO order")
}

func TestRateLimiterClearsStaleWindowImmediately(t *testing.T) {
	rl := newRateLimiter(1)
	rl.charge()
	time.Sleep(1100 * time.Millisecond)

	done := make(chan struct{})
	rl.run(func() { close(done) })
	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("an elapsed window must clear on arrival, not wait for a timer")
	}
}

func TestRateLimiterStopFlushesParked(t *testing.T) {
	rl := newRateLimiter(1)
	rl.charge()

	done := make(chan struct{})
	rl.run(func() { close(done) })
	rl.stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop must flush parked continuations")
	}
}

func waitDone(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out")
	}
}
