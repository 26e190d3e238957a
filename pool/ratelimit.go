package pool

import (
	"sync"
	"time"
)

// rateWindow is the rolling interval during which up to limit dispatches are
// admitted.
const rateWindow = time.Second

// rateLimiter admits continuations at most limit times per rolling second.
// The window resets when the first parked caller arrives after the window
// elapsed, not on a strict token schedule; bursts up to limit are allowed.
type rateLimiter struct {
	limit int

	mu         sync.Mutex
	counter    int
	checkpoint time.Time
	timer      *time.Timer
	parked     []func()
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit}
}

// charge records one dispatch against the current window. Called by the
// dispatcher when a submission is bound to a resource.
func (rl *rateLimiter) charge() {
	if rl.limit <= 0 {
		return
	}
	rl.mu.Lock()
	rl.counter++
	if rl.checkpoint.IsZero() {
		rl.checkpoint = time.Now()
	}
	rl.mu.Unlock()
}

// run invokes f immediately while the window has headroom, otherwise parks f
// until the window clears. Parked continuations resume in FIFO order.
func (rl *rateLimiter) run(f func()) {
	if rl.limit <= 0 {
		f()
		return
	}
	rl.mu.Lock()
	if rl.counter < rl.limit {
		rl.mu.Unlock()
		f()
		return
	}
	rl.parked = append(rl.parked, f)

	now := time.Now()
	elapsed := now.Sub(rl.checkpoint)
	if rl.checkpoint.IsZero() || elapsed >= rateWindow {
		rl.clearLocked()
		rl.mu.Unlock()
		return
	}
	if rl.timer == nil {
		rl.timer = time.AfterFunc(rateWindow-elapsed, rl.clear)
	}
	rl.mu.Unlock()
}

func (rl *rateLimiter) clear() {
	rl.mu.Lock()
	rl.clearLocked()
	rl.mu.Unlock()
}

// clearLocked resets the window and resumes all parked continuations, in
// order, off the caller's stack.
func (rl *rateLimiter) clearLocked() {
	if rl.timer != nil {
		rl.timer.Stop()
		rl.timer = nil
	}
	rl.counter = 0
	rl.checkpoint = time.Time{}
	parked := rl.parked
	rl.parked = nil
	if len(parked) > 0 {
		go func() {
			for _, f := range parked {
				f()
			}
		}()
	}
}

// stop cancels the pending window timer and flushes parked continuations so
// resources waiting on re-admission still observe the close. Only called on
// pool shutdown.
func (rl *rateLimiter) stop() {
	rl.mu.Lock()
	rl.clearLocked()
	rl.mu.Unlock()
}
