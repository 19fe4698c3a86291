package community

import (
	"sync"
	"time"
)

// Countdown is the verification window timer. It decrements once per tick
// until it reaches zero and then stays there until Reset.
type Countdown struct {
	mu        sync.Mutex
	window    time.Duration
	tick      time.Duration
	remaining time.Duration
	manual    bool
	stop      chan struct{}
	done      chan struct{}
	onTick    func(remaining time.Duration)
}

// CountdownOption customizes a Countdown.
type CountdownOption func(*Countdown)

// WithManualTicks disables the background ticker, the owner calls Advance.
func WithManualTicks() CountdownOption {
	return func(c *Countdown) {
		c.manual = true
	}
}

// WithTickListener is called after every decrement with the remaining time.
// The listener must not call Stop or Reset.
func WithTickListener(fn func(remaining time.Duration)) CountdownOption {
	return func(c *Countdown) {
		c.onTick = fn
	}
}

// NewCountdown returns a stopped countdown at zero.
func NewCountdown(window, tick time.Duration, opts ...CountdownOption) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	c := &Countdown{window: window, tick: tick}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Reset restarts the countdown from the full window.
func (c *Countdown) Reset() {
	c.Stop()

	c.mu.Lock()
	c.remaining = c.window
	if c.manual || c.window <= 0 {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	c.mu.Unlock()

	go c.run(stop, done)
}

func (c *Countdown) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.Advance(1) <= 0 {
				c.mu.Lock()
				if c.stop == stop {
					c.stop, c.done = nil, nil
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// Advance decrements by n ticks and returns what remains.
func (c *Countdown) Advance(n int) time.Duration {
	c.mu.Lock()
	if c.remaining <= 0 || n <= 0 {
		r := c.remaining
		c.mu.Unlock()
		return r
	}
	c.remaining -= time.Duration(n) * c.tick
	if c.remaining < 0 {
		c.remaining = 0
	}
	r := c.remaining
	fn := c.onTick
	c.mu.Unlock()

	if fn != nil {
		fn(r)
	}
	return r
}

// Remaining returns the time left in the window.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the window ran out.
func (c *Countdown) Expired() bool {
	return c.Remaining() <= 0
}

// Running reports whether the background ticker is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Stop cancels the background ticker and waits for it to exit. The remaining
// time is kept.
func (c *Countdown) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
