package countdown

import (
	"context"
	"sync"
	"time"
)

// DefaultTick is how often the deadline is re-evaluated.
const DefaultTick = time.Second

// Options configure a Countdown. Callbacks run on the countdown goroutine.
type Options struct {
	Tick     time.Duration
	Now      func() time.Time
	OnTick   func(remaining time.Duration)
	OnExpire func()
}

// Countdown tracks time left until a deadline. Remaining is recomputed from the
// wall clock on every read and every tick, so a suspended process resumes with
// the true value instead of a drifted counter.
type Countdown struct {
	deadline time.Time
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start launches the ticking goroutine. The countdown is released when ctx is
// cancelled, Stop is called, or the deadline passes, whichever comes first.
func Start(ctx context.Context, deadline time.Time, opts Options) *Countdown {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &Countdown{deadline: deadline, now: opts.Now, cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, opts)
	return c
}

func (c *Countdown) run(ctx context.Context, opts Options) {
	defer close(c.done)
	defer c.cancel()

	ticker := time.NewTicker(opts.Tick)
	defer ticker.Stop()

	for {
		rem := c.Remaining()
		if opts.OnTick != nil {
			opts.OnTick(rem)
		}
		if rem <= 0 {
			if opts.OnExpire != nil {
				opts.OnExpire()
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Deadline is the instant the countdown reaches zero.
func (c *Countdown) Deadline() time.Time { return c.deadline }

// Remaining is never negative.
func (c *Countdown) Remaining() time.Duration {
	if rem := c.deadline.Sub(c.now()); rem > 0 {
		return rem
	}
	return 0
}

// Expired reports whether the deadline has passed.
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Stop releases the countdown. It is safe to call more than once and from callbacks.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(c.cancel)
}

// Done is closed once the goroutine has exited.
func (c *Countdown) Done() <-chan struct{} { return c.done }
