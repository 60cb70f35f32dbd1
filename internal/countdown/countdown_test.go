package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitDone(t *testing.T, c *Countdown) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown goroutine did not exit")
	}
}

func TestRemainingFollowsWallClockAcrossSuspension(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := Start(context.Background(), clk.Now().Add(5*time.Minute), Options{Tick: time.Hour, Now: clk.Now})
	defer c.Stop()

	assert.Equal(t, 5*time.Minute, c.Remaining())

	// A process suspended for four minutes sees the real remainder on resume.
	clk.Advance(4 * time.Minute)
	assert.Equal(t, time.Minute, c.Remaining())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, time.Duration(0), c.Remaining())
	assert.True(t, c.Expired())
}

func TestExpireFiresOnceAndReleases(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	var (
		mu      sync.Mutex
		expired int
	)
	c := Start(context.Background(), clk.Now().Add(time.Second), Options{
		Tick: time.Millisecond,
		Now:  clk.Now,
		OnExpire: func() {
			mu.Lock()
			expired++
			mu.Unlock()
		},
	})
	clk.Advance(2 * time.Second)
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, expired)
}

func TestStopReleasesWithoutExpiry(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	expired := make(chan struct{}, 1)
	c := Start(context.Background(), clk.Now().Add(time.Minute), Options{
		Tick:     time.Millisecond,
		Now:      clk.Now,
		OnExpire: func() { expired <- struct{}{} },
	})
	c.Stop()
	c.Stop()
	waitDone(t, c)
	require.Len(t, expired, 0)
}

func TestContextCancelReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := Start(ctx, time.Now().Add(time.Hour), Options{Tick: time.Millisecond})
	cancel()
	waitDone(t, c)
}

func TestTickReportsRemaining(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	ticks := make(chan time.Duration, 1)
	c := Start(context.Background(), clk.Now().Add(90*time.Second), Options{
		Tick: time.Hour,
		Now:  clk.Now,
		OnTick: func(rem time.Duration) {
			select {
			case ticks <- rem:
			default:
			}
		},
	})
	defer c.Stop()
	select {
	case rem := <-ticks:
		assert.Equal(t, 90*time.Second, rem)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial tick")
	}
}
