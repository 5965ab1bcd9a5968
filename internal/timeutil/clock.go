// Package timeutil lets periodic loops run against a manual clock in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the part of the time package the live scheduler needs.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped. Ticks are dropped, not queued,
// while the receiver is behind.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance is called.
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a mock clock reading start.
func NewMockClock(start time.Time) *MockClock {
	c := &MockClock{now: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d and fires every ticker that became
// due. A ticker due several times over fires once.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	c.cond.Broadcast()
	return t
}

// WaitForTickers blocks until at least n tickers have been created. Tests
// use it before the first Advance so no tick is lost to a goroutine that
// has not started yet.
func (c *MockClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.tickers) < n {
		c.cond.Wait()
	}
}

// MockTicker is a ticker driven by a MockClock.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Interval is the ticker period.
func (t *MockTicker) Interval() time.Duration { return t.interval }

func (t *MockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	select {
	case t.ch <- now:
	default:
	}
}
