package engine

import "time"

// Ticker abstracts time.Ticker so the scheduler can run against a fake
// clock in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the time source for the orchestrator's scheduler and watchdog.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// realClock implements Clock over the time package.
type realClock struct{}

// RealClock returns the wall-clock implementation of Clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
