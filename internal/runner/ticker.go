// ABOUTME: Tick sources for the runner loop
// ABOUTME: A wall-clock ticker for production and a manual one for tests

package runner

import "time"

// Ticker drives the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

// NewTicker ticks every d.
func NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }

// ManualTicker ticks only when Tick is called.
type ManualTicker struct {
	ch chan time.Time
}

// NewManualTicker creates a ticker with no pending ticks.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {}

// Tick blocks until the runner receives the tick.
func (m *ManualTicker) Tick() {
	m.ch <- time.Now()
}
