package report

import (
	"context"
	"time"
)

// Scheduler decides when the next report runs.
type Scheduler interface {
	// Wait blocks until the next run is due. It returns ctx.Err() when the
	// context ends first.
	Wait(ctx context.Context) error
}

// IntervalScheduler waits a fixed delay measured from the end of the
// previous run, so slow reports never overlap.
type IntervalScheduler struct {
	Interval time.Duration
}

func (s IntervalScheduler) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.Interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ManualScheduler releases one run per Tick.
type ManualScheduler struct {
	ticks chan struct{}
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{ticks: make(chan struct{})}
}

// Tick blocks until a waiting reporter takes the tick or ctx ends.
func (m *ManualScheduler) Tick(ctx context.Context) error {
	select {
	case m.ticks <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ManualScheduler) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ticks:
		return nil
	}
}
