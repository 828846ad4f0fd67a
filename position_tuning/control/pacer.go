package control

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// FixedRatePacer holds ticks to a fixed period measured from the start of each tick, so the
// time spent working inside a tick is not added on top of the period.
type FixedRatePacer struct {
	clk    clock.Clock
	period time.Duration

	deadline time.Time
	overruns int
	worst    time.Duration
}

// NewFixedRatePacer returns a pacer that is anchored by Start.
func NewFixedRatePacer(clk clock.Clock, period time.Duration) (*FixedRatePacer, error) {
	if period <= 0 {
		return nil, errors.Errorf("pacer period must be positive, got %v", period)
	}
	return &FixedRatePacer{clk: clk, period: period}, nil
}

// Start sets the end of the first tick one period from now.
func (p *FixedRatePacer) Start() {
	p.deadline = p.clk.Now().Add(p.period)
}

// Wait sleeps until the end of the current tick. If the tick already ran past its deadline it
// returns at once and the next tick gets a full period from now.
func (p *FixedRatePacer) Wait(ctx context.Context) error {
	now := p.clk.Now()
	remaining := p.deadline.Sub(now)
	if remaining <= 0 {
		p.overruns++
		if -remaining > p.worst {
			p.worst = -remaining
		}
		p.deadline = now.Add(p.period)
		return nil
	}

	t := p.clk.Timer(remaining)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	p.deadline = p.deadline.Add(p.period)
	return nil
}

// Overruns reports how many ticks missed their deadline and the largest miss.
func (p *FixedRatePacer) Overruns() (int, time.Duration) {
	return p.overruns, p.worst
}
