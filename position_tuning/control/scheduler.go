package control

import "github.com/pkg/errors"

// Scheduler alternates the PID setpoint between +extent and -extent, holding each for a
// fixed number of ticks.
type Scheduler struct {
	pid           *PID
	windowTicks   int
	period        float64 // seconds per tick
	resetOnChange bool

	tick int
}

// NewScheduler sets the initial +extent setpoint on pid.
func NewScheduler(pid *PID, extent float64, windowTicks int, tickSeconds float64, resetOnChange bool) (*Scheduler, error) {
	if pid == nil {
		return nil, errors.New("scheduler needs a pid")
	}
	if windowTicks < 1 {
		return nil, errors.Errorf("scheduler window must be at least one tick, got %d", windowTicks)
	}
	pid.Setpoint = extent
	return &Scheduler{
		pid:           pid,
		windowTicks:   windowTicks,
		period:        tickSeconds,
		resetOnChange: resetOnChange,
	}, nil
}

// WindowTick is the index of the current tick within the window, starting at 0.
func (s *Scheduler) WindowTick() int {
	return s.tick
}

// Elapsed is the time spent in the current window.
func (s *Scheduler) Elapsed() float64 {
	return float64(s.tick) * s.period
}

// Advance moves time on by one tick. At the end of the window it negates the setpoint,
// starts a new window and reports true.
func (s *Scheduler) Advance() bool {
	s.tick++
	if s.tick < s.windowTicks {
		return false
	}
	s.tick = 0
	s.pid.Setpoint = 0 - s.pid.Setpoint
	if s.resetOnChange {
		s.pid.Reset()
	}
	return true
}
