package sim

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DeadlineTrigger fires once the configured run time has elapsed. A zero duration never fires.
type DeadlineTrigger struct {
	clk      clock.Clock
	deadline time.Time
	never    bool
}

func NewDeadlineTrigger(clk clock.Clock, d time.Duration) *DeadlineTrigger {
	return &DeadlineTrigger{clk: clk, deadline: clk.Now().Add(d), never: d <= 0}
}

func (t *DeadlineTrigger) Triggered() (bool, error) {
	if t.never {
		return false, nil
	}
	return !t.clk.Now().Before(t.deadline), nil
}
