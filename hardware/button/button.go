// Package button provides exit triggers that do not need GPIO hardware.
package button

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Trigger is polled once per control tick.
type Trigger interface {
	Triggered() (bool, error)
}

// LineTrigger fires once a line has been read from its input, e.g. Enter pressed on a terminal.
// Reading happens on a background goroutine so polling never blocks.
type LineTrigger struct {
	fired atomic.Bool
	err   atomic.Error
	done  chan struct{}
}

// NewLineTrigger starts reading src. End of input without a line does not fire the trigger.
func NewLineTrigger(src io.Reader) *LineTrigger {
	t := &LineTrigger{done: make(chan struct{})}
	go t.read(src)
	return t
}

func (t *LineTrigger) read(src io.Reader) {
	defer close(t.done)
	sc := bufio.NewScanner(src)
	if sc.Scan() {
		t.fired.Store(true)
		return
	}
	if err := sc.Err(); err != nil {
		t.err.Store(errors.Wrap(err, "read exit input"))
	}
}

func (t *LineTrigger) Triggered() (bool, error) {
	if err := t.err.Load(); err != nil {
		return false, err
	}
	return t.fired.Load(), nil
}

// Done is closed once the reader goroutine has finished.
func (t *LineTrigger) Done() <-chan struct{} {
	return t.done
}

// Any fires when any of its triggers fires. Triggers are polled in order and polling stops at
// the first one that fires or fails.
type Any []Trigger

func (a Any) Triggered() (bool, error) {
	for _, t := range a {
		fired, err := t.Triggered()
		if err != nil || fired {
			return fired, err
		}
	}
	return false, nil
}
