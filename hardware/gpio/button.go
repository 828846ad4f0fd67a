package gpio

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
)

// Button is a push button read as a level; debouncing is left to the hardware.
type Button struct {
	pin       gpio.PinIn
	activeLow bool
}

func NewButton(name string, activeLow bool) (*Button, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, errors.Wrap(err, "button pin")
	}
	return NewButtonFromPin(p, activeLow)
}

// NewButtonFromPin pulls the pin towards its released level.
func NewButtonFromPin(p gpio.PinIn, activeLow bool) (*Button, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "%s", p)
	}
	return &Button{pin: p, activeLow: activeLow}, nil
}

// Triggered reports whether the button is currently held.
func (b *Button) Triggered() (bool, error) {
	return (b.pin.Read() == gpio.Low) == b.activeLow, nil
}
