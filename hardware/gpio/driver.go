// Package gpio drives the motor, encoder and button from Linux GPIO lines through periph.io.
package gpio

import (
	"math"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Init loads the periph host drivers. It must run before any pin is looked up by name.
func Init() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "periph host init")
	}
	return nil
}

func pinByName(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errors.New("empty pin name")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no gpio pin named %q", name)
	}
	return p, nil
}

// Driver is a PWM + direction H-bridge. The duty magnitude goes to the PWM pin, the sign to
// the direction pin. While disabled the PWM pin is held low and duty changes are remembered.
type Driver struct {
	pwm     gpio.PinOut
	dir     gpio.PinOut
	freq    physic.Frequency
	duty    float64
	enabled bool
}

// NewDriver looks up the PWM and direction pins by name.
func NewDriver(pwmPin, dirPin string, freq physic.Frequency) (*Driver, error) {
	pwm, err := pinByName(pwmPin)
	if err != nil {
		return nil, errors.Wrap(err, "pwm pin")
	}
	dir, err := pinByName(dirPin)
	if err != nil {
		return nil, errors.Wrap(err, "direction pin")
	}
	return NewDriverFromPins(pwm, dir, freq)
}

// NewDriverFromPins builds a Driver on already opened pins and drives both low.
func NewDriverFromPins(pwm, dir gpio.PinOut, freq physic.Frequency) (*Driver, error) {
	if freq <= 0 {
		return nil, errors.Errorf("pwm frequency must be positive, got %s", freq)
	}
	d := &Driver{pwm: pwm, dir: dir, freq: freq}
	if err := pwm.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "%s", pwm)
	}
	if err := dir.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "%s", dir)
	}
	return d, nil
}

func (d *Driver) SetDuty(duty float64) error {
	if math.IsNaN(duty) || duty < -1 || duty > 1 {
		return errors.Errorf("duty %v out of range [-1, 1]", duty)
	}
	d.duty = duty
	if !d.enabled {
		return nil
	}
	return d.apply()
}

func (d *Driver) apply() error {
	level := gpio.High
	if d.duty < 0 {
		level = gpio.Low
	}
	if err := d.dir.Out(level); err != nil {
		return errors.Wrapf(err, "%s", d.dir)
	}
	duty := gpio.Duty(math.Round(math.Abs(d.duty) * float64(gpio.DutyMax)))
	if err := d.pwm.PWM(duty, d.freq); err != nil {
		return errors.Wrapf(err, "%s", d.pwm)
	}
	return nil
}

func (d *Driver) Enable() error {
	d.enabled = true
	return d.apply()
}

func (d *Driver) Disable() error {
	d.enabled = false
	if err := d.pwm.Out(gpio.Low); err != nil {
		return errors.Wrapf(err, "%s", d.pwm)
	}
	return nil
}

// Close stops the PWM output when the process releases the pins.
func (d *Driver) Close() error {
	return d.Disable()
}
