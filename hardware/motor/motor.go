// Package motor drives a DC motor through a signed duty cycle.
package motor

import (
	"math"

	"github.com/pkg/errors"

	"motor-position-tuning/hardware"
)

// Driver is the PWM/direction hardware. Duty is in [-1, 1], sign selects rotation direction.
type Driver interface {
	SetDuty(duty float64) error
	Enable() error
	Disable() error
}

// Config is fixed at construction.
type Config struct {
	Direction hardware.Direction
	// SpeedScale is the speed reached at full duty, so commands can be given in real-world units.
	SpeedScale float64
}

// Motor applies direction and speed scaling to every command it forwards to the Driver.
type Motor struct {
	drv     Driver
	cfg     Config
	speed   float64
	enabled bool
}

// New wraps drv. The motor starts disabled.
func New(drv Driver, cfg Config) (*Motor, error) {
	if drv == nil {
		return nil, errors.New("motor needs a driver")
	}
	if err := cfg.Direction.Validate(); err != nil {
		return nil, errors.Wrap(err, "motor")
	}
	if !(cfg.SpeedScale > 0) || math.IsInf(cfg.SpeedScale, 0) {
		return nil, errors.Errorf("motor speed scale must be positive and finite, got %v", cfg.SpeedScale)
	}
	return &Motor{drv: drv, cfg: cfg}, nil
}

// SetSpeed clamps speed to ±SpeedScale and commands the matching duty.
func (m *Motor) SetSpeed(speed float64) error {
	if math.IsNaN(speed) {
		return errors.New("motor speed is NaN")
	}
	s := math.Max(-m.cfg.SpeedScale, math.Min(m.cfg.SpeedScale, speed))
	duty := m.cfg.Direction.Sign() * s / m.cfg.SpeedScale
	if err := m.drv.SetDuty(duty); err != nil {
		return errors.Wrapf(err, "set duty %.4f", duty)
	}
	m.speed = s
	return nil
}

// Speed returns the last speed successfully commanded.
func (m *Motor) Speed() float64 {
	return m.speed
}

// SpeedScale returns the speed reached at full duty.
func (m *Motor) SpeedScale() float64 {
	return m.cfg.SpeedScale
}

func (m *Motor) Enable() error {
	if err := m.drv.Enable(); err != nil {
		return errors.Wrap(err, "enable")
	}
	m.enabled = true
	return nil
}

// Disable always reaches the driver, even if the motor believes it is already disabled.
func (m *Motor) Disable() error {
	m.enabled = false
	if err := m.drv.Disable(); err != nil {
		return errors.Wrap(err, "disable")
	}
	return nil
}

func (m *Motor) IsEnabled() bool {
	return m.enabled
}
