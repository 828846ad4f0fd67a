// Package sim provides a simulated geared DC motor with a quadrature encoder, so the tuning loop
// can run without hardware.
package sim

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"motor-position-tuning/hardware/encoder"
)

const maxStep = 500 * time.Microsecond

// Config describes the simulated plant.
type Config struct {
	// MaxSpeedDPS is the output shaft speed at full duty once the motor has spun up.
	MaxSpeedDPS float64
	// TimeConstant is the first-order spin-up time constant.
	TimeConstant time.Duration
	// CountsPerRev is encoder transitions per output shaft revolution.
	CountsPerRev float64
	// StartDegrees is the initial shaft angle.
	StartDegrees float64
}

// Plant integrates a first-order speed response: dω/dt = (duty·MaxSpeed − ω) / τ.
// A disabled motor coasts down with the same time constant. It implements both
// motor.Driver and encoder.Counter.
type Plant struct {
	clk clock.Clock
	cfg Config

	last     time.Time
	angle    float64 // degrees
	omega    float64 // degrees per second
	duty     float64
	enabled  bool
	count    int64
	lastEdge time.Time

	failRead error
	failDuty error
}

func NewPlant(clk clock.Clock, cfg Config) (*Plant, error) {
	if !(cfg.MaxSpeedDPS > 0) {
		return nil, errors.Errorf("sim max speed must be positive, got %v", cfg.MaxSpeedDPS)
	}
	if cfg.TimeConstant <= 0 {
		return nil, errors.Errorf("sim time constant must be positive, got %v", cfg.TimeConstant)
	}
	if !(cfg.CountsPerRev > 0) {
		return nil, errors.Errorf("sim counts per rev must be positive, got %v", cfg.CountsPerRev)
	}
	now := clk.Now()
	p := &Plant{clk: clk, cfg: cfg, last: now, angle: cfg.StartDegrees, lastEdge: now}
	p.count = p.countAt(p.angle)
	return p, nil
}

func (p *Plant) countAt(angle float64) int64 {
	return int64(math.Floor(angle * p.cfg.CountsPerRev / 360))
}

// advance integrates the plant up to the clock's current time.
func (p *Plant) advance() time.Time {
	now := p.clk.Now()
	tau := p.cfg.TimeConstant.Seconds()
	for p.last.Before(now) {
		step := now.Sub(p.last)
		if step > maxStep {
			step = maxStep
		}
		h := step.Seconds()
		target := 0.0
		if p.enabled {
			target = p.duty * p.cfg.MaxSpeedDPS
		}
		p.omega += (target - p.omega) * h / tau
		p.angle += p.omega * h
		p.last = p.last.Add(step)

		if c := p.countAt(p.angle); c != p.count {
			p.count = c
			p.lastEdge = p.last
		}
	}
	return now
}

// Read implements encoder.Counter.
func (p *Plant) Read() (encoder.RawCapture, error) {
	now := p.advance()
	if p.failRead != nil {
		return encoder.RawCapture{}, p.failRead
	}
	return encoder.RawCapture{Count: p.count, LastEdge: p.lastEdge, Now: now}, nil
}

// SetDuty implements motor.Driver.
func (p *Plant) SetDuty(duty float64) error {
	p.advance()
	if p.failDuty != nil {
		return p.failDuty
	}
	if duty < -1 || duty > 1 || math.IsNaN(duty) {
		return errors.Errorf("duty %v out of range [-1, 1]", duty)
	}
	p.duty = duty
	return nil
}

func (p *Plant) Enable() error {
	p.advance()
	p.enabled = true
	return nil
}

func (p *Plant) Disable() error {
	p.advance()
	p.enabled = false
	return nil
}

// Angle is the true shaft angle in degrees, without encoder quantisation.
func (p *Plant) Angle() float64 {
	p.advance()
	return p.angle
}

// Enabled reports whether the simulated bridge is driving the motor.
func (p *Plant) Enabled() bool {
	return p.enabled
}

// FailReads makes every following Read return err; nil restores normal reads.
func (p *Plant) FailReads(err error) {
	p.failRead = err
}

// FailDuty makes every following SetDuty return err; nil restores normal writes.
func (p *Plant) FailDuty(err error) {
	p.failDuty = err
}
