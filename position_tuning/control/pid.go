package control

import (
	"time"

	"github.com/pkg/errors"
)

// PID implements a discrete position controller run at a fixed sample period.
//
// The integral accumulates Ki·error·dt, so it already is the I term; it is held within
// ±OutputLimit when a limit is set. Moving the setpoint keeps the integral and derivative
// history; call Reset to drop them.
type PID struct {
	// Setpoint is the target position. The scheduler changes it between calls.
	Setpoint float64

	cfg PIDConfig
	dt  float64 // seconds

	integral  float64
	prevError float64
	havePrev  bool

	diag PIDDiagnostics
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
	D        float64
	// Output is P+I+D before the output clamp.
	Output float64
}

// NewPID creates a controller for the given sample period.
func NewPID(cfg PIDConfig, samplePeriod time.Duration) (*PID, error) {
	if samplePeriod <= 0 {
		return nil, errors.Errorf("pid sample period must be positive, got %v", samplePeriod)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Derivative == "" {
		cfg.Derivative = DerivativeOnMeasurement
	}
	return &PID{cfg: cfg, dt: samplePeriod.Seconds()}, nil
}

// Calculate returns the command for the measured position and its rate of change.
func (pid *PID) Calculate(processVariable, processDerivative float64) float64 {
	err := pid.Setpoint - processVariable
	p := pid.cfg.Kp * err

	pid.integral += pid.cfg.Ki * err * pid.dt
	limit := pid.cfg.OutputLimit
	if limit > 0 {
		pid.integral = ClampFloat(pid.integral, -limit, limit)
	}

	var d float64
	switch pid.cfg.Derivative {
	case DerivativeOnError:
		if pid.havePrev {
			d = pid.cfg.Kd * (err - pid.prevError) / pid.dt
		}
	default:
		// d(error)/dt is -d(pv)/dt while the setpoint holds
		d = -pid.cfg.Kd * processDerivative
	}

	out := p + pid.integral + d
	pid.diag = PIDDiagnostics{
		Error:    err,
		Integral: pid.integral,
		P:        p,
		I:        pid.integral,
		D:        d,
		Output:   out,
	}
	if limit > 0 {
		out = ClampFloat(out, -limit, limit)
	}

	pid.prevError = err
	pid.havePrev = true
	return out
}

// Reset clears the PID state
func (pid *PID) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.havePrev = false
	pid.diag = PIDDiagnostics{}
}

// GetDiagnostics returns the terms of the most recent Calculate.
func (pid *PID) GetDiagnostics() PIDDiagnostics {
	return pid.diag
}

// GetError returns the most recent position error
func (pid *PID) GetError() float64 {
	return pid.prevError
}

// GetIntegral returns the current integral term value
func (pid *PID) GetIntegral() float64 {
	return pid.integral
}

// Config returns the controller parameters, with the derivative mode filled in.
func (pid *PID) Config() PIDConfig {
	return pid.cfg
}
