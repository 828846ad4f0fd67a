package control

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// DerivativeMode selects what the D term differentiates.
type DerivativeMode string

const (
	// DerivativeOnMeasurement uses the measured rate: no kick when the setpoint steps.
	DerivativeOnMeasurement DerivativeMode = "measurement"
	// DerivativeOnError differentiates the error between consecutive calls.
	DerivativeOnError DerivativeMode = "error"
)

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
	// OutputLimit bounds both the output and the integral accumulator; 0 disables clamping.
	OutputLimit float64        `json:"output_limit" yaml:"output_limit"`
	Derivative  DerivativeMode `json:"derivative" yaml:"derivative"`
}

// Validate rejects gains and limits the controller cannot run with.
func (c PIDConfig) Validate() error {
	for name, v := range map[string]float64{"kp": c.Kp, "ki": c.Ki, "kd": c.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("pid %s must be finite, got %v", name, v)
		}
	}
	if math.IsNaN(c.OutputLimit) || math.IsInf(c.OutputLimit, 0) || c.OutputLimit < 0 {
		return errors.Errorf("pid output_limit must be finite and >= 0, got %v", c.OutputLimit)
	}
	switch c.Derivative {
	case "", DerivativeOnMeasurement, DerivativeOnError:
	default:
		return errors.Errorf("unknown pid derivative mode %q", c.Derivative)
	}
	return nil
}

// LoopConfig holds the tuning loop timing and setpoint parameters
type LoopConfig struct {
	RateHz            float64 `json:"rate_hz" yaml:"rate_hz"`
	PrintWindowS      float64 `json:"print_window_s" yaml:"print_window_s"`
	MovementWindowS   float64 `json:"movement_window_s" yaml:"movement_window_s"`
	PrintDivider      int     `json:"print_divider" yaml:"print_divider"`
	SpeedPrintScale   float64 `json:"speed_print_scale" yaml:"speed_print_scale"`
	PositionExtentDeg float64 `json:"position_extent_deg" yaml:"position_extent_deg"`
	ResetOnSetpoint   bool    `json:"reset_on_setpoint" yaml:"reset_on_setpoint"`
}

// Validate checks the timing parameters produce at least one tick per window.
func (c LoopConfig) Validate() error {
	if !(c.RateHz > 0) || math.IsInf(c.RateHz, 0) {
		return errors.Errorf("loop rate_hz must be positive, got %v", c.RateHz)
	}
	if !(c.MovementWindowS > 0) {
		return errors.Errorf("loop movement_window_s must be positive, got %v", c.MovementWindowS)
	}
	if !(c.PrintWindowS > 0) {
		return errors.Errorf("loop print_window_s must be positive, got %v", c.PrintWindowS)
	}
	if c.PrintWindowS > c.MovementWindowS {
		return errors.Errorf("loop print_window_s (%v) exceeds movement_window_s (%v)", c.PrintWindowS, c.MovementWindowS)
	}
	if c.PrintDivider < 1 {
		return errors.Errorf("loop print_divider must be >= 1, got %d", c.PrintDivider)
	}
	if c.WindowTicks() < 1 {
		return errors.Errorf("movement window %vs is shorter than one tick at %v Hz", c.MovementWindowS, c.RateHz)
	}
	if math.IsNaN(c.PositionExtentDeg) || math.IsInf(c.PositionExtentDeg, 0) {
		return errors.Errorf("loop position_extent_deg must be finite, got %v", c.PositionExtentDeg)
	}
	if math.IsNaN(c.SpeedPrintScale) || math.IsInf(c.SpeedPrintScale, 0) {
		return errors.Errorf("loop speed_print_scale must be finite, got %v", c.SpeedPrintScale)
	}
	return nil
}

// Period is the fixed sample period.
func (c LoopConfig) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.RateHz)
}

// WindowTicks is the movement window length in ticks.
func (c LoopConfig) WindowTicks() int {
	return int(math.Round(c.MovementWindowS * c.RateHz))
}

// PrintTicks is how many leading ticks of each window are eligible for a diagnostic line.
func (c LoopConfig) PrintTicks() int {
	return int(math.Round(c.PrintWindowS * c.RateHz))
}
