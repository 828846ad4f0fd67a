package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.viam.com/test"

	"motor-position-tuning/hardware"
	"motor-position-tuning/position_tuning/control"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(path, []byte(body), 0o644), test.ShouldBeNil)
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.CountsPerRev(), test.ShouldEqual, 600.0)
	test.That(t, cfg.Loop.WindowTicks(), test.ShouldEqual, 200)

	pid := cfg.PIDSettings()
	test.That(t, pid.OutputLimit, test.ShouldEqual, 5.4)
	test.That(t, cfg.PID.OutputLimit, test.ShouldEqual, 0.0)

	cfg.PID.OutputLimit = 2
	test.That(t, cfg.PIDSettings().OutputLimit, test.ShouldEqual, 2.0)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, DefaultConfig())
}

func TestLoadConfigShippedFile(t *testing.T) {
	cfg, err := LoadConfig("../config/position_tuning.yaml", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg, test.ShouldResemble, DefaultConfig())
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeFile(t, "tuning.yaml", `
driver: sim
encoder:
  direction: 1
pid:
  kp: 0.2
  derivative: error
loop:
  print_divider: 2
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	test.That(t, fs.Parse([]string{"--pid.kd", "0.003", "--plot", "out.png"}), test.ShouldBeNil)

	cfg, err := LoadConfig(path, fs)
	test.That(t, err, test.ShouldBeNil)
	// file
	test.That(t, cfg.PID.Kp, test.ShouldEqual, 0.2)
	test.That(t, cfg.PID.Derivative, test.ShouldEqual, control.DerivativeOnError)
	test.That(t, cfg.Loop.PrintDivider, test.ShouldEqual, 2)
	test.That(t, cfg.Encoder.Direction, test.ShouldEqual, hardware.ReversedDir)
	// flags
	test.That(t, cfg.PID.Kd, test.ShouldEqual, 0.003)
	test.That(t, cfg.Plot, test.ShouldEqual, "out.png")
	// defaults survive where neither says otherwise
	test.That(t, cfg.PID.Ki, test.ShouldEqual, 0.0)
	test.That(t, cfg.Loop.RateHz, test.ShouldEqual, 100.0)
	test.That(t, cfg.Encoder.GearRatio, test.ShouldEqual, 50.0)
}

func TestLoadConfigRejects(t *testing.T) {
	for name, body := range map[string]string{
		"driver":          "driver: stepper\n",
		"print window":    "loop:\n  print_window_s: 3\n",
		"output limit":    "pid:\n  output_limit: -1\n",
		"derivative":      "pid:\n  derivative: velocity\n",
		"direction":       "motor:\n  direction: 2\n",
		"gear ratio":      "encoder:\n  gear_ratio: 0\n",
		"can timeout":     "driver: can\ncan:\n  reply_timeout_ms: 0\n",
		"gpio pins":       "driver: gpio\ngpio:\n  pwm_pin: \"\"\n",
		"malformed yaml":  "pid: [\n",
		"negative run":    "sim:\n  duration_s: -1\n",
		"endless run":     "sim:\n  duration_s: 1e12\n",
		"limit > scale":   "pid:\n  output_limit: 6\n",
		"speed scale":     "motor:\n  speed_scale: 0\n",
		"divider":         "loop:\n  print_divider: 0\n",
		"sub-tick window": "loop:\n  movement_window_s: 0.001\n  print_window_s: 0.001\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "bad.yaml", body), nil)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestOutputLimitBoundsIntegral(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PID.Ki = 5
	cfg.PID.OutputLimit = 50
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg.PID.OutputLimit = cfg.Motor.SpeedScale
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	for _, limit := range []float64{0, cfg.Motor.SpeedScale} {
		cfg.PID.OutputLimit = limit
		pid, err := control.NewPID(cfg.PIDSettings(), cfg.Loop.Period())
		test.That(t, err, test.ShouldBeNil)
		pid.Setpoint = 90
		for i := 0; i < 500; i++ {
			pid.Calculate(0, 0)
		}
		test.That(t, pid.GetIntegral(), test.ShouldBeLessThanOrEqualTo, cfg.Motor.SpeedScale)
	}
}

func TestSimDurationFitsDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sim.DurationS = maxSimDurationS
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, time.Duration(cfg.Sim.DurationS*float64(time.Second)), test.ShouldBeGreaterThan, time.Duration(0))

	cfg.Sim.DurationS = 2 * maxSimDurationS
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestPrintedConfigReloads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverCAN
	cfg.PID.Ki = 0.01
	cfg.Loop.ResetOnSetpoint = true

	var buf bytes.Buffer
	test.That(t, cfg.WriteYAML(&buf), test.ShouldBeNil)

	got, err := LoadConfig(writeFile(t, "printed.yaml", buf.String()), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, cfg)
}
