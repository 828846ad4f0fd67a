package main

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	yml "gopkg.in/yaml.v2"

	"motor-position-tuning/hardware"
	"motor-position-tuning/position_tuning/control"
)

// Drivers the runner can build collaborators for.
const (
	DriverSim  = "sim"
	DriverGPIO = "gpio"
	DriverCAN  = "can"
)

// maxSimDurationS is the longest run a time.Duration can hold.
const maxSimDurationS = float64(math.MaxInt64 / int64(time.Second))

// Config is everything fixed at startup. Keys use the yaml tags, both in the config file and
// as dotted command line flags (e.g. --pid.kp).
type Config struct {
	Driver  string             `json:"driver" yaml:"driver"`
	Encoder EncoderConfig      `json:"encoder" yaml:"encoder"`
	Motor   MotorConfig        `json:"motor" yaml:"motor"`
	Loop    control.LoopConfig `json:"loop" yaml:"loop"`
	PID     control.PIDConfig  `json:"pid" yaml:"pid"`
	Sim     SimConfig          `json:"sim" yaml:"sim"`
	GPIO    GPIOConfig         `json:"gpio" yaml:"gpio"`
	CAN     CANConfig          `json:"can" yaml:"can"`
	Log     LogConfig          `json:"log" yaml:"log"`
	// Plot is a PNG path for the response trace; empty disables it.
	Plot string `json:"plot" yaml:"plot"`
}

type EncoderConfig struct {
	GearRatio        float64            `json:"gear_ratio" yaml:"gear_ratio"`
	BaseCountsPerRev float64            `json:"base_counts_per_rev" yaml:"base_counts_per_rev"`
	Direction        hardware.Direction `json:"direction" yaml:"direction"`
	ZeroOnStart      bool               `json:"zero_on_start" yaml:"zero_on_start"`
}

type MotorConfig struct {
	Direction  hardware.Direction `json:"direction" yaml:"direction"`
	SpeedScale float64            `json:"speed_scale" yaml:"speed_scale"`
}

type SimConfig struct {
	MaxSpeedDPS   float64 `json:"max_speed_dps" yaml:"max_speed_dps"`
	TimeConstantS float64 `json:"time_constant_s" yaml:"time_constant_s"`
	StartDeg      float64 `json:"start_deg" yaml:"start_deg"`
	// DurationS stops a simulated run on its own; 0 runs until interrupted.
	DurationS float64 `json:"duration_s" yaml:"duration_s"`
}

type GPIOConfig struct {
	PWMPin          string  `json:"pwm_pin" yaml:"pwm_pin"`
	DirPin          string  `json:"dir_pin" yaml:"dir_pin"`
	EncAPin         string  `json:"enc_a_pin" yaml:"enc_a_pin"`
	EncBPin         string  `json:"enc_b_pin" yaml:"enc_b_pin"`
	ButtonPin       string  `json:"button_pin" yaml:"button_pin"`
	ButtonActiveLow bool    `json:"button_active_low" yaml:"button_active_low"`
	PWMFrequencyHz  float64 `json:"pwm_frequency_hz" yaml:"pwm_frequency_hz"`
}

type CANConfig struct {
	Interface      string `json:"interface" yaml:"interface"`
	Map            string `json:"map" yaml:"map"`
	ReplyTimeoutMS int    `json:"reply_timeout_ms" yaml:"reply_timeout_ms"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
	// Stderr mirrors the log to stderr. Stdout is reserved for the diagnostic stream.
	Stderr bool `json:"stderr" yaml:"stderr"`
}

// DefaultConfig reproduces the classic motor2040 tuning setup: a 50:1 micro metal gearmotor,
// moving ±90° every two seconds at 100 Hz.
func DefaultConfig() Config {
	return Config{
		Driver: DriverSim,
		Encoder: EncoderConfig{
			GearRatio:        50,
			BaseCountsPerRev: 12,
			Direction:        hardware.NormalDir,
		},
		Motor: MotorConfig{Direction: hardware.NormalDir, SpeedScale: 5.4},
		Loop: control.LoopConfig{
			RateHz:            100,
			PrintWindowS:      0.25,
			MovementWindowS:   2.0,
			PrintDivider:      1,
			SpeedPrintScale:   10,
			PositionExtentDeg: 90,
		},
		PID: control.PIDConfig{
			Kp:         0.14,
			Ki:         0.0,
			Kd:         0.0022,
			Derivative: control.DerivativeOnMeasurement,
		},
		Sim: SimConfig{MaxSpeedDPS: 1944, TimeConstantS: 0.05, DurationS: 10},
		GPIO: GPIOConfig{
			PWMPin:          "GPIO12",
			DirPin:          "GPIO5",
			EncAPin:         "GPIO23",
			EncBPin:         "GPIO24",
			ButtonPin:       "GPIO17",
			ButtonActiveLow: true,
			PWMFrequencyHz:  25000,
		},
		CAN: CANConfig{Interface: "can0", Map: "config/can/motor_map.csv", ReplyTimeoutMS: 5},
		Log: LogConfig{Level: "info", File: "position_tuning.log"},
	}
}

// RegisterFlags adds the command line overrides. Only flags the user sets take precedence
// over the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "config/position_tuning.yaml", "YAML config file (missing file is fine)")
	fs.Bool("print-config", false, "print the effective config and exit")
	fs.String("driver", d.Driver, "sim|gpio|can")
	fs.Float64("pid.kp", d.PID.Kp, "position proportional gain")
	fs.Float64("pid.ki", d.PID.Ki, "position integral gain")
	fs.Float64("pid.kd", d.PID.Kd, "position derivative gain")
	fs.Float64("pid.output_limit", d.PID.OutputLimit, "output and integral bound (0 = motor speed scale)")
	fs.String("pid.derivative", string(d.PID.Derivative), "measurement|error")
	fs.Float64("loop.position_extent_deg", d.Loop.PositionExtentDeg, "how far from zero to move, in degrees")
	fs.Float64("loop.rate_hz", d.Loop.RateHz, "control updates per second")
	fs.Int("loop.print_divider", d.Loop.PrintDivider, "print every Nth update inside the print window")
	fs.Bool("loop.reset_on_setpoint", d.Loop.ResetOnSetpoint, "clear PID history when the setpoint flips")
	fs.Float64("sim.duration_s", d.Sim.DurationS, "stop a simulated run after this many seconds (0 = never)")
	fs.String("can.interface", d.CAN.Interface, "SocketCAN interface")
	fs.String("log.level", d.Log.Level, "trace|debug|info|warn|error|critical")
	fs.Bool("log.stderr", d.Log.Stderr, "mirror the log to stderr")
	fs.String("plot", d.Plot, "write a PNG of the response to this path")
}

// LoadConfig layers defaults, the YAML file at path and the flags in fs, then validates.
func LoadConfig(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "yaml"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "load %s", path)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return Config{}, errors.Wrap(err, "load flags")
		}
	}

	var c Config
	if err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return c, nil
}

// Validate rejects anything that would stop the loop from starting safely.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSim, DriverGPIO, DriverCAN:
	default:
		return errors.Errorf("unknown driver %q (want sim, gpio or can)", c.Driver)
	}
	if !(c.Encoder.GearRatio > 0) || !(c.Encoder.BaseCountsPerRev > 0) {
		return errors.Errorf("encoder gear_ratio and base_counts_per_rev must be positive, got %v and %v",
			c.Encoder.GearRatio, c.Encoder.BaseCountsPerRev)
	}
	if err := c.Encoder.Direction.Validate(); err != nil {
		return errors.Wrap(err, "encoder")
	}
	if err := c.Motor.Direction.Validate(); err != nil {
		return errors.Wrap(err, "motor")
	}
	if !(c.Motor.SpeedScale > 0) || math.IsInf(c.Motor.SpeedScale, 0) {
		return errors.Errorf("motor speed_scale must be positive, got %v", c.Motor.SpeedScale)
	}
	if err := c.Loop.Validate(); err != nil {
		return err
	}
	if err := c.PID.Validate(); err != nil {
		return err
	}
	// the integral is held within output_limit, so it must not exceed what the motor accepts
	if c.PID.OutputLimit > c.Motor.SpeedScale {
		return errors.Errorf("pid output_limit (%v) exceeds motor speed_scale (%v)", c.PID.OutputLimit, c.Motor.SpeedScale)
	}
	switch c.Driver {
	case DriverSim:
		if !(c.Sim.MaxSpeedDPS > 0) || !(c.Sim.TimeConstantS > 0) {
			return errors.Errorf("sim needs positive max_speed_dps and time_constant_s")
		}
		if !(c.Sim.DurationS >= 0) || c.Sim.DurationS > maxSimDurationS {
			return errors.Errorf("sim duration_s must be between 0 and %.0f, got %v", maxSimDurationS, c.Sim.DurationS)
		}
	case DriverGPIO:
		if c.GPIO.PWMPin == "" || c.GPIO.DirPin == "" || c.GPIO.EncAPin == "" || c.GPIO.EncBPin == "" {
			return errors.New("gpio needs pwm_pin, dir_pin, enc_a_pin and enc_b_pin")
		}
		if !(c.GPIO.PWMFrequencyHz > 0) {
			return errors.Errorf("gpio pwm_frequency_hz must be positive, got %v", c.GPIO.PWMFrequencyHz)
		}
	case DriverCAN:
		if c.CAN.Interface == "" || c.CAN.Map == "" {
			return errors.New("can needs an interface and a signal map")
		}
		if c.CAN.ReplyTimeoutMS <= 0 {
			return errors.Errorf("can reply_timeout_ms must be positive, got %d", c.CAN.ReplyTimeoutMS)
		}
	}
	return nil
}

// CountsPerRev is encoder transitions per output shaft revolution.
func (c Config) CountsPerRev() float64 {
	return c.Encoder.GearRatio * c.Encoder.BaseCountsPerRev
}

// PIDSettings returns the controller parameters with an unset output limit replaced by the
// motor speed scale, so the integral cannot wind up past what the motor can be told to do.
func (c Config) PIDSettings() control.PIDConfig {
	p := c.PID
	if p.OutputLimit == 0 {
		p.OutputLimit = c.Motor.SpeedScale
	}
	return p
}

func (c Config) simTimeConstant() time.Duration {
	return time.Duration(c.Sim.TimeConstantS * float64(time.Second))
}

// WriteYAML prints the config in the same layout the config file uses.
func (c Config) WriteYAML(w io.Writer) error {
	return yml.NewEncoder(w).Encode(c)
}
