package main

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"

	"motor-position-tuning/hardware/button"
	"motor-position-tuning/hardware/candrive"
	"motor-position-tuning/hardware/encoder"
	"motor-position-tuning/hardware/gpio"
	"motor-position-tuning/hardware/motor"
	"motor-position-tuning/hardware/sim"
	"motor-position-tuning/position_tuning/control"
	"motor-position-tuning/utils"
)

// maxTraceSamples caps the plot trace at ten minutes of 100 Hz samples.
const maxTraceSamples = 60000

// hardwareDriver is what every backend provides: a duty-cycle motor driver and a pulse counter.
type hardwareDriver interface {
	motor.Driver
	encoder.Counter
}

type Runner struct {
	cfg   Config
	log   *utils.Logger
	clk   clock.Clock
	loop  *control.Loop
	pacer *control.FixedRatePacer
	trace *control.Trace

	closers []func() error
}

// NewRunner builds the collaborators for cfg.Driver. Diagnostic lines go to out; a line read
// from in stops the run. Resources acquired before a failure are released.
func NewRunner(ctx context.Context, cfg Config, log *utils.Logger, out io.Writer, in io.Reader) (r *Runner, err error) {
	run := &Runner{cfg: cfg, log: log, clk: clock.New()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, run.Close())
		}
	}()
	r = run

	var exits button.Any
	if in != nil {
		exits = append(exits, button.NewLineTrigger(in))
	}

	var drv hardwareDriver
	switch cfg.Driver {
	case DriverSim:
		plant, err := sim.NewPlant(r.clk, sim.Config{
			MaxSpeedDPS:  cfg.Sim.MaxSpeedDPS,
			TimeConstant: cfg.simTimeConstant(),
			CountsPerRev: cfg.CountsPerRev(),
			StartDegrees: cfg.Sim.StartDeg,
		})
		if err != nil {
			return nil, err
		}
		drv = plant
		exits = append(exits, sim.NewDeadlineTrigger(r.clk, time.Duration(cfg.Sim.DurationS*float64(time.Second))))
		log.Info("Simulated motor: max=%.0f deg/s tau=%.3fs", cfg.Sim.MaxSpeedDPS, cfg.Sim.TimeConstantS)

	case DriverGPIO:
		gdrv, btn, err := r.openGPIO(cfg.GPIO)
		if err != nil {
			return nil, err
		}
		drv = gdrv
		if btn != nil {
			exits = append(exits, btn)
		}

	case DriverCAN:
		drive, err := r.openCAN(ctx, cfg.CAN)
		if err != nil {
			return nil, err
		}
		drv = drive

	default:
		return nil, errors.Errorf("unknown driver %q", cfg.Driver)
	}

	enc, err := encoder.New(drv, encoder.Config{Direction: cfg.Encoder.Direction, CountsPerRev: cfg.CountsPerRev()})
	if err != nil {
		return nil, err
	}
	if cfg.Encoder.ZeroOnStart {
		if err := enc.Zero(); err != nil {
			return nil, errors.Wrap(err, "zero encoder")
		}
	}
	mot, err := motor.New(drv, motor.Config{Direction: cfg.Motor.Direction, SpeedScale: cfg.Motor.SpeedScale})
	if err != nil {
		return nil, err
	}

	r.pacer, err = control.NewFixedRatePacer(r.clk, cfg.Loop.Period())
	if err != nil {
		return nil, err
	}
	if cfg.Plot != "" {
		r.trace = control.NewTrace(maxTraceSamples)
	}

	r.loop, err = control.NewLoop(cfg.Loop, cfg.PIDSettings(), control.LoopDeps{
		Encoder: enc,
		Motor:   mot,
		Exit:    exits,
		Pacer:   r.pacer,
		Output:  out,
		Trace:   r.trace,
		Log:     log.Named("loop"),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) openGPIO(cfg GPIOConfig) (hardwareDriver, *gpio.Button, error) {
	if err := gpio.Init(); err != nil {
		return nil, nil, err
	}
	freq := physic.Frequency(cfg.PWMFrequencyHz * float64(physic.Hertz))

	drv, err := gpio.NewDriver(cfg.PWMPin, cfg.DirPin, freq)
	if err != nil {
		return nil, nil, err
	}
	r.closers = append(r.closers, drv.Close)

	counter, err := gpio.NewQuadratureCounter(cfg.EncAPin, cfg.EncBPin, r.clk)
	if err != nil {
		return nil, nil, err
	}
	r.closers = append(r.closers, counter.Close)

	var btn *gpio.Button
	if cfg.ButtonPin != "" {
		if btn, err = gpio.NewButton(cfg.ButtonPin, cfg.ButtonActiveLow); err != nil {
			return nil, nil, err
		}
	}
	r.log.Info("GPIO motor: pwm=%s dir=%s enc=%s/%s button=%q pwm_freq=%s",
		cfg.PWMPin, cfg.DirPin, cfg.EncAPin, cfg.EncBPin, cfg.ButtonPin, freq)
	return gpioDriver{drv, counter}, btn, nil
}

// gpioDriver joins the PWM driver and the software quadrature counter into one backend.
type gpioDriver struct {
	*gpio.Driver
	*gpio.QuadratureCounter
}

func (r *Runner) openCAN(ctx context.Context, cfg CANConfig) (*candrive.Drive, error) {
	cmap, err := utils.LoadCANMap(cfg.Map)
	if err != nil {
		return nil, errors.Wrap(err, "load can map")
	}
	conn, err := utils.DialSocketCAN(ctx, cfg.Interface)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.ReplyTimeoutMS) * time.Millisecond
	drive, err := candrive.New(conn, cmap, r.clk, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	r.closers = append(r.closers, drive.Close)
	r.log.Info("CAN motor: iface=%s map=%s frames=%v reply_timeout=%s",
		cfg.Interface, cfg.Map, cmap.FrameNames(), timeout)
	return drive, nil
}

// Run drives the tuning loop until it stops, then reports timing and writes the plot.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.cfg
	r.log.Info("Starting: driver=%s counts_per_rev=%.0f speed_scale=%.2f kp=%g ki=%g kd=%g derivative=%s",
		cfg.Driver, cfg.CountsPerRev(), cfg.Motor.SpeedScale, cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.PID.Derivative)

	err := r.loop.Run(ctx)

	if n, worst := r.pacer.Overruns(); n > 0 {
		r.log.Warn("%d of %d ticks overran the %s period (worst by %s)", n, r.loop.Ticks(), cfg.Loop.Period(), worst)
	}
	for i, s := range r.loop.Steps() {
		r.log.Debug("step %d: %.1f -> %.1f overshoot=%.1f%% final_err=%.2f", i+1, s.From, s.To, s.OvershootPct, s.FinalError)
	}
	if r.trace != nil && r.trace.Len() > 0 {
		if perr := WritePlot(cfg.Plot, r.trace, cfg.Loop.SpeedPrintScale); perr != nil {
			r.log.Error("Plot failed: %v", perr)
			err = multierr.Append(err, perr)
		} else {
			r.log.Info("Wrote %s (%d samples)", cfg.Plot, r.trace.Len())
		}
	}
	return err
}

// Loop exposes the control loop for inspection after Run.
func (r *Runner) Loop() *control.Loop {
	return r.loop
}

// Close releases hardware in reverse order of acquisition.
func (r *Runner) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	r.closers = nil
	return err
}
