package control

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"motor-position-tuning/hardware/encoder"
	"motor-position-tuning/utils"
)

// EncoderReader captures the shaft position and velocity at one instant.
type EncoderReader interface {
	Capture() (encoder.Sample, error)
}

// Actuator is the speed-commanded motor.
type Actuator interface {
	SetSpeed(speed float64) error
	Speed() float64
	Enable() error
	Disable() error
}

// ExitTrigger is polled before every tick and again before the pacing sleep.
type ExitTrigger interface {
	Triggered() (bool, error)
}

// Pacer holds the loop to its sample period.
type Pacer interface {
	Start()
	Wait(ctx context.Context) error
}

// LoopDeps are the collaborators a Loop sequences. Output and Trace are optional.
type LoopDeps struct {
	Encoder EncoderReader
	Motor   Actuator
	Exit    ExitTrigger
	Pacer   Pacer
	Output  io.Writer
	Trace   *Trace
	Log     *utils.Logger
}

// Loop runs the position tuning exercise: every tick it reads the encoder, runs the PID,
// commands the motor and prints diagnostics, and at each window boundary it flips the setpoint.
type Loop struct {
	cfg    LoopConfig
	deps   LoopDeps
	log    *utils.Logger
	period float64

	pid   *PID
	sched *Scheduler
	diag  *Diagnostics
	steps *StepAnalyzer

	stepOpen bool
	ticks    int
	results  []StepMetrics
}

// NewLoop validates the configuration and builds the controller. Nothing is commanded until Run.
func NewLoop(cfg LoopConfig, pidCfg PIDConfig, deps LoopDeps) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Encoder == nil || deps.Motor == nil || deps.Exit == nil || deps.Pacer == nil {
		return nil, errors.New("loop needs an encoder, a motor, an exit trigger and a pacer")
	}
	log := deps.Log
	if log == nil {
		log = utils.NewNopLogger()
	}

	pid, err := NewPID(pidCfg, cfg.Period())
	if err != nil {
		return nil, err
	}
	period := cfg.Period().Seconds()
	sched, err := NewScheduler(pid, cfg.PositionExtentDeg, cfg.WindowTicks(), period, cfg.ResetOnSetpoint)
	if err != nil {
		return nil, err
	}

	return &Loop{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		period: period,
		pid:    pid,
		sched:  sched,
		diag:   NewDiagnostics(deps.Output, cfg.PrintTicks(), cfg.PrintDivider, cfg.SpeedPrintScale),
		steps:  NewStepAnalyzer(period, cfg.WindowTicks()),
	}, nil
}

// Run enables the motor and ticks until the exit trigger fires, ctx is done, or a collaborator
// fails. The motor is disabled before Run returns on every path. Stopping on the trigger or
// on ctx returns nil.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		if derr := l.deps.Motor.Disable(); derr != nil {
			err = multierr.Append(err, collaboratorErr("motor", "disable", derr))
		}
		l.log.Info("Motor disabled after %d ticks", l.ticks)
	}()

	if err := l.deps.Motor.Enable(); err != nil {
		return collaboratorErr("motor", "enable", err)
	}
	l.log.Info("Tuning started: rate=%.0f Hz window=%d ticks extent=%.1f deg Kp=%g Ki=%g Kd=%g",
		l.cfg.RateHz, l.cfg.WindowTicks(), l.cfg.PositionExtentDeg,
		l.pid.cfg.Kp, l.pid.cfg.Ki, l.pid.cfg.Kd)

	l.deps.Pacer.Start()
	for {
		if ctx.Err() != nil {
			l.log.Warn("Context canceled; stopping")
			return nil
		}
		if stop, err := l.exitRequested(); stop || err != nil {
			return err
		}

		if err := l.tick(); err != nil {
			l.log.Error("Tick %d failed: %v", l.ticks, err)
			return err
		}

		// a trigger raised during the tick stops the loop before it sleeps again
		if stop, err := l.exitRequested(); stop || err != nil {
			return err
		}
		if err := l.deps.Pacer.Wait(ctx); err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "pace")
		}
	}
}

func (l *Loop) exitRequested() (bool, error) {
	fired, err := l.deps.Exit.Triggered()
	if err != nil {
		return true, collaboratorErr("exit trigger", "poll", err)
	}
	if fired {
		l.log.Info("Exit requested; stopping")
	}
	return fired, nil
}

func (l *Loop) tick() error {
	sample, err := l.deps.Encoder.Capture()
	if err != nil {
		return collaboratorErr("encoder", "capture", err)
	}

	out := l.pid.Calculate(sample.Degrees, sample.DegreesPerSecond)
	if err := l.deps.Motor.SetSpeed(out); err != nil {
		return collaboratorErr("motor", "set speed", err)
	}
	speed := l.deps.Motor.Speed()
	setpoint := l.pid.Setpoint

	if _, err := l.diag.Record(l.sched.WindowTick(), sample.Degrees, setpoint, speed); err != nil {
		return collaboratorErr("diagnostics", "write", err)
	}
	if l.deps.Trace != nil {
		l.deps.Trace.Add(float64(l.ticks)*l.period, sample.Degrees, setpoint, speed)
	}
	if !l.stepOpen {
		l.steps.Begin(sample.Degrees, setpoint)
		l.stepOpen = true
	}
	l.steps.Add(sample.Degrees)

	if l.log.Enabled(utils.TRACE) {
		d := l.pid.GetDiagnostics()
		l.log.Trace("tick=%d pos=%.2f vel=%.1f err=%.2f P=%.3f I=%.3f D=%.3f out=%.3f",
			l.ticks, sample.Degrees, sample.DegreesPerSecond, d.Error, d.P, d.I, d.D, d.Output)
	}

	l.ticks++
	if l.sched.Advance() {
		l.finishStep()
		l.log.Debug("Setpoint now %.1f deg", l.pid.Setpoint)
	}
	return nil
}

func (l *Loop) finishStep() {
	l.stepOpen = false
	m, ok := l.steps.Finish()
	if !ok {
		return
	}
	l.results = append(l.results, m)
	l.log.Info("Step %.1f -> %.1f: overshoot=%.1f%% rise=%s settle=%s final_err=%.2f deg rms_err=%.2f deg",
		m.From, m.To, m.OvershootPct, seconds(m.RiseTime), seconds(m.SettlingTime), m.FinalError, m.RMSError)
}

func seconds(s float64) string {
	if math.IsNaN(s) {
		return "n/a"
	}
	return fmt.Sprintf("%.3fs", s)
}

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() int {
	return l.ticks
}

// Steps returns the graded response of every completed window.
func (l *Loop) Steps() []StepMetrics {
	return l.results
}

// PID exposes the controller for inspection.
func (l *Loop) PID() *PID {
	return l.pid
}

// DiagnosticLines is the number of diagnostic lines printed.
func (l *Loop) DiagnosticLines() int {
	return l.diag.Lines()
}
