package control

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bands used to grade a step response.
const (
	riseLow      = 0.1
	riseHigh     = 0.9
	settleBand   = 0.02
	minStepWidth = 1e-9
)

// StepMetrics summarises the response to one setpoint step.
// Times are seconds from the first tick of the window; NaN means the event never happened.
type StepMetrics struct {
	From, To     float64
	OvershootPct float64
	RiseTime     float64
	SettlingTime float64
	FinalError   float64
	RMSError     float64
	Samples      int
}

// StepAnalyzer collects positions for one window at a time.
type StepAnalyzer struct {
	period float64

	from, to float64
	pos      []float64
}

// NewStepAnalyzer grades steps sampled every period seconds.
func NewStepAnalyzer(period float64, capacity int) *StepAnalyzer {
	return &StepAnalyzer{period: period, pos: make([]float64, 0, capacity)}
}

// Begin starts a new step from the current position towards target.
func (a *StepAnalyzer) Begin(from, to float64) {
	a.from, a.to = from, to
	a.pos = a.pos[:0]
}

// Add records the position measured on one tick.
func (a *StepAnalyzer) Add(position float64) {
	a.pos = append(a.pos, position)
}

// Finish grades the collected window. It reports false when there is nothing to grade, for
// example when the shaft already sat on the new setpoint.
func (a *StepAnalyzer) Finish() (StepMetrics, bool) {
	n := len(a.pos)
	step := a.to - a.from
	if n == 0 || math.Abs(step) < minStepWidth {
		return StepMetrics{}, false
	}

	// normalise so the response runs from 0 towards 1 whichever way the step goes
	norm := make([]float64, n)
	copy(norm, a.pos)
	floats.AddConst(-a.from, norm)
	floats.Scale(1/step, norm)

	m := StepMetrics{
		From:         a.from,
		To:           a.to,
		OvershootPct: math.Max(0, floats.Max(norm)-1) * 100,
		RiseTime:     math.NaN(),
		SettlingTime: math.NaN(),
		FinalError:   a.to - a.pos[n-1],
		Samples:      n,
	}

	lo, hi := -1, -1
	for i, y := range norm {
		if lo < 0 && y >= riseLow {
			lo = i
		}
		if hi < 0 && y >= riseHigh {
			hi = i
			break
		}
	}
	if lo >= 0 && hi >= 0 {
		m.RiseTime = float64(hi-lo) * a.period
	}

	last := -1
	for i := n - 1; i >= 0; i-- {
		if math.Abs(norm[i]-1) > settleBand {
			last = i
			break
		}
	}
	if last < n-1 {
		m.SettlingTime = float64(last+1) * a.period
	}

	sq := make([]float64, n)
	for i, p := range a.pos {
		e := a.to - p
		sq[i] = e * e
	}
	m.RMSError = math.Sqrt(stat.Mean(sq, nil))
	return m, true
}
