package control

// Trace keeps per-tick values for plotting after the run. Once full it stops recording
// rather than growing without bound.
type Trace struct {
	T        []float64
	Position []float64
	Setpoint []float64
	Speed    []float64
	max      int
}

// NewTrace keeps at most maxSamples ticks; 0 means no limit.
func NewTrace(maxSamples int) *Trace {
	return &Trace{max: maxSamples}
}

// Add records one tick.
func (t *Trace) Add(sec, position, setpoint, speed float64) {
	if t.max > 0 && len(t.T) >= t.max {
		return
	}
	t.T = append(t.T, sec)
	t.Position = append(t.Position, position)
	t.Setpoint = append(t.Setpoint, setpoint)
	t.Speed = append(t.Speed, speed)
}

// Len is the number of recorded ticks.
func (t *Trace) Len() int {
	return len(t.T)
}
