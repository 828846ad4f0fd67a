// Package encoder turns raw quadrature counts into angular position and velocity samples.
package encoder

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"motor-position-tuning/hardware"
)

// RawCapture is what a pulse counter reports at one instant.
type RawCapture struct {
	// Count is the cumulative number of quadrature transitions (every edge of A and B).
	Count int64
	// LastEdge is when Count last changed.
	LastEdge time.Time
	// Now is the capture instant.
	Now time.Time
}

// Counter is the pulse counting hardware.
type Counter interface {
	Read() (RawCapture, error)
}

// Config is fixed at construction.
type Config struct {
	Direction hardware.Direction
	// CountsPerRev is transitions per revolution of the output shaft (gear ratio × motor counts).
	CountsPerRev float64
}

// Sample is one position/velocity reading taken at a single capture instant.
type Sample struct {
	Count            int64
	Delta            int64
	Degrees          float64
	DegreesPerSecond float64
}

// Revolutions returns the position in whole-shaft turns.
func (s Sample) Revolutions() float64 {
	return s.Degrees / 360
}

// Reader converts counter captures into samples.
//
// Velocity is measured between transition edges rather than over the capture interval, so a
// shaft moving slower than one count per tick does not alternate between zero and a spike.
// While no transition arrives the estimate decays as one count over the time since the last
// edge, instead of snapping to zero.
type Reader struct {
	counter     Counter
	sign        int64
	degPerCount float64
	offset      int64

	primed    bool
	lastCount int64
	lastEdge  time.Time
	lastNow   time.Time
	lastRate  float64 // counts per second
}

// New validates cfg and returns a Reader over counter.
func New(counter Counter, cfg Config) (*Reader, error) {
	if counter == nil {
		return nil, errors.New("encoder needs a counter")
	}
	if err := cfg.Direction.Validate(); err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	if !(cfg.CountsPerRev > 0) || math.IsInf(cfg.CountsPerRev, 0) {
		return nil, errors.Errorf("encoder counts per rev must be positive and finite, got %v", cfg.CountsPerRev)
	}
	return &Reader{
		counter:     counter,
		sign:        int64(cfg.Direction.Sign()),
		degPerCount: 360 / cfg.CountsPerRev,
	}, nil
}

// Capture reads the counter once. A read failure is returned as is; the previous sample is
// never substituted.
func (r *Reader) Capture() (Sample, error) {
	raw, err := r.counter.Read()
	if err != nil {
		return Sample{}, errors.Wrap(err, "read counter")
	}
	count := raw.Count*r.sign - r.offset

	if !r.primed {
		r.primed = true
		r.lastCount = count
		r.lastEdge = raw.LastEdge
		r.lastNow = raw.Now
		return Sample{Count: count, Degrees: float64(count) * r.degPerCount}, nil
	}

	delta := count - r.lastCount
	var rate float64
	if delta != 0 {
		span := raw.LastEdge.Sub(r.lastEdge)
		if span <= 0 {
			// counter without edge timestamps
			span = raw.Now.Sub(r.lastNow)
		}
		if span > 0 {
			rate = float64(delta) / span.Seconds()
		}
		r.lastEdge = raw.LastEdge
	} else if since := raw.Now.Sub(r.lastEdge).Seconds(); since > 0 {
		bound := 1 / since
		rate = math.Copysign(math.Min(math.Abs(r.lastRate), bound), r.lastRate)
	}

	r.lastCount = count
	r.lastNow = raw.Now
	r.lastRate = rate

	return Sample{
		Count:            count,
		Delta:            delta,
		Degrees:          float64(count) * r.degPerCount,
		DegreesPerSecond: rate * r.degPerCount,
	}, nil
}

// Zero makes the current shaft position read as 0 degrees. Velocity tracking carries on.
func (r *Reader) Zero() error {
	raw, err := r.counter.Read()
	if err != nil {
		return errors.Wrap(err, "read counter")
	}
	count := raw.Count * r.sign
	if r.primed {
		r.lastCount -= count - r.offset
	}
	r.offset = count
	return nil
}

// DegreesPerCount is the position resolution.
func (r *Reader) DegreesPerCount() float64 {
	return r.degPerCount
}
