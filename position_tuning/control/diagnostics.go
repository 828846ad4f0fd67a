package control

import (
	"fmt"
	"io"
)

// Diagnostics prints one line per selected tick in a form serial plotters can graph:
//
//	Pos = 12.600, Pos SP = 90.000, Speed = 54.000
//
// Only the first printTicks ticks of each window are eligible, and of those only the ones where
// the decimation counter is zero. The counter runs freely across windows.
type Diagnostics struct {
	w          io.Writer
	printTicks int
	divider    int
	speedScale float64

	count int
	lines int
}

// NewDiagnostics writes to w; a nil w only counts ticks.
func NewDiagnostics(w io.Writer, printTicks, divider int, speedScale float64) *Diagnostics {
	if divider < 1 {
		divider = 1
	}
	return &Diagnostics{w: w, printTicks: printTicks, divider: divider, speedScale: speedScale}
}

// Record is called exactly once per tick and reports whether a line was written.
func (d *Diagnostics) Record(windowTick int, position, setpoint, speed float64) (bool, error) {
	emit := windowTick < d.printTicks && d.count == 0
	d.count = (d.count + 1) % d.divider
	if !emit || d.w == nil {
		return false, nil
	}
	if _, err := fmt.Fprintf(d.w, "Pos = %.3f, Pos SP = %.3f, Speed = %.3f\n",
		position, setpoint, speed*d.speedScale); err != nil {
		return false, err
	}
	d.lines++
	return true, nil
}

// Lines is the number of lines written so far.
func (d *Diagnostics) Lines() int {
	return d.lines
}
