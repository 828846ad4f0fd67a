package main

import (
	"bufio"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"motor-position-tuning/position_tuning/control"
)

var (
	positionColor = color.RGBA{R: 40, G: 140, B: 255, A: 255}
	setpointColor = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	speedColor    = color.RGBA{R: 230, G: 90, B: 40, A: 255}
)

// WritePlot renders position, setpoint and scaled speed against time, the same three traces
// the diagnostic lines carry, as a PNG.
func WritePlot(path string, tr *control.Trace, speedScale float64) error {
	if tr.Len() == 0 {
		return errors.New("plot: empty trace")
	}
	p := plot.New()
	p.Title.Text = "Position step response"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "degrees"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	speed := make([]float64, tr.Len())
	for i, s := range tr.Speed {
		speed[i] = s * speedScale
	}
	for _, series := range []struct {
		name  string
		ys    []float64
		color color.Color
		dash  bool
	}{
		{"Pos SP", tr.Setpoint, setpointColor, true},
		{"Pos", tr.Position, positionColor, false},
		{"Speed", speed, speedColor, false},
	} {
		line, err := plotter.NewLine(xys(tr.T, series.ys))
		if err != nil {
			return errors.Wrapf(err, "plot %s", series.name)
		}
		line.LineStyle.Color = series.color
		line.LineStyle.Width = vg.Points(1.5)
		if series.dash {
			line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		}
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	return savePNG(p, 10, 5, path)
}

func xys(xs, ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	return pts
}

func savePNG(p *plot.Plot, widthIn, heightIn float64, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "plot directory")
		}
	}
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create plot")
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return errors.Wrap(err, "write plot")
	}
	return bw.Flush()
}
