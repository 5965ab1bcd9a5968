package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

var (
	commandHistoryColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	futureColor         = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	stateHistoryColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// PlotSample draws one joint of a sample against time relative to the
// sample position: command and state histories before zero, the future
// commands from zero on. Angles are plotted in radians as recorded.
func PlotSample(w io.Writer, s *dataset.Sample, joint string, rateHz float64) error {
	j, ok := schema.JointIndex(joint)
	if !ok {
		return fmt.Errorf("unknown joint %q", joint)
	}
	if rateHz <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %v", rateHz)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Recording %d position %d: %s", s.RecordingID, s.Position, joint)
	p.X.Label.Text = "Time from sample (s)"
	p.Y.Label.Text = "Angle (rad)"

	for _, series := range []struct {
		name  string
		rows  []schema.JointVector
		start int
		color color.Color
	}{
		{"command history", s.JointCommandHistory, -len(s.JointCommandHistory), commandHistoryColor},
		{"joint state history", s.JointStateHistory, -len(s.JointStateHistory), stateHistoryColor},
		{"future commands", s.JointCommand, 0, futureColor},
	} {
		if len(series.rows) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(series.rows))
		for i, v := range series.rows {
			pts[i] = plotter.XY{
				X: float64(series.start+i) / rateHz,
				Y: schema.DenormalizeAngle(v[j]),
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", series.name, err)
		}
		line.Color = series.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
