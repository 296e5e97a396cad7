package regress

import (
	"image/color"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WriteScatter writes a predicted-vs-actual scatter PNG for one evaluated
// model, with the identity line for reference. Format follows the path
// extension.
func WriteScatter(path, title string, actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return eris.Errorf("regress: %d actual values but %d predictions", len(actual), len(predicted))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "actual cost_of_living"
	p.Y.Label.Text = "predicted"

	xys := make(plotter.XYs, len(actual))
	for i := range actual {
		xys[i] = plotter.XY{X: actual[i], Y: predicted[i]}
	}

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return eris.Wrap(err, "regress: build scatter")
	}
	sc.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	sc.GlyphStyle.Radius = vg.Points(2)
	p.Add(sc)

	// Perfect-prediction diagonal. The target lives in [0,1].
	diag := plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}}
	line, err := plotter.NewLine(diag)
	if err != nil {
		return eris.Wrap(err, "regress: build identity line")
	}
	line.Color = color.RGBA{R: 120, G: 120, B: 120, A: 180}
	line.Width = vg.Points(0.8)
	p.Add(line)

	p.Add(plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return eris.Wrapf(err, "regress: save plot %s", path)
	}
	return nil
}
