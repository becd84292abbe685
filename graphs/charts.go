package graphs

import (
	"fmt"
	"image/color"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

const (
	ageBins      = 20
	alcoholBins  = 10
	jitterWidth  = 0.2
	jitterSeed   = 0
	barWidth     = 14 // points
	heatmapLevel = 12
)

// StressBuckets are the labels of the stress level groups.
var StressBuckets = []string{"0-2", "2-4", "4-6", "6-8", "8-10"}

// StressBucket returns the index into StressBuckets for v. The first bucket
// is closed on both ends, the rest are (lo, hi]. NaN and values outside
// [0, 10] have no bucket.
func StressBucket(v float64) (int, bool) {
	if math.IsNaN(v) || v < 0 || v > 10 {
		return 0, false
	}
	if v <= 2 {
		return 0, true
	}
	return int(math.Ceil(v/2)) - 1, true
}

func ageDistribution(t *dataset.Table) (*plot.Plot, error) {
	age, err := t.Float(ColumnAge)
	if err != nil {
		return nil, err
	}
	history, err := t.Strings(ColumnStrokeHistory)
	if err != nil {
		return nil, err
	}

	var all, stroke []float64
	for i, a := range age {
		if math.IsNaN(a) {
			continue
		}
		all = append(all, a)
		if history[i] == "1" {
			stroke = append(stroke, a)
		}
	}
	if len(all) == 0 {
		return nil, errors.NewValueError("ageDistribution", "no observed ages")
	}
	maxAge := floats.Max(all)
	if maxAge <= 0 {
		return nil, errors.NewValueError("ageDistribution", "ages must be positive")
	}

	// 重みは Age / max(Age)
	lo := floats.Min(all)
	p := plot.New()
	p.Title.Text = "Age Distribution"
	p.X.Label.Text = "Age"
	p.Y.Label.Text = "Weighted count"

	base := weightedHistogram(all, maxAge, lo, ageBins, plotutil.Color(0))
	p.Add(base)
	p.Legend.Add("All patients", base)
	if len(stroke) > 0 {
		overlay := weightedHistogram(stroke, maxAge, lo, ageBins, withAlpha(plotutil.Color(1), 0x99))
		p.Add(overlay)
		p.Legend.Add("Stroke history", overlay)
	}
	return p, nil
}

func weightedHistogram(values []float64, maxAge, lo float64, n int, fill color.Color) *plotter.Histogram {
	weights := make([]float64, len(values))
	for i, v := range values {
		weights[i] = v / maxAge
	}
	bins := Bins(values, weights, lo, maxAge, n)
	return &plotter.Histogram{
		Bins:      bins,
		Width:     bins[0].Max - bins[0].Min,
		FillColor: fill,
		LineStyle: plotter.DefaultLineStyle,
	}
}

// Bins sums weights into n equal-width bins over [lo, hi]. The last bin is
// closed; values outside the range are ignored. A zero-width range puts
// everything into a single unit bin.
func Bins(values, weights []float64, lo, hi float64, n int) []plotter.HistogramBin {
	if hi <= lo {
		hi = lo + 1
	}
	width := (hi - lo) / float64(n)
	bins := make([]plotter.HistogramBin, n)
	for i := range bins {
		bins[i].Min = lo + float64(i)*width
		bins[i].Max = lo + float64(i+1)*width
	}
	bins[n-1].Max = hi
	for i, v := range values {
		if v < lo || v > hi {
			continue
		}
		b := int((v - lo) / width)
		if b >= n {
			b = n - 1
		}
		bins[b].Weight += weights[i]
	}
	return bins
}

func hypertensionDiagnosis(t *dataset.Table) (*plot.Plot, error) {
	hyp, err := t.Strings(ColumnHypertension)
	if err != nil {
		return nil, err
	}
	diag, err := t.Strings(ColumnDiagnosis)
	if err != nil {
		return nil, err
	}

	groups, cats, counts := Crosstab(diag, hyp)
	if len(cats) == 0 {
		return nil, errors.NewValueError("hypertensionDiagnosis", "no observed values")
	}
	p := plot.New()
	p.Title.Text = "Hypertension vs Diagnosis"
	p.X.Label.Text = "Hypertension"
	p.Y.Label.Text = "Count"
	if err := addGroupedBars(p, groups, counts); err != nil {
		return nil, err
	}
	p.NominalX(cats...)
	return p, nil
}

func glucoseLevels(t *dataset.Table) (*plot.Plot, error) {
	glucose, err := t.Float(ColumnGlucose)
	if err != nil {
		return nil, err
	}
	diag, err := t.Strings(ColumnDiagnosis)
	if err != nil {
		return nil, err
	}

	cats := Categories(diag)
	if len(cats) == 0 {
		return nil, errors.NewValueError("glucoseLevels", "no observed diagnosis")
	}
	index := make(map[string]int, len(cats))
	for i, c := range cats {
		index[c] = i
	}

	rng := rand.New(rand.NewPCG(jitterSeed, jitterSeed))
	points := make([]plotter.XYs, len(cats))
	for i, g := range glucose {
		if math.IsNaN(g) || diag[i] == "" {
			continue
		}
		c := index[diag[i]]
		x := float64(c) + (rng.Float64()*2-1)*jitterWidth
		points[c] = append(points[c], plotter.XY{X: x, Y: g})
	}

	p := plot.New()
	p.Title.Text = "Average Glucose Level by Diagnosis"
	p.X.Label.Text = "Diagnosis"
	p.Y.Label.Text = "Average Glucose Level"
	for c, xys := range points {
		if len(xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(c)
		s.GlyphStyle.Radius = vg.Points(2)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
	}
	p.NominalX(cats...)
	return p, nil
}

func stressLevelsHeatmap(t *dataset.Table) (*plot.Plot, error) {
	stress, err := t.Float(ColumnStress)
	if err != nil {
		return nil, err
	}
	diag, err := t.Strings(ColumnDiagnosis)
	if err != nil {
		return nil, err
	}

	// 毎回生の値からグループを作り直す
	groups := make([]string, len(stress))
	for i, v := range stress {
		if b, ok := StressBucket(v); ok {
			groups[i] = StressBuckets[b]
		}
	}
	rows := Categories(diag)
	if len(rows) == 0 {
		return nil, errors.NewValueError("stressLevelsHeatmap", "no observed diagnosis")
	}
	z := make([][]float64, len(rows))
	for r := range z {
		z[r] = make([]float64, len(StressBuckets))
	}
	rowOf := indexOf(rows)
	colOf := indexOf(StressBuckets)
	for i := range groups {
		if groups[i] == "" || diag[i] == "" {
			continue
		}
		z[rowOf[diag[i]]][colOf[groups[i]]]++
	}

	p := plot.New()
	p.Title.Text = "Stress Levels by Diagnosis"
	p.X.Label.Text = "Stress Level Group"
	p.Y.Label.Text = "Diagnosis"
	if err := addCountHeatmap(p, rows, StressBuckets, z); err != nil {
		return nil, err
	}
	return p, nil
}

func alcoholIntake(t *dataset.Table) (*plot.Plot, error) {
	history, err := t.Strings(ColumnStrokeHistory)
	if err != nil {
		return nil, err
	}

	var values []string
	if t.IsNumeric(ColumnAlcohol) {
		// 数値列は等幅のビンに割り当ててからカテゴリとして数える
		raw, err := t.Float(ColumnAlcohol)
		if err != nil {
			return nil, err
		}
		values = binLabels(raw, alcoholBins)
	} else if values, err = t.Strings(ColumnAlcohol); err != nil {
		return nil, err
	}

	groups, cats, counts := Crosstab(history, values)
	if len(cats) == 0 {
		return nil, errors.NewValueError("alcoholIntake", "no observed values")
	}
	p := plot.New()
	p.Title.Text = "Alcohol Intake by Stroke History"
	p.X.Label.Text = "Alcohol Intake"
	p.Y.Label.Text = "Count"
	if err := addGroupedBars(p, groups, counts); err != nil {
		return nil, err
	}
	p.NominalX(cats...)
	return p, nil
}

// binLabels maps each value to the label "lo-hi" of its equal-width bin.
// Labels are zero padded so that they sort in bin order.
func binLabels(values []float64, n int) []string {
	var observed []float64
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	out := make([]string, len(values))
	if len(observed) == 0 {
		return out
	}
	lo, hi := floats.Min(observed), floats.Max(observed)
	bins := Bins(nil, nil, lo, hi, n)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		b := int((v - bins[0].Min) / (bins[0].Max - bins[0].Min))
		if b >= n {
			b = n - 1
		}
		out[i] = fmt.Sprintf("%02d: %.1f-%.1f", b, bins[b].Min, bins[b].Max)
	}
	return out
}

func physicalActivityHeatmap(t *dataset.Table) (*plot.Plot, error) {
	activity, err := t.Strings(ColumnPhysicalActivity)
	if err != nil {
		return nil, err
	}
	history, err := t.Strings(ColumnStrokeHistory)
	if err != nil {
		return nil, err
	}

	rows, cols, z := Crosstab(activity, history)
	if len(rows) == 0 || len(cols) == 0 {
		return nil, errors.NewValueError("physicalActivityHeatmap", "no observed values")
	}
	p := plot.New()
	p.Title.Text = "Physical Activity vs Stroke History"
	p.X.Label.Text = "Stroke History"
	p.Y.Label.Text = "Physical Activity"
	if err := addCountHeatmap(p, rows, cols, z); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfusionMatrixChart renders cm (rows true, columns predicted) as an
// annotated heat map and saves it to path.
func ConfusionMatrixChart(cm mat.Matrix, labels []string, path string) error {
	r, c := cm.Dims()
	if len(labels) == 0 {
		return errors.NewValueError("ConfusionMatrixChart", "no class labels")
	}
	if r != len(labels) || c != len(labels) {
		return errors.NewDimensionError("ConfusionMatrixChart", len(labels), r, 0)
	}
	z := make([][]float64, r)
	for i := range z {
		z[i] = mat.Row(nil, i, cm)
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"
	if err := addCountHeatmap(p, labels, labels, z); err != nil {
		return err
	}
	return errors.Wrap(p.Save(6*vg.Inch, 5*vg.Inch, path), "graphs: save confusion matrix")
}

// ROCChart draws the ROC curve with the chance diagonal and saves it to
// path.
func ROCChart(fpr, tpr []float64, auc float64, path string) error {
	if len(fpr) != len(tpr) {
		return errors.NewDimensionError("ROCChart", len(fpr), len(tpr), 0)
	}
	if len(fpr) == 0 {
		return errors.NewValueError("ROCChart", "empty curve")
	}
	curve := make(plotter.XYs, len(fpr))
	for i := range fpr {
		curve[i] = plotter.XY{X: fpr[i], Y: tpr[i]}
	}

	p := plot.New()
	p.Title.Text = "Receiver Operating Characteristic"
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1.05

	line, err := plotter.NewLine(curve)
	if err != nil {
		return err
	}
	line.LineStyle.Color = color.RGBA{R: 0xff, G: 0x8c, A: 0xff}
	line.LineStyle.Width = vg.Points(2)

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return err
	}
	chance.LineStyle.Color = color.RGBA{B: 0x80, A: 0xff}
	chance.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}

	p.Add(line, chance)
	p.Legend.Add(fmt.Sprintf("ROC curve (area = %.2f)", auc), line)
	p.Legend.Left = false
	p.Legend.Top = false
	return errors.Wrap(p.Save(6*vg.Inch, 5*vg.Inch, path), "graphs: save ROC curve")
}

// Categories returns the distinct non-empty values in sorted order.
func Categories(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Crosstab counts pairs (a[i], b[i]) with both values present. counts[r][c]
// is the number of rows with a == rows[r] and b == cols[c].
func Crosstab(a, b []string) (rows, cols []string, counts [][]float64) {
	var ka, kb []string
	for i := range a {
		if a[i] != "" && b[i] != "" {
			ka = append(ka, a[i])
			kb = append(kb, b[i])
		}
	}
	rows, cols = Categories(ka), Categories(kb)
	rowOf, colOf := indexOf(rows), indexOf(cols)
	counts = make([][]float64, len(rows))
	for r := range counts {
		counts[r] = make([]float64, len(cols))
	}
	for i := range ka {
		counts[rowOf[ka[i]]][colOf[kb[i]]]++
	}
	return rows, cols, counts
}

func indexOf(values []string) map[string]int {
	m := make(map[string]int, len(values))
	for i, v := range values {
		m[v] = i
	}
	return m
}

// addGroupedBars draws one bar series per group, side by side over the
// shared categories. counts[g][c] is the height of category c in group g.
func addGroupedBars(p *plot.Plot, groups []string, counts [][]float64) error {
	w := vg.Points(barWidth)
	for g, name := range groups {
		bars, err := plotter.NewBarChart(plotter.Values(counts[g]), w)
		if err != nil {
			return err
		}
		bars.Color = plotutil.Color(g)
		bars.LineStyle.Width = vg.Length(0)
		bars.Offset = vg.Length(float64(g)-float64(len(groups)-1)/2) * w
		p.Add(bars)
		p.Legend.Add(name, bars)
	}
	p.Legend.Top = true
	return nil
}

// countGrid presents a count table as a heat map grid with rows[0] on top.
type countGrid struct {
	z [][]float64
}

func (g countGrid) Dims() (c, r int)   { return len(g.z[0]), len(g.z) }
func (g countGrid) Z(c, r int) float64 { return g.z[len(g.z)-1-r][c] }
func (g countGrid) X(c int) float64    { return float64(c) }
func (g countGrid) Y(r int) float64    { return float64(r) }

// addCountHeatmap adds a heat map of z with every cell annotated with its
// count. The first row is drawn at the top.
func addCountHeatmap(p *plot.Plot, rows, cols []string, z [][]float64) error {
	grid := countGrid{z: z}
	hm := plotter.NewHeatMap(grid, palette.Heat(heatmapLevel, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	var xys plotter.XYs
	var labels []string
	for r := range z {
		for c := range z[r] {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(len(z) - 1 - r)})
			labels = append(labels, strconv.FormatFloat(z[r][c], 'f', -1, 64))
		}
	}
	annot, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return err
	}
	for i := range annot.TextStyle {
		annot.TextStyle[i].XAlign = draw.XCenter
		annot.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(annot)

	bottomUp := make([]string, len(rows))
	for i, r := range rows {
		bottomUp[len(rows)-1-i] = r
	}
	p.NominalX(cols...)
	p.NominalY(bottomUp...)
	return nil
}

func withAlpha(c color.Color, a uint8) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: a}
}
