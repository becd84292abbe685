// Package graphs renders exploratory charts of an uploaded record table and
// the evaluation charts of a trained model to PNG files.
//
// Every file is named <prefix><32 hex chars>.png. A batch first removes the
// files left by the previous batch with the same prefix.
package graphs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// Artifact prefixes.
const (
	PrefixGraph           = "graph_"
	PrefixConfusionMatrix = "cm_"
	PrefixROC             = "roc_"
)

// Columns read by the exploratory charts.
const (
	ColumnAge              = "Age"
	ColumnStrokeHistory    = "Stroke History"
	ColumnHypertension     = "Hypertension"
	ColumnDiagnosis        = "Diagnosis"
	ColumnGlucose          = "Average Glucose Level"
	ColumnStress           = "Stress Levels"
	ColumnAlcohol          = "Alcohol Intake"
	ColumnPhysicalActivity = "Physical Activity"
)

// Generator writes charts into Dir.
type Generator struct {
	Dir    string
	Logger log.Logger
	Width  vg.Length
	Height vg.Length
}

// NewGenerator returns a Generator writing 8×5 inch images into dir.
func NewGenerator(dir string) *Generator {
	return &Generator{
		Dir:    dir,
		Logger: log.GetLoggerWithName("graphs"),
		Width:  8 * vg.Inch,
		Height: 5 * vg.Inch,
	}
}

// ArtifactName returns a fresh file name with the given prefix.
func ArtifactName(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
}

type chart struct {
	name   string
	render func(t *dataset.Table) (*plot.Plot, error)
}

// charts lists the exploratory charts in output order.
var charts = []chart{
	{"age_distribution", ageDistribution},
	{"hypertension_diagnosis", hypertensionDiagnosis},
	{"glucose_levels", glucoseLevels},
	{"stress_levels_heatmap", stressLevelsHeatmap},
	{"alcohol_intake", alcoholIntake},
	{"physical_activity_heatmap", physicalActivityHeatmap},
}

// NumCharts is the length of the slice returned by GenerateAll.
var NumCharts = len(charts)

// GenerateAll removes the previous graph_ files and renders the six
// exploratory charts. The result always has NumCharts entries in chart
// order; an entry is the file name inside Dir, or "" when that chart could
// not be produced.
func (g *Generator) GenerateAll(t *dataset.Table) []string {
	g.Logger.Info("Generating exploratory charts", log.PathKey, g.Dir)
	if _, err := g.Cleanup(PrefixGraph); err != nil {
		g.Logger.Error("Failed to remove old charts", err, log.PathKey, g.Dir)
	}

	out := make([]string, len(charts))
	for i, c := range charts {
		name, err := errors.SafeCall("graphs."+c.name, func() (string, error) {
			p, err := c.render(t)
			if err != nil {
				return "", err
			}
			return g.save(p, PrefixGraph, c.name)
		})
		if err != nil {
			g.Logger.Error("Chart failed", err, log.ChartKey, c.name)
			continue
		}
		out[i] = name
	}
	return out
}

// save writes p to a new artifact file in Dir and returns its file name.
func (g *Generator) save(p *plot.Plot, prefix, chartName string) (string, error) {
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "graphs: create output directory")
	}
	name := ArtifactName(prefix)
	path := filepath.Join(g.Dir, name)
	if err := p.Save(g.Width, g.Height, path); err != nil {
		return "", errors.Wrapf(err, "graphs: save %s", chartName)
	}
	g.Logger.Info("Saved chart", log.ChartKey, chartName, log.ArtifactKey, name)
	return name, nil
}

// Cleanup deletes every <prefix>*.png file in Dir for each prefix and
// returns how many were removed. A missing Dir is not an error. Files that
// cannot be removed are logged and skipped.
func (g *Generator) Cleanup(prefixes ...string) (int, error) {
	entries, err := os.ReadDir(g.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "graphs: read output directory")
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") || !hasAnyPrefix(e.Name(), prefixes) {
			continue
		}
		if err := os.Remove(filepath.Join(g.Dir, e.Name())); err != nil {
			g.Logger.Error("Failed to remove chart", err, log.ArtifactKey, e.Name())
			continue
		}
		removed++
		g.Logger.Info("Removed chart", log.ArtifactKey, e.Name())
	}
	return removed, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
