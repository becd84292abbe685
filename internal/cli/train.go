package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/internal/history"
	"github.com/YuminosukeSato/strokeguard/internal/pipeline"
	"github.com/YuminosukeSato/strokeguard/predictor"
)

// cliSessionID marks runs recorded from the command line.
const cliSessionID = "cli"

type trainFlags struct {
	data      string
	modelType string
	params    string
	out       string
	chartsDir string
	asJSON    bool
}

func (a *app) trainCommand() *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on a CSV file and save it",
		Example: `  strokeguard train --data patients.csv --model SVM
  strokeguard train --data patients.csv --params "{'n_estimators': [50, 100]}"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.train(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.data, "data", "", "CSV file with patient records")
	cmd.Flags().StringVar(&f.modelType, "model", string(predictor.RandomForest), "RandomForest, SVM or GradientBoosting")
	cmd.Flags().StringVar(&f.params, "params", "", "hyperparameter grid, e.g. {'max_depth': [5, 10]}")
	cmd.Flags().StringVar(&f.out, "out", "", "model file (default is model_path from config)")
	cmd.Flags().StringVar(&f.chartsDir, "charts", "", "also write the confusion matrix and ROC charts to this directory")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print metrics as JSON")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) train(cmd *cobra.Command, f trainFlags) error {
	kind, err := predictor.ParseKind(f.modelType)
	if err != nil {
		return err
	}
	grid, err := predictor.ParseGrid(kind, f.params)
	if err != nil {
		return err
	}
	table, err := dataset.LoadFile(f.data, dataset.Schema{Numeric: a.cfg.NumericColumns})
	if err != nil {
		return err
	}

	m, heldOut, err := pipeline.Train(a.cfg, table, kind, grid)
	if err != nil {
		return err
	}
	out := f.out
	if out == "" {
		out = a.cfg.ModelPath
	}
	if err := m.Save(out); err != nil {
		return err
	}

	var charts map[string]string
	if f.chartsDir != "" {
		if charts, err = m.GeneratePredictionGraphs(heldOut, f.chartsDir); err != nil {
			return err
		}
	}

	if a.cfg.DatabaseDSN != "" {
		if err := recordRun(cmd, a.cfg.DatabaseDSN, m.Metrics, charts); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if f.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m.Metrics)
	}
	printMetrics(w, m.Metrics, out, charts)
	return nil
}

func recordRun(cmd *cobra.Command, dsn string, m *predictor.Metrics, charts map[string]string) error {
	hist, err := history.Open(dsn)
	if err != nil {
		return err
	}
	defer hist.Close()
	if err := hist.Migrate(); err != nil {
		return err
	}
	run, err := history.NewRun(cliSessionID, m, charts)
	if err != nil {
		return err
	}
	return hist.Record(cmd.Context(), run)
}

func printMetrics(w io.Writer, m *predictor.Metrics, path string, charts map[string]string) {
	fmt.Fprintf(w, "model:     %s\n", m.Kind)
	fmt.Fprintf(w, "accuracy:  %.4f\n", m.Accuracy)
	fmt.Fprintf(w, "auc:       %.4f\n", m.AUC)
	fmt.Fprintf(w, "train/test: %d/%d\n", m.TrainSize, m.TestSize)
	if len(m.BestParams) > 0 {
		keys := make([]string, 0, len(m.BestParams))
		for k := range m.BestParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "best params (cv %.4f):\n", m.CVScore)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, m.BestParams[k])
		}
	}
	fmt.Fprintf(w, "saved:     %s\n", path)
	for _, k := range []string{predictor.GraphConfusionMatrix, predictor.GraphROCCurve} {
		if name, ok := charts[k]; ok {
			fmt.Fprintf(w, "%s: %s\n", k, name)
		}
	}
	if m.Report != nil {
		fmt.Fprintf(w, "\n%s", m.Report.String())
	}
}
