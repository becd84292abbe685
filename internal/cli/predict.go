package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/predictor"
)

func (a *app) predictCommand() *cobra.Command {
	var input, inputFile, modelPath string
	cmd := &cobra.Command{
		Use:     "predict",
		Short:   "Classify one patient record with a saved model",
		Example: `  strokeguard predict --input '{"Age": 67, "Gender": "Male", "Hypertension": 1}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw := []byte(input)
			if inputFile != "" {
				b, err := os.ReadFile(inputFile)
				if err != nil {
					return errors.Wrapf(err, "read %s", inputFile)
				}
				raw = b
			}
			if len(raw) == 0 {
				return errors.NewValueError("predict", "--input or --input-file is required")
			}
			var record map[string]any
			if err := json.Unmarshal(raw, &record); err != nil {
				return errors.NewValueError("predict", "input is not a JSON object: "+err.Error())
			}

			if modelPath == "" {
				modelPath = a.cfg.ModelPath
			}
			m := predictor.New(nil)
			if err := m.Load(modelPath); err != nil {
				return err
			}
			pred, err := m.PredictRecord(record)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pred)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "record as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "file holding the record as a JSON object")
	cmd.Flags().StringVar(&modelPath, "model-path", "", "model file (default is model_path from config)")
	return cmd
}
