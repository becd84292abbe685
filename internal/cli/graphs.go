package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/strokeguard/dataset"
	"github.com/YuminosukeSato/strokeguard/graphs"
)

func (a *app) graphsCommand() *cobra.Command {
	var data, out string
	cmd := &cobra.Command{
		Use:   "graphs",
		Short: "Draw the exploratory charts of a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := dataset.LoadFile(data, dataset.Schema{Numeric: a.cfg.NumericColumns})
			if err != nil {
				return err
			}
			if out == "" {
				out = a.cfg.StaticDir
			}
			names := graphs.NewGenerator(out).GenerateAll(table)
			w := cmd.OutOrStdout()
			for i, name := range names {
				if name == "" {
					name = "(failed)"
				}
				fmt.Fprintf(w, "%d: %s\n", i+1, name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "CSV file with patient records")
	cmd.Flags().StringVar(&out, "out", "", "output directory (default is static_dir from config)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
