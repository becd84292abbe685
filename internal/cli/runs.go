package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/strokeguard/internal/history"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
)

func (a *app) runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.DatabaseDSN == "" {
				return errors.NewValidationError("database_dsn", "is not configured", "")
			}
			hist, err := history.Open(a.cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer hist.Close()

			runs, err := hist.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tACCURACY\tAUC\tSESSION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%.4f\t%s\n",
					r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.ModelKind, r.Accuracy, r.AUC, r.SessionID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", history.DefaultListLimit, "number of runs to show")
	return cmd
}
