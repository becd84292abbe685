// Package cli implements the strokeguard command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/strokeguard/internal/config"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

// app holds the state shared by all subcommands.
type app struct {
	cfgFile  string
	logLevel string
	cfg      *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "strokeguard",
		Short:             "Stroke diagnosis: dataset charts, model training and prediction",
		Long:              `strokeguard trains RandomForest, SVM and GradientBoosting classifiers on patient records and serves an upload, training and prediction web UI.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadConfig,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		a.serveCommand(),
		a.trainCommand(),
		a.predictCommand(),
		a.graphsCommand(),
		a.runsCommand(),
		a.configCommand(),
	)
	return root
}

// Execute is the entry point called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = a.logLevel
	}
	if err := log.Setup(c.LogLevel, c.LogFormat, cmd.ErrOrStderr()); err != nil {
		return err
	}
	a.cfg = c
	return nil
}
