// Command ivbench runs J-V measurements on a solar cell bench and serves the bench over HTTP
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/bench"
	"github.com/pvlab/ivbench/measure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	configPath = "ivbench.yml"
	logLevel   = "info"
	mock       bool
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "parsing log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.Kitchen,
	})
	return nil
}

// loadConfig loads the configuration, applying --mock
func loadConfig(cmd *cobra.Command) (bench.Config, error) {
	_, c, err := bench.Load(configPath)
	if err != nil {
		return c, err
	}
	if cmd.Flags().Changed("mock") {
		c.Mock = mock
	}
	return c, nil
}

func main() {
	_ = godotenv.Load()
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, measure.ErrRunInProgress) {
			fmt.Fprintln(os.Stderr, "another run holds the bench")
		}
		os.Exit(1)
	}
}

// NewCommand returns the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ivbench",
		Short: "ivbench controls a solar cell J-V measurement bench",
		Long: `ivbench drives a source-measure unit, a solar simulator and an optional
reference diode to measure current-voltage characteristics of solar cells.

It runs single measurements from the command line, or serves the bench over
HTTP so clients in any language can start runs and stream their samples.

Configuration is read from ivbench.yml (see mkconf), overridden by IVBENCH_
environment variables, which may be set in a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", configPath, "configuration file")
	f.StringVar(&logLevel, "log-level", logLevel, "log level: trace, debug, info, warn, error")
	f.BoolVar(&mock, "mock", false, "replace every instrument with an emulation")

	cmd.AddCommand(
		NewServeCommand(),
		NewRunCommand(),
		NewCalibrateCommand(),
		NewMkconfCommand(),
		NewConfCommand(),
		NewVersionCommand(),
	)
	return cmd
}
