package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/pvlab/ivbench/bench"
	"github.com/spf13/cobra"
)

// NewMkconfCommand returns the mkconf command
func NewMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the effective configuration to the config file",
		Long: `mkconf writes the effective configuration, defaults merged with any existing
file and environment, to the config file.  Edit the result to describe your bench.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f, err := os.Create(configPath)
			if err != nil {
				return errors.Wrap(err, "creating config file")
			}
			defer f.Close()
			if err := bench.Encode(f, c); err != nil {
				return err
			}
			fmt.Println("wrote", configPath)
			return nil
		},
	}
}

// NewConfCommand returns the conf command
func NewConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return bench.Encode(os.Stdout, c)
		},
	}
}

// NewVersionCommand returns the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("ivbench version %v\n", Version)
		},
	}
}
