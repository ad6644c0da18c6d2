package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/ui"
)

const defaultProfilePath = "iotnoise.yaml"

type initFlags struct {
	defaults bool
	force    bool
}

func newInitCmd() *cobra.Command {
	flags := &initFlags{}

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a run profile interactively",
		Long: `Ask for the run length, rate, seed, decoy endpoints and avoidance inputs,
then write them as a YAML profile for 'iotnoise run --config'.

Use --defaults to write the built-in profile without prompting.`,
		Example: `  iotnoise init
  iotnoise init lab.yaml
  iotnoise init --defaults --force lab.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			path := defaultProfilePath
			if len(args) == 1 {
				path = args[0]
			}
			return runInit(cmd, path, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.defaults, "defaults", false, "Write the default profile without prompting")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Overwrite an existing file")

	return cmd
}

func runInit(cmd *cobra.Command, path string, flags *initFlags) error {
	if _, err := os.Stat(path); err == nil && !flags.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.CreateDefaultConfig()
	if !flags.defaults {
		answers := ui.DefaultAnswers()
		if err := ui.BuildProfileForm(&answers).Run(); err != nil {
			return fmt.Errorf("profile wizard: %w", err)
		}
		var err error
		if cfg, err = answers.Config(); err != nil {
			return err
		}
	}

	if err := config.WriteConfig(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "Run it with: iotnoise run --config %s\n", path)
	return nil
}
