package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/iotnoise/internal/app"
)

type avoidFlags struct {
	rules       []string
	attacksJSON string
	list        bool
}

func newAvoidCmd() *cobra.Command {
	flags := &avoidFlags{}

	cmd := &cobra.Command{
		Use:   "avoid [text...]",
		Short: "Check text against the avoidance database",
		Long: `Build the avoidance database exactly as 'iotnoise run' would, print its size,
and report for each argument (or each stdin line when none are given) whether
the generator would refuse to send it, and why.`,
		Example: `  iotnoise avoid --rules 'rules/*.rules' 'GET /cgi-bin/status.cgi'
  printf 'GET /\nGET /shell\n' | iotnoise avoid --attacks-json attacks.json
  iotnoise avoid --rules suricata.rules --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunAvoidCheck(app.AvoidOptions{
				Rules:       flags.rules,
				AttacksJSON: flags.attacksJSON,
				List:        flags.list,
				Texts:       args,
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringArrayVar(&flags.rules, "rules", nil, "IDS rule file or glob (repeatable; default *.rules and suricata.rules)")
	cmd.Flags().StringVar(&flags.attacksJSON, "attacks-json", "", "Attack scenario JSON")
	cmd.Flags().BoolVar(&flags.list, "list", false, "List learned literals and patterns")

	return cmd
}
