package main

import (
	"github.com/spf13/cobra"

	"github.com/tturner/iotnoise/internal/app"
)

func newPcapSummaryCmd() *cobra.Command {
	var opts app.PcapSummaryOptions

	cmd := &cobra.Command{
		Use:   "pcap-summary",
		Short: "Summarize captured noise per decoy protocol",
		Long: `Read a PCAP/PCAPNG file, or every capture under a directory, and count the
packets, connections, requests and resets exchanged with each decoy. Decoys are
resolved the same way 'iotnoise run' resolves them.`,
		Example: `  iotnoise pcap-summary --input runs/noise.pcap
  iotnoise pcap-summary --input runs/ --targets mqtt=192.168.1.20:1883`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			opts.Stdout = cmd.OutOrStdout()
			return app.RunPcapSummary(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "Capture file or directory (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML run profile whose decoys to match")
	cmd.Flags().StringVar(&opts.Targets, "targets", "", "Decoy overrides: key=host[:port],...")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
