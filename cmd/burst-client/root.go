package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/udpburst/pkg/burstclient"
	"github.com/zsiec/udpburst/pkg/version"
)

type globalOptions struct {
	server      string
	idleTimeout time.Duration
	jsonOutput  bool
}

func NewRootCommand() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:          "burst-client",
		Short:        "Measure UDP loss, reordering and jitter against a udpburst server",
		Version:      version.GetInfo().Short(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", "127.0.0.1:31341", "UDP address of the burst server")
	root.PersistentFlags().DurationVar(&opts.idleTimeout, "idle-timeout", burstclient.DefaultIdleTimeout, "Give up on a burst after this long without packets")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(downlinkCommand(&opts))
	root.AddCommand(uplinkCommand(&opts))
	root.AddCommand(statusCommand())
	return root
}
