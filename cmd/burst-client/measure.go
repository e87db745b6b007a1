package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/udpburst/pkg/burstclient"
)

type burstOptions struct {
	count         int32
	size          int32
	interval      int32
	bursts        int
	parallel      int
	seq           int32
	serverTimeout time.Duration
}

func (o *burstOptions) bind(cmd *cobra.Command) {
	cmd.Flags().Int32VarP(&o.count, "count", "n", 50, "Packets per burst (1-100)")
	cmd.Flags().Int32Var(&o.size, "size", 512, "Datagram size in bytes (36-512)")
	cmd.Flags().Int32Var(&o.interval, "interval", 0, "Milliseconds between packets (0-1)")
	cmd.Flags().IntVarP(&o.bursts, "bursts", "b", 1, "Bursts per client")
	cmd.Flags().IntVarP(&o.parallel, "parallel", "p", 1, "Concurrent clients, each with its own socket")
	cmd.Flags().Int32Var(&o.seq, "seq", 1, "Sequence number of the first burst")
}

func (o *burstOptions) validate() error {
	if o.bursts < 1 {
		return fmt.Errorf("--bursts must be at least 1")
	}
	if o.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}
	return o.params(0).Validate()
}

func (o *burstOptions) params(i int) burstclient.Params {
	return burstclient.Params{
		Seq:        o.seq + int32(i),
		BurstCount: o.count,
		PacketSize: o.size,
		Interval:   o.interval,
	}
}

type measureFunc func(ctx context.Context, c *burstclient.Client, p burstclient.Params) (*burstclient.Result, error)

func downlinkCommand(global *globalOptions) *cobra.Command {
	var opts burstOptions
	cmd := &cobra.Command{
		Use:   "downlink",
		Short: "Ask the server for bursts and measure what arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasurement(cmd.Context(), cmd.OutOrStdout(), global, &opts,
				func(ctx context.Context, c *burstclient.Client, p burstclient.Params) (*burstclient.Result, error) {
					return c.Downlink(ctx, p)
				})
		},
	}
	opts.bind(cmd)
	return cmd
}

func uplinkCommand(global *globalOptions) *cobra.Command {
	var opts burstOptions
	cmd := &cobra.Command{
		Use:   "uplink",
		Short: "Send bursts to the server and print what it measured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasurement(cmd.Context(), cmd.OutOrStdout(), global, &opts,
				func(ctx context.Context, c *burstclient.Client, p burstclient.Params) (*burstclient.Result, error) {
					return c.Uplink(ctx, p, opts.serverTimeout)
				})
		},
	}
	opts.bind(cmd)
	cmd.Flags().DurationVar(&opts.serverTimeout, "server-timeout", time.Second, "Session timeout configured on the server")
	return cmd
}

// runMeasurement runs opts.bursts bursts on each of opts.parallel clients.
// Sequence numbers are unique across clients.
func runMeasurement(ctx context.Context, out io.Writer, global *globalOptions, opts *burstOptions, measure measureFunc) error {
	if err := opts.validate(); err != nil {
		return err
	}

	all := make([][]*burstclient.Result, opts.parallel)
	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < opts.parallel; worker++ {
		worker := worker
		g.Go(func() error {
			c, err := burstclient.Dial(global.server, global.idleTimeout)
			if err != nil {
				return err
			}
			defer c.Close()

			for b := 0; b < opts.bursts; b++ {
				res, err := measure(gctx, c, opts.params(worker*opts.bursts+b))
				if err != nil {
					return fmt.Errorf("client %d burst %d: %w", worker, b, err)
				}
				all[worker] = append(all[worker], res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var results []*burstclient.Result
	for _, rs := range all {
		results = append(results, rs...)
	}

	if global.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	_, err := fmt.Fprintln(out, renderResults(results))
	return err
}
