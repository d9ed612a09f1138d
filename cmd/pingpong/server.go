package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newServerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the ping server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			srv, closeLog, err := c.listen()
			if err != nil {
				return err
			}
			return multierr.Combine(srv.Start(ctx), closeLog())
		},
	}

	flags := cmd.Flags()
	flags.Float64("drop-probability", 0.1, "Probability that a request is silently ignored")
	flags.Duration("keepalive-interval", 0, "Time between keepalive broadcasts (default 5s)")
	flags.Int("max-connections", 0, "Reject connections beyond this many (0 is unlimited)")
	c.bindOnRun(cmd, map[string]string{
		"drop-probability":   "server.drop_probability",
		"keepalive-interval": "server.keepalive_interval",
		"max-connections":    "server.max_connections",
	})

	return cmd
}
