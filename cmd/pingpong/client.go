package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newClientCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client [client_num]",
		Short: "Run one client session against the server",
		Long:  "Run one client session. client_num (default 1) names the event log, client_<n>.log.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return errors.New("at most one client number may be given")
			}
			if len(args) == 1 {
				if _, err := strconv.ParseUint(args[0], 10, 16); err != nil {
					return errors.Wrap(err, "parse client number argument failed")
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 1
			if len(args) == 1 {
				n, _ = strconv.Atoi(args[0])
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			stats, err := c.runClient(ctx, n, cmd.ErrOrStderr())
			printStats(cmd.OutOrStdout(), n, stats)
			return err
		},
	}

	flags := cmd.Flags()
	flags.Duration("duration", 0, "Session length, 0 runs until interrupted (default 300s)")
	flags.Uint64("request-limit", 0, "Stop sending after this many requests (0 is unlimited)")
	c.bindOnRun(cmd, map[string]string{
		"duration":      "client.session_duration",
		"request-limit": "client.request_limit",
	})

	return cmd
}
