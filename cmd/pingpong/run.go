package main

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server and several clients in one process",
		Long: "Start the server, then client.count clients spaced client.stagger apart, each with its own " +
			"event log. The server stops once every client session has ended.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return c.runAll(ctx, cmd)
		},
	}

	flags := cmd.Flags()
	flags.Int("count", 2, "Number of clients")
	flags.Duration("stagger", 0, "Delay between client starts (default 500ms)")
	flags.Duration("duration", 0, "Client session length (default 300s)")
	flags.Float64("drop-probability", 0.1, "Probability that a request is silently ignored")
	flags.Uint64("request-limit", 0, "Stop each client after this many requests (0 is unlimited)")
	c.bindOnRun(cmd, map[string]string{
		"count":            "client.count",
		"stagger":          "client.stagger",
		"duration":         "client.session_duration",
		"drop-probability": "server.drop_probability",
		"request-limit":    "client.request_limit",
	})

	return cmd
}

func (c *cli) runAll(ctx context.Context, cmd *cobra.Command) error {
	srv, closeLog, err := c.listen()
	if err != nil {
		return err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var serverErr error
	serverWg := conc.WaitGroup{}
	serverWg.Go(func() {
		serverErr = srv.Start(serverCtx)
	})

	c.log.Info("Starting clients",
		zap.String("address", srv.Addr()),
		zap.Int("count", c.cfg.Client.Count),
		zap.Duration("stagger", c.cfg.Client.Stagger))

	mut_out := sync.Mutex{}
	clients := pool.New().WithErrors()
	for n := 1; n <= c.cfg.Client.Count; n++ {
		n := n
		delay := c.cfg.Client.Stagger * time.Duration(n-1)
		clients.Go(func() error {
			if !sleepContext(ctx, delay) {
				return nil
			}
			stats, err := c.runClient(ctx, n, cmd.ErrOrStderr())

			mut_out.Lock()
			printStats(cmd.OutOrStdout(), n, stats)
			mut_out.Unlock()
			return err
		})
	}
	clientsErr := clients.Wait()

	c.log.Info("All client sessions ended, stopping server")
	stopServer()
	serverWg.Wait()

	return multierr.Combine(clientsErr, serverErr, closeLog())
}
