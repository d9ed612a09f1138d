package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/client"
	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/server"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
	utils "github.com/sessamekesh/pingpong-netcode/pkg/util"
)

type serverRunner interface {
	Start(ctx context.Context) error
	Addr() string
}

type closableSink interface {
	eventlog.Sink
	io.Closer
}

// openEventLog truncates path and mirrors every record to the operational log at debug level.
func (c *cli) openEventLog(path string) (closableSink, error) {
	csvSink, err := eventlog.OpenCsvFile(path, c.log)
	if err != nil {
		return nil, err
	}
	return eventlog.MultiSink(csvSink, eventlog.CreateZapSink(c.log)), nil
}

// seedFor derives a distinct seed per participant so clients do not share a jitter sequence.
func (c *cli) seedFor(participant int) int64 {
	if c.cfg.Seed == 0 {
		return 0
	}
	return c.cfg.Seed + int64(participant)
}

// listen binds the server's listener and returns the server plus a function releasing its
// event log. The listener is bound before returning so clients can connect immediately.
func (c *cli) listen() (serverRunner, func() error, error) {
	params := c.cfg.ListenParams()
	params.Logger = c.log

	listener, err := transport.Listen(params)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listen on %s failed", params.Address)
	}

	sink, err := c.openEventLog(c.cfg.ServerLogFile())
	if err != nil {
		return nil, nil, multierr.Append(err, listener.Close())
	}

	srv, err := server.CreateServer(server.ServerParams{
		Listener:          listener,
		DropProbability:   c.cfg.Server.DropProbability,
		MinResponseDelay:  c.cfg.Server.MinResponseDelay,
		MaxResponseDelay:  c.cfg.Server.MaxResponseDelay,
		KeepaliveInterval: c.cfg.Server.KeepaliveInterval,
		MaxConnections:    c.cfg.Server.MaxConnections,
		Logger:            c.log,
		Sink:              sink,
		Random:            utils.CreateRandomSourceFromSeed(c.seedFor(0)),
	})
	if err != nil {
		return nil, nil, multierr.Combine(err, listener.Close(), sink.Close())
	}
	return srv, sink.Close, nil
}

// runClient runs session n to completion. A refused connection is reported on console as
// well as in the log.
func (c *cli) runClient(ctx context.Context, n int, console io.Writer) (client.SessionStats, error) {
	sink, err := c.openEventLog(c.cfg.ClientLogFile(n))
	if err != nil {
		return client.SessionStats{}, err
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			c.log.Warn("Failed to close event log", zap.Int("clientNum", n), zap.Error(closeErr))
		}
	}()

	cl, err := client.CreateClient(client.ClientParams{
		Dial:            client.DialTransport(c.cfg.DialParams()),
		Address:         c.cfg.Address(),
		ClientNum:       n,
		SessionDuration: c.cfg.Client.SessionDuration,
		MinPingInterval: c.cfg.Client.MinPingInterval,
		MaxPingInterval: c.cfg.Client.MaxPingInterval,
		RequestTimeout:  c.cfg.Client.RequestTimeout,
		SweepInterval:   c.cfg.Client.SweepInterval,
		RequestLimit:    c.cfg.Client.RequestLimit,
		Logger:          c.log,
		Sink:            sink,
		Random:          utils.CreateRandomSourceFromSeed(c.seedFor(n)),
	})
	if err != nil {
		return client.SessionStats{}, err
	}

	stats, err := cl.Run(ctx)
	var connectFailed *perrs.ConnectFailed
	if errors.As(err, &connectFailed) {
		fmt.Fprintf(console, "Client %d could not connect to the server at %s\n", n, connectFailed.Address)
	}
	return stats, err
}

func printStats(out io.Writer, n int, stats client.SessionStats) {
	fmt.Fprintf(out, "client %d: sent=%d matched=%d keepalives=%d timeouts=%d stray=%d pending=%d\n",
		n, stats.Sent, stats.Matched, stats.Keepalives, stats.Timeouts, stats.Stray, stats.Pending)
}
