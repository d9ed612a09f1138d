package client

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

// runGenerator numbers requests from 0 and never reuses a number, answered or not.
func (c *client) runGenerator(ctx context.Context, conn transport.Conn) error {
	for requestNum := uint64(0); c.requestLimit == 0 || requestNum < c.requestLimit; requestNum++ {
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.random.Duration(c.minPingInterval, c.maxPingInterval)):
		}

		if err := c.sendPing(conn, requestNum); err != nil {
			if transport.IsClosed(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	c.log.Info("Request limit reached", zap.Uint64("requestLimit", c.requestLimit))
	return nil
}

// sendPing registers and logs the request before writing it, so a fast response always finds
// it and its sent row always precedes the matched row.
func (c *client) sendPing(conn transport.Conn, requestNum uint64) error {
	sentAt := c.clock.Now()
	if err := c.table.Add(requestNum, sentAt); err != nil {
		return err
	}

	line := message.Ping{RequestNum: requestNum}.String()
	c.sink.Emit(eventlog.Record{
		Kind:        eventlog.Kind_Sent,
		Date:        sentAt,
		Request:     line,
		RequestTime: sentAt,
	})
	if err := conn.WriteLine(line); err != nil {
		c.table.Resolve(requestNum)
		return errors.Wrapf(err, "send %q failed", line)
	}

	c.counters.sent.Add(1)
	return nil
}
