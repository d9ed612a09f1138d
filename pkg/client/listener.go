package client

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

// runListener ends the whole session when the server hangs up.
func (c *client) runListener(ctx context.Context, endSession context.CancelFunc, conn transport.Conn) error {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			endSession()
			if transport.IsClosed(err) {
				c.log.Info("Server closed the connection")
				return nil
			}
			return errors.Wrap(err, "read failed")
		}
		c.handleLine(line)
	}
}

func (c *client) handleLine(line string) {
	receivedAt := c.clock.Now()

	switch message.Classify(line) {
	case message.MessageType_Keepalive:
		c.counters.keepalives.Add(1)
		c.sink.Emit(eventlog.Record{
			Kind:         eventlog.Kind_Keepalive,
			Date:         receivedAt,
			Response:     line,
			ResponseTime: receivedAt,
		})

	case message.MessageType_Pong:
		requestNum, err := message.ParsePongRequestNum(line)
		if err != nil {
			c.counters.stray.Add(1)
			c.log.Debug("Ignoring unparseable response", zap.Error(err))
			return
		}
		pending, ok := c.table.Resolve(requestNum)
		if !ok {
			// Already timed out, or a duplicate.
			c.counters.stray.Add(1)
			c.log.Debug("Ignoring response with no pending request", zap.String("response", line))
			return
		}

		c.counters.matched.Add(1)
		c.sink.Emit(eventlog.Record{
			Kind:         eventlog.Kind_Matched,
			Date:         receivedAt,
			Request:      message.Ping{RequestNum: requestNum}.String(),
			RequestTime:  pending.SentAt,
			Response:     line,
			ResponseTime: receivedAt,
		})

	default:
		c.counters.stray.Add(1)
		c.log.Debug("Ignoring unexpected line", zap.String("line", line))
	}
}
