package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
)

func (c *client) runSweeper(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(c.sweepInterval):
		}
		c.sweepTimeouts()
	}
}

// sweepTimeouts expires requests older than the timeout. The logged expiry instant is the
// nominal one, sent time plus timeout, not the time of the sweep.
func (c *client) sweepTimeouts() int {
	now := c.clock.Now()
	expired := c.table.Expire(now, c.requestTimeout)

	for _, pending := range expired {
		c.counters.timeouts.Add(1)
		c.log.Debug("Request timed out", zap.Uint64("requestNum", pending.RequestNum))
		c.sink.Emit(eventlog.Record{
			Kind:         eventlog.Kind_Timeout,
			Date:         now,
			Request:      message.Ping{RequestNum: pending.RequestNum}.String(),
			RequestTime:  pending.SentAt,
			ResponseTime: pending.SentAt.Add(c.requestTimeout),
		})
	}
	return len(expired)
}
