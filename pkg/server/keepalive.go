package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/internal"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
)

func (s *server) runKeepalive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.keepaliveInterval):
		}
		s.broadcastKeepalive()
	}
}

// broadcastKeepalive queues one keepalive, carrying a single response number, for every
// connection registered when the tick starts. A recipient that cannot take it is skipped; its
// own dispatcher notices the broken connection and cleans it up.
func (s *server) broadcastKeepalive() {
	recipients := s.connections.Snapshot()

	queued := 0
	responseNum, _ := s.counter.Stamp(func(responseNum uint64) error {
		line := message.Keepalive{ResponseNum: responseNum}.String()
		for _, recipient := range recipients {
			if err := recipient.Enqueue(internal.OutgoingLine{Line: line}); err != nil {
				s.log.Debug("Failed to queue keepalive",
					zap.Uint64("clientId", recipient.ClientId),
					zap.Error(err))
				continue
			}
			queued++
		}
		return nil
	})

	s.log.Debug("Broadcast keepalive",
		zap.Uint64("responseNum", responseNum),
		zap.Int("recipients", len(recipients)),
		zap.Int("queued", queued))
}
