package server

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/internal"
	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

// serveConnection reads requests from one client until it hangs up, breaks the protocol, fails
// a write or the server shuts down. Every request gets its own delayed response, so answers may
// leave in a different order than the requests arrived.
func (s *server) serveConnection(ctx context.Context, record *internal.ConnectionRecord) {
	log := s.log.With(zap.Uint64("clientId", record.ClientId), zap.String("remoteAddr", record.RemoteAddr))
	log.Info("Client connected")

	connCtx, cancel := context.WithCancel(ctx)
	responses := conc.WaitGroup{}

	defer func() {
		cancel()
		record.StopOutgoing()
		if err := s.connections.Remove(record.ClientId); err != nil {
			log.Warn("Connection was already removed", zap.Error(err))
		}
		// Closing first unblocks a writer stuck on a peer that stopped reading.
		record.Conn.Close()
		responses.Wait()

		stats := record.Stats()
		log.Info("Client disconnected",
			zap.Uint64("received", stats.Received),
			zap.Uint64("answered", stats.Answered),
			zap.Uint64("ignored", stats.Ignored),
			zap.Duration("connectedFor", s.clock.Since(record.ConnectedAt)))
	}()

	// Unblock the pending read once the connection is cancelled.
	stopInterrupt := context.AfterFunc(connCtx, func() {
		record.Conn.SetReadDeadline(time.Now())
	})
	defer stopInterrupt()

	responses.Go(func() {
		s.runWriter(connCtx, cancel, log, record)
	})

	for {
		line, err := record.Conn.ReadLine()
		if err != nil {
			switch {
			case transport.IsClosed(err):
				log.Debug("Client closed the connection")
			case connCtx.Err() != nil:
				log.Debug("Connection cancelled")
			default:
				log.Warn("Failed to read from client", zap.Error(err))
			}
			return
		}

		receivedAt := s.clock.Now()
		ping, err := message.ParsePing(line)
		if err != nil {
			log.Warn("Protocol violation, closing connection", zap.Error(err))
			return
		}
		record.CountReceived(receivedAt)

		if s.random.Chance(s.dropProbability) {
			record.CountIgnored()
			log.Debug("Ignoring request", zap.Uint64("requestNum", ping.RequestNum))
			s.sink.Emit(eventlog.Record{
				Kind:        eventlog.Kind_Ignored,
				Date:        receivedAt,
				Request:     line,
				RequestTime: receivedAt,
			})
			continue
		}

		delay := s.random.Duration(s.minResponseDelay, s.maxResponseDelay)
		request := *ping
		responses.Go(func() {
			s.respond(connCtx, cancel, log, record, request, line, receivedAt, delay)
		})
	}
}

// runWriter drains the connection's outgoing queue in order. A failed write tears the
// connection down.
func (s *server) runWriter(
	ctx context.Context,
	cancelConnection context.CancelFunc,
	log *zap.Logger,
	record *internal.ConnectionRecord,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-record.Outgoing():
			if err := record.Conn.WriteLine(out.Line); err != nil {
				if !transport.IsClosed(err) && ctx.Err() == nil {
					log.Warn("Failed to write to client, closing connection", zap.Error(err))
				}
				cancelConnection()
				return
			}
			if out.Sent != nil {
				out.Sent(s.clock.Now())
			}
		}
	}
}

func (s *server) respond(
	ctx context.Context,
	cancelConnection context.CancelFunc,
	log *zap.Logger,
	record *internal.ConnectionRecord,
	ping message.Ping,
	requestLine string,
	receivedAt time.Time,
	delay time.Duration,
) {
	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(delay):
	}

	_, err := s.counter.Stamp(func(responseNum uint64) error {
		response := message.Pong{
			ResponseNum: responseNum,
			RequestNum:  ping.RequestNum,
			ClientId:    record.ClientId,
		}.String()
		return record.Enqueue(internal.OutgoingLine{
			Line: response,
			Sent: func(sentAt time.Time) {
				record.CountAnswered()
				s.sink.Emit(eventlog.Record{
					Kind:         eventlog.Kind_Matched,
					Date:         sentAt,
					Request:      requestLine,
					RequestTime:  receivedAt,
					Response:     response,
					ResponseTime: sentAt,
				})
			},
		})
	})
	if err != nil {
		if !transport.IsClosed(err) && ctx.Err() == nil {
			log.Warn("Client is not reading its responses, closing connection", zap.Error(err))
		}
		cancelConnection()
	}
}
