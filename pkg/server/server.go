// Package server answers pings with delayed, occasionally dropped pongs and broadcasts
// keepalives to every connected client.
package server

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/internal"
	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
	utils "github.com/sessamekesh/pingpong-netcode/pkg/util"
)

const (
	DefaultMinResponseDelay  = 100 * time.Millisecond
	DefaultMaxResponseDelay  = time.Second
	DefaultKeepaliveInterval = 5 * time.Second
)

type ServerParams struct {
	Listener transport.Listener

	// Probability in [0, 1] that a well-formed request is ignored.
	DropProbability float64

	// Response latency is drawn uniformly from [MinResponseDelay, MaxResponseDelay). Both zero
	// selects the defaults.
	MinResponseDelay time.Duration
	MaxResponseDelay time.Duration

	KeepaliveInterval time.Duration
	MaxConnections    int

	Logger *zap.Logger
	Sink   eventlog.Sink
	Clock  clockwork.Clock
	Random utils.Random
}

type server struct {
	listener transport.Listener

	dropProbability   float64
	minResponseDelay  time.Duration
	maxResponseDelay  time.Duration
	keepaliveInterval time.Duration

	connections *internal.ConnectionStore
	counter     *internal.ResponseCounter

	log    *zap.Logger
	sink   eventlog.Sink
	clock  clockwork.Clock
	random utils.Random
}

func CreateServer(params ServerParams) (*server, error) {
	if params.Listener == nil {
		return nil, errors.New("server requires a listener")
	}
	if params.DropProbability < 0 || params.DropProbability > 1 {
		return nil, errors.Errorf("drop probability %f is outside [0, 1]", params.DropProbability)
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	sink := params.Sink
	if sink == nil {
		sink = eventlog.Discard
	}
	clock := params.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	random := params.Random
	if random == nil {
		random = utils.CreateRandomSourceFromSeed(0)
	}

	minDelay, maxDelay := params.MinResponseDelay, params.MaxResponseDelay
	if minDelay == 0 && maxDelay == 0 {
		minDelay, maxDelay = DefaultMinResponseDelay, DefaultMaxResponseDelay
	}
	if maxDelay < minDelay {
		return nil, errors.Errorf("max response delay %s is below min response delay %s", maxDelay, minDelay)
	}
	keepaliveInterval := params.KeepaliveInterval
	if keepaliveInterval <= 0 {
		keepaliveInterval = DefaultKeepaliveInterval
	}

	return &server{
		listener: params.Listener,

		dropProbability:   params.DropProbability,
		minResponseDelay:  minDelay,
		maxResponseDelay:  maxDelay,
		keepaliveInterval: keepaliveInterval,

		connections: internal.CreateConnectionStore(params.MaxConnections),
		counter:     internal.CreateResponseCounter(),

		log:    logger.With(zap.String("handler", "Server")),
		sink:   sink,
		clock:  clock,
		random: random,
	}, nil
}

func (s *server) Addr() string {
	return s.listener.Addr()
}

// Start accepts connections until ctx is cancelled or the listener fails, then closes the
// listener, tears down every connection and waits for all of them to finish.
func (s *server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := conc.WaitGroup{}
	wg.Go(func() {
		s.runKeepalive(ctx)
	})

	stopListener := context.AfterFunc(ctx, func() {
		s.listener.Close()
	})
	defer stopListener()

	s.log.Info("Server started", zap.String("address", s.listener.Addr()))

	var acceptErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = errors.Wrap(err, "accept failed")
				s.log.Error("Accept failed, shutting down", zap.Error(err))
			}
			break
		}

		record, err := s.connections.Register(conn, s.clock.Now())
		if err != nil {
			s.log.Warn("Rejecting connection", zap.String("remoteAddr", conn.RemoteAddr()), zap.Error(err))
			conn.Close()
			continue
		}

		wg.Go(func() {
			s.serveConnection(ctx, record)
		})
	}

	cancel()
	s.listener.Close()
	wg.Wait()

	s.log.Info("Server stopped", zap.Uint64("responsesSent", s.counter.Peek()))
	return acceptErr
}
