// Package client runs one ping session: it sends numbered pings on a jittered schedule,
// matches pongs to the pings they answer and gives up on pings that wait too long.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
	utils "github.com/sessamekesh/pingpong-netcode/pkg/util"
)

const (
	DefaultMinPingInterval = 300 * time.Millisecond
	DefaultMaxPingInterval = 3 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultSweepInterval   = 2 * time.Second
)

type DialFunc func(ctx context.Context) (transport.Conn, error)

// DialTransport adapts transport.Dial for ClientParams.Dial.
func DialTransport(params transport.DialParams) DialFunc {
	return func(ctx context.Context) (transport.Conn, error) {
		return transport.Dial(ctx, params)
	}
}

type ClientParams struct {
	Dial DialFunc
	// Address is only used in logs and errors.
	Address   string
	ClientNum int

	// SessionDuration <= 0 runs until the context is cancelled or the server hangs up.
	SessionDuration time.Duration

	// Pings are spaced uniformly in [MinPingInterval, MaxPingInterval). Both zero selects the
	// defaults.
	MinPingInterval time.Duration
	MaxPingInterval time.Duration

	RequestTimeout time.Duration
	SweepInterval  time.Duration

	// RequestLimit stops the generator after that many pings. Zero is unlimited.
	RequestLimit uint64

	Logger *zap.Logger
	Sink   eventlog.Sink
	Clock  clockwork.Clock
	Random utils.Random
}

type SessionStats struct {
	Sent       uint64
	Matched    uint64
	Keepalives uint64
	Timeouts   uint64
	// Stray counts pongs that matched nothing and lines that were not protocol messages.
	Stray uint64
	// Pending is the number of requests still unanswered when the session ended.
	Pending int
}

type sessionCounters struct {
	sent       atomic.Uint64
	matched    atomic.Uint64
	keepalives atomic.Uint64
	timeouts   atomic.Uint64
	stray      atomic.Uint64
}

type client struct {
	dial      DialFunc
	address   string
	clientNum int

	sessionDuration time.Duration
	minPingInterval time.Duration
	maxPingInterval time.Duration
	requestTimeout  time.Duration
	sweepInterval   time.Duration
	requestLimit    uint64

	table    *CorrelationTable
	counters sessionCounters

	mut_errs sync.Mutex
	errs     error

	log    *zap.Logger
	sink   eventlog.Sink
	clock  clockwork.Clock
	random utils.Random
}

func CreateClient(params ClientParams) (*client, error) {
	if params.Dial == nil {
		return nil, errors.New("client requires a dial function")
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

	minInterval, maxInterval := params.MinPingInterval, params.MaxPingInterval
	if minInterval == 0 && maxInterval == 0 {
		minInterval, maxInterval = DefaultMinPingInterval, DefaultMaxPingInterval
	}
	if maxInterval < minInterval {
		return nil, errors.Errorf("max ping interval %s is below min ping interval %s", maxInterval, minInterval)
	}
	requestTimeout := params.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	sweepInterval := params.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	return &client{
		dial:      params.Dial,
		address:   params.Address,
		clientNum: params.ClientNum,

		sessionDuration: params.SessionDuration,
		minPingInterval: minInterval,
		maxPingInterval: maxInterval,
		requestTimeout:  requestTimeout,
		sweepInterval:   sweepInterval,
		requestLimit:    params.RequestLimit,

		table: CreateCorrelationTable(),

		log: logger.With(
			zap.String("handler", "Client"),
			zap.Int("clientNum", params.ClientNum),
			zap.String("sessionId", uuid.NewString())),
		sink:   sink,
		clock:  clock,
		random: random,
	}, nil
}

func (c *client) fail(err error) {
	c.mut_errs.Lock()
	defer c.mut_errs.Unlock()
	c.errs = multierr.Append(c.errs, err)
}

func (c *client) stats() SessionStats {
	return SessionStats{
		Sent:       c.counters.sent.Load(),
		Matched:    c.counters.matched.Load(),
		Keepalives: c.counters.keepalives.Load(),
		Timeouts:   c.counters.timeouts.Load(),
		Stray:      c.counters.stray.Load(),
		Pending:    c.table.Len(),
	}
}

// Run connects and drives one session until SessionDuration elapses, ctx is cancelled or the
// server hangs up. A failed connect is returned as *errors.ConnectFailed and is not retried.
func (c *client) Run(ctx context.Context) (SessionStats, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Error("Failed to connect to server", zap.String("address", c.address), zap.Error(err))
		return c.stats(), &perrs.ConnectFailed{Address: c.address, Err: err}
	}
	c.log.Info("Connected to server", zap.String("address", c.address), zap.String("remoteAddr", conn.RemoteAddr()))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopInterrupt := context.AfterFunc(sessionCtx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stopInterrupt()

	wg := conc.WaitGroup{}
	if c.sessionDuration > 0 {
		wg.Go(func() {
			select {
			case <-sessionCtx.Done():
			case <-c.clock.After(c.sessionDuration):
				c.log.Info("Session duration elapsed", zap.Duration("duration", c.sessionDuration))
				cancel()
			}
		})
	}
	wg.Go(func() {
		if err := c.runGenerator(sessionCtx, conn); err != nil {
			c.fail(err)
			cancel()
		}
	})
	wg.Go(func() {
		if err := c.runListener(sessionCtx, cancel, conn); err != nil {
			c.fail(err)
		}
	})
	wg.Go(func() {
		c.runSweeper(sessionCtx)
	})
	wg.Wait()

	if err := conn.Close(); err != nil && !transport.IsClosed(err) {
		c.fail(errors.Wrap(err, "close failed"))
	}

	stats := c.stats()
	c.log.Info("Session finished",
		zap.Uint64("sent", stats.Sent),
		zap.Uint64("matched", stats.Matched),
		zap.Uint64("keepalives", stats.Keepalives),
		zap.Uint64("timeouts", stats.Timeouts),
		zap.Uint64("stray", stats.Stray),
		zap.Int("pending", stats.Pending))

	c.mut_errs.Lock()
	defer c.mut_errs.Unlock()
	return stats, c.errs
}
