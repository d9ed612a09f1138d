package server

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/eventlog"
	"github.com/sessamekesh/pingpong-netcode/pkg/message"
	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
	utils "github.com/sessamekesh/pingpong-netcode/pkg/util"
)

const responseDelay = 500 * time.Millisecond

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    fakeClock
	listener interface {
		transport.Listener
		Dial() (transport.Conn, error)
	}
	server *server
	sink   *eventlog.MemorySink
	done   chan error
}

func startServer(t *testing.T, dropProbability float64, maxConnections int) *harness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	var clock fakeClock = clockwork.NewFakeClock()
	listener := transport.CreateMemoryListener()
	sink := &eventlog.MemorySink{}

	srv, err := CreateServer(ServerParams{
		Listener:         listener,
		DropProbability:  dropProbability,
		MinResponseDelay: responseDelay,
		MaxResponseDelay: responseDelay,
		MaxConnections:   maxConnections,
		Logger:           zap.NewNop(),
		Sink:             sink,
		Clock:            clock,
		Random:           utils.CreateRandomSource(1),
	})
	require.NoError(t, err)

	h := &harness{
		t:        t,
		ctx:      ctx,
		clock:    clock,
		listener: listener,
		server:   srv,
		sink:     sink,
		done:     make(chan error, 1),
	}
	go func() {
		h.done <- srv.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	// The keepalive loop is always waiting on the clock.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	return h
}

// connect dials the server and waits for the connection to be registered.
func (h *harness) connect() transport.Conn {
	h.t.Helper()

	before := h.server.connections.Len()
	conn, err := h.listener.Dial()
	require.NoError(h.t, err)
	h.t.Cleanup(func() { conn.Close() })

	require.Eventually(h.t, func() bool {
		return h.server.connections.Len() == before+1
	}, 5*time.Second, time.Millisecond)
	return conn
}

// advance moves the fake clock once n timers are pending, then gives fired goroutines a
// chance to re-arm.
func (h *harness) advance(waiters int, d time.Duration) {
	h.t.Helper()
	require.NoError(h.t, h.clock.BlockUntilContext(h.ctx, waiters))
	h.clock.Advance(d)
}

func readLine(t *testing.T, conn transport.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := conn.ReadLine()
	require.NoError(t, err)
	return line
}

func TestCreateServerValidation(t *testing.T) {
	t.Parallel()

	_, err := CreateServer(ServerParams{})
	assert.Error(t, err)

	_, err = CreateServer(ServerParams{Listener: transport.CreateMemoryListener(), DropProbability: 1.5})
	assert.Error(t, err)

	_, err = CreateServer(ServerParams{
		Listener:         transport.CreateMemoryListener(),
		MinResponseDelay: time.Second,
		MaxResponseDelay: time.Millisecond,
	})
	assert.Error(t, err)

	srv, err := CreateServer(ServerParams{Listener: transport.CreateMemoryListener(), Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMinResponseDelay, srv.minResponseDelay)
	assert.Equal(t, DefaultMaxResponseDelay, srv.maxResponseDelay)
	assert.Equal(t, DefaultKeepaliveInterval, srv.keepaliveInterval)
}

func TestPingIsAnswered(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	conn := h.connect()

	require.NoError(t, conn.WriteLine("[0] PING"))

	// keepalive + the delayed response
	h.advance(2, responseDelay)
	assert.Equal(t, "[0/0] PONG (1)", readLine(t, conn))

	require.Eventually(t, func() bool {
		return len(h.sink.ByKind(eventlog.Kind_Matched)) == 1
	}, 5*time.Second, time.Millisecond)
	matched := h.sink.ByKind(eventlog.Kind_Matched)
	assert.Equal(t, "[0] PING", matched[0].Request)
	assert.Equal(t, "[0/0] PONG (1)", matched[0].Response)
	assert.Equal(t, responseDelay, matched[0].ResponseTime.Sub(matched[0].RequestTime))

	h.advance(1, DefaultKeepaliveInterval-responseDelay)
	assert.Equal(t, "[1] keepalive", readLine(t, conn))
}

func TestDroppedRequestsAreLogged(t *testing.T) {
	t.Parallel()

	h := startServer(t, 1, 0)
	conn := h.connect()

	for _, line := range []string{"[0] PING", "[1] PING", "[2] PING"} {
		require.NoError(t, conn.WriteLine(line))
	}
	require.Eventually(t, func() bool {
		return len(h.sink.ByKind(eventlog.Kind_Ignored)) == 3
	}, 5*time.Second, time.Millisecond)

	// Nothing was answered, so the first keepalive takes response number 0.
	h.advance(1, DefaultKeepaliveInterval)
	assert.Equal(t, "[0] keepalive", readLine(t, conn))
	assert.Empty(t, h.sink.ByKind(eventlog.Kind_Matched))

	ignored := h.sink.ByKind(eventlog.Kind_Ignored)
	assert.Equal(t, "[1] PING", ignored[1].Request)
}

func TestMalformedRequestClosesOnlyThatConnection(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	good := h.connect()
	bad := h.connect()

	require.NoError(t, bad.WriteLine("hello"))
	_, err := bad.ReadLine()
	assert.True(t, transport.IsClosed(err), "unexpected error %v", err)

	require.Eventually(t, func() bool {
		return h.server.connections.Len() == 1
	}, 5*time.Second, time.Millisecond)
	assert.True(t, h.server.connections.Has(1))

	require.NoError(t, good.WriteLine("[4] PING"))
	h.advance(2, responseDelay)
	assert.Equal(t, "[0/4] PONG (1)", readLine(t, good))
}

func TestKeepaliveReachesEveryConnection(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	first := h.connect()
	second := h.connect()

	for tick := 0; tick < 3; tick++ {
		h.advance(1, DefaultKeepaliveInterval)
		want := message.Keepalive{ResponseNum: uint64(tick)}.String()
		assert.Equal(t, want, readLine(t, first))
		assert.Equal(t, want, readLine(t, second))
	}
}

func TestKeepaliveSkipsBrokenRecipient(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	healthy := h.connect()
	h.connect()

	broken, err := h.server.connections.Get(2)
	require.NoError(t, err)
	broken.StopOutgoing()

	for tick := 0; tick < 3; tick++ {
		h.advance(1, DefaultKeepaliveInterval)
		want := message.Keepalive{ResponseNum: uint64(tick)}.String()
		assert.Equal(t, want, readLine(t, healthy))
	}

	// One number per tick, whether or not every recipient took it.
	assert.Equal(t, uint64(3), h.server.counter.Peek())
	assert.True(t, h.server.connections.Has(2))
}

func TestStalledReaderDoesNotBlockOtherConnections(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	healthy := h.connect()
	stalled := h.connect()

	// Far more responses than the stalled peer's transport buffer holds, and it never reads.
	const flood = 300
	for n := 0; n < flood; n++ {
		require.NoError(t, stalled.WriteLine(message.Ping{RequestNum: uint64(n)}.String()))
	}
	h.advance(1+flood, responseDelay)

	require.NoError(t, healthy.WriteLine("[0] PING"))
	h.advance(2, responseDelay)

	pong, err := message.ParsePong(readLine(t, healthy))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pong.RequestNum)
	assert.Equal(t, uint64(1), pong.ClientId)
	assert.Greater(t, h.server.counter.Peek(), pong.ResponseNum)

	// The next keepalive still goes out.
	h.advance(1, DefaultKeepaliveInterval-2*responseDelay)
	keepalive, err := message.ParseKeepalive(readLine(t, healthy))
	require.NoError(t, err)
	assert.Greater(t, keepalive.ResponseNum, pong.ResponseNum)
}

func TestResponseNumbersAreUniqueAcrossConnections(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)
	const clients, pings = 3, 5

	conns := make([]transport.Conn, clients)
	for i := range conns {
		conns[i] = h.connect()
		for n := 0; n < pings; n++ {
			require.NoError(t, conns[i].WriteLine(message.Ping{RequestNum: uint64(n)}.String()))
		}
	}

	h.advance(1+clients*pings, responseDelay)

	responseNums := []uint64{}
	for i, conn := range conns {
		requestNums := []uint64{}
		for n := 0; n < pings; n++ {
			pong, err := message.ParsePong(readLine(t, conn))
			require.NoError(t, err)
			assert.Equal(t, uint64(i+1), pong.ClientId)
			responseNums = append(responseNums, pong.ResponseNum)
			requestNums = append(requestNums, pong.RequestNum)
		}
		sort.Slice(requestNums, func(a, b int) bool { return requestNums[a] < requestNums[b] })
		assert.Equal(t, []uint64{0, 1, 2, 3, 4}, requestNums)
	}

	sort.Slice(responseNums, func(a, b int) bool { return responseNums[a] < responseNums[b] })
	for i, n := range responseNums {
		assert.Equal(t, uint64(i), n)
	}
}

func TestClientIdsAreAssignedInOrder(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 0)

	first := h.connect()
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return h.server.connections.Len() == 0
	}, 5*time.Second, time.Millisecond)

	second := h.connect()
	require.NoError(t, second.WriteLine("[0] PING"))
	h.advance(2, responseDelay)
	assert.Equal(t, "[0/0] PONG (2)", readLine(t, second))
}

func TestMaxConnections(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0, 1)
	h.connect()

	rejected, err := h.listener.Dial()
	require.NoError(t, err)
	_, err = rejected.ReadLine()
	assert.True(t, transport.IsClosed(err), "unexpected error %v", err)
	assert.Equal(t, 1, h.server.connections.Len())
}

func TestShutdownClosesConnections(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	listener := transport.CreateMemoryListener()
	srv, err := CreateServer(ServerParams{
		Listener: listener,
		Logger:   zap.NewNop(),
		Clock:    clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	conn, err := listener.Dial()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return srv.connections.Len() == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = conn.ReadLine()
	assert.True(t, transport.IsClosed(err), "unexpected error %v", err)
	assert.Equal(t, 0, srv.connections.Len())

	_, err = listener.Dial()
	assert.True(t, transport.IsRefused(err))
}

func TestDropRateConverges(t *testing.T) {
	t.Parallel()

	h := startServer(t, 0.1, 0)
	conn := h.connect()

	const n = 5000
	for i := 0; i < n; i++ {
		require.NoError(t, conn.WriteLine(message.Ping{RequestNum: uint64(i)}.String()))
	}

	// Every request is either ignored right away or waiting on its response delay.
	require.Eventually(t, func() bool {
		record, err := h.server.connections.Get(1)
		return err == nil && record.Stats().Received == n
	}, 5*time.Second, time.Millisecond)

	ignored := len(h.sink.ByKind(eventlog.Kind_Ignored))
	assert.InDelta(t, 0.1, float64(ignored)/n, 0.02)
}
