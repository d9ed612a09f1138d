package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
)

func listenPair(t *testing.T, kind string) (Conn, Conn) {
	t.Helper()

	listener, err := Listen(ListenParams{
		Kind:    kind,
		Address: "127.0.0.1:0",
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	accepted := make(chan Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, DialParams{Kind: kind, Address: listener.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { server.Close() })
		return server, client
	case <-ctx.Done():
		t.Fatal("listener never accepted the connection")
	}
	return nil, nil
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{Kind_TCP, Kind_Websocket} {
		kind := kind
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			server, client := listenPair(t, kind)

			require.NoError(t, client.WriteLine("[0] PING"))
			require.NoError(t, client.WriteLine("[1] PING"))

			line, err := server.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, "[0] PING", line)
			line, err = server.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, "[1] PING", line)

			require.NoError(t, server.WriteLine("[0/1] PONG (1)"))
			line, err = client.ReadLine()
			require.NoError(t, err)
			assert.Equal(t, "[0/1] PONG (1)", line)
		})
	}
}

func TestPeerCloseIsEOF(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{Kind_TCP, Kind_Websocket} {
		kind := kind
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			server, client := listenPair(t, kind)

			require.NoError(t, client.Close())
			_, err := server.ReadLine()
			require.Error(t, err)
			assert.True(t, IsClosed(err), "unexpected error %v", err)
		})
	}
}

func TestReadDeadlineInterruptsRead(t *testing.T) {
	t.Parallel()

	server, _ := listenPair(t, Kind_TCP)
	require.NoError(t, server.SetReadDeadline(time.Now()))
	_, err := server.ReadLine()
	assert.True(t, IsTimeout(err), "unexpected error %v", err)
}

func TestLineTooLong(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()
	conn := WrapTcpConn(local, 16, time.Second)
	defer conn.Close()

	go io.WriteString(remote, strings.Repeat("x", 64)+"\n")

	_, err := conn.ReadLine()
	var tooLong *perrs.LineTooLong
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 16, tooLong.MaxSize)
}

func TestUnknownTransport(t *testing.T) {
	t.Parallel()

	_, err := Listen(ListenParams{Kind: "carrier-pigeon", Address: "127.0.0.1:0"})
	var unknown *perrs.UnknownTransport
	assert.ErrorAs(t, err, &unknown)

	_, err = Dial(context.Background(), DialParams{Kind: "carrier-pigeon"})
	assert.ErrorAs(t, err, &unknown)
}

func TestDialRefused(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	_, err = Dial(context.Background(), DialParams{Kind: Kind_TCP, Address: address})
	require.Error(t, err)
	assert.True(t, IsRefused(err), "unexpected error %v", err)
}

func TestWebsocketOriginCheck(t *testing.T) {
	t.Parallel()

	listener, err := ListenWebsocket(ListenParams{
		Address:        "127.0.0.1:0",
		AllowedOrigins: []string{"http://allowed.example"},
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	defer listener.Close()

	// The default dialer sends no Origin header.
	_, err = DialWebsocket(context.Background(), DialParams{Address: listener.Addr()})
	assert.Error(t, err)
}

func TestMemoryPair(t *testing.T) {
	t.Parallel()

	a, b := CreateMemoryPair()

	require.NoError(t, a.WriteLine("[3] PING"))
	line, err := b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "[3] PING", line)

	require.NoError(t, b.WriteLine("[0/3] PONG (1)"))
	line, err = a.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "[0/3] PONG (1)", line)

	require.NoError(t, a.WriteLine("[4] PING"))
	require.NoError(t, a.Close())

	// Lines written before the hangup are still delivered.
	line, err = b.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "[4] PING", line)

	_, err = b.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, IsClosed(b.WriteLine("[0/4] PONG (1)")))
	assert.True(t, IsClosed(a.WriteLine("[5] PING")))
}

func TestMemoryReadDeadline(t *testing.T) {
	t.Parallel()

	a, _ := CreateMemoryPair()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err := a.ReadLine()
	assert.True(t, IsTimeout(err))

	require.NoError(t, a.SetReadDeadline(time.Time{}))
	done := make(chan error, 1)
	go func() {
		_, err := a.ReadLine()
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("read returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, a.SetReadDeadline(time.Now()))
	select {
	case err := <-done:
		assert.True(t, IsTimeout(err))
	case <-time.After(time.Second):
		t.Fatal("deadline did not interrupt the read")
	}
}

func TestMemoryListener(t *testing.T) {
	t.Parallel()

	listener := CreateMemoryListener()
	assert.Equal(t, "memory", listener.Addr())

	client, err := listener.Dial()
	require.NoError(t, err)
	server, err := listener.Accept()
	require.NoError(t, err)

	require.NoError(t, client.WriteLine("[0] PING"))
	line, err := server.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "[0] PING", line)

	require.NoError(t, listener.Close())
	_, err = listener.Accept()
	assert.True(t, IsClosed(err))
	_, err = listener.Dial()
	assert.True(t, IsRefused(err))
}
