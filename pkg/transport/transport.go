package transport

import (
	"context"
	goerrs "errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"go.uber.org/zap"
)

const (
	Kind_TCP       = "tcp"
	Kind_Websocket = "ws"

	DefaultMaxLineLength = 4096
	DefaultWriteTimeout  = 5 * time.Second
)

// Conn is one ordered, bidirectional, line-oriented connection. Lines are passed without
// their terminator. ReadLine returns io.EOF once the peer has closed the stream.
//
// WriteLine is safe for concurrent use; ReadLine must only be called from a single goroutine.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type Listener interface {
	Accept() (Conn, error)
	Addr() string
	Close() error
}

type ListenParams struct {
	Kind    string
	Address string

	WebsocketEndpoint string
	AllowedOrigins    []string

	MaxLineLength int
	WriteTimeout  time.Duration

	Logger *zap.Logger
}

type DialParams struct {
	Kind    string
	Address string

	WebsocketEndpoint string

	MaxLineLength int
	WriteTimeout  time.Duration
}

func Listen(params ListenParams) (Listener, error) {
	switch params.Kind {
	case Kind_TCP, "":
		return ListenTcp(params)
	case Kind_Websocket:
		return ListenWebsocket(params)
	}
	return nil, &perrs.UnknownTransport{Kind: params.Kind}
}

func Dial(ctx context.Context, params DialParams) (Conn, error) {
	switch params.Kind {
	case Kind_TCP, "":
		return DialTcp(ctx, params)
	case Kind_Websocket:
		return DialWebsocket(ctx, params)
	}
	return nil, &perrs.UnknownTransport{Kind: params.Kind}
}

// IsClosed reports whether err means the stream is gone: the peer hung up, the connection
// was reset, or it was closed locally. None of these are protocol failures.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return goerrs.Is(err, io.EOF) ||
		goerrs.Is(err, io.ErrClosedPipe) ||
		goerrs.Is(err, net.ErrClosed) ||
		goerrs.Is(err, syscall.EPIPE) ||
		goerrs.Is(err, syscall.ECONNRESET)
}

func IsTimeout(err error) bool {
	return goerrs.Is(err, os.ErrDeadlineExceeded)
}

// IsRefused reports whether a dial failed because nothing was listening.
func IsRefused(err error) bool {
	return goerrs.Is(err, syscall.ECONNREFUSED)
}

func withDefaults(maxLineLength int, writeTimeout time.Duration) (int, time.Duration) {
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return maxLineLength, writeTimeout
}

func wrapDialError(err error, kind, address string) error {
	return errors.Wrapf(err, "dial %s %s failed", kind, address)
}
