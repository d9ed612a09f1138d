package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
	"go.uber.org/zap"
)

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader

	maxLineLength int
	writeTimeout  time.Duration

	mut_write sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func WrapTcpConn(conn net.Conn, maxLineLength int, writeTimeout time.Duration) Conn {
	maxLineLength, writeTimeout = withDefaults(maxLineLength, writeTimeout)
	return &tcpConn{
		conn:          conn,
		reader:        bufio.NewReaderSize(conn, maxLineLength),
		maxLineLength: maxLineLength,
		writeTimeout:  writeTimeout,
	}
}

func (c *tcpConn) ReadLine() (string, error) {
	raw, err := c.reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", &perrs.LineTooLong{Size: len(raw), MaxSize: c.maxLineLength}
	}
	if err != nil {
		// A partial line followed by end-of-stream is not a message.
		if err == io.EOF {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *tcpConn) WriteLine(line string) error {
	c.mut_write.Lock()
	defer c.mut_write.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

type tcpListener struct {
	listener net.Listener
	params   ListenParams
	log      *zap.Logger
}

func ListenTcp(params ListenParams) (*tcpListener, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	listener, err := net.Listen("tcp", params.Address)
	if err != nil {
		return nil, err
	}

	log := logger.With(zap.String("handler", "TCP"))
	log.Info("Listening for TCP connections", zap.String("address", listener.Addr().String()))

	return &tcpListener{
		listener: listener,
		params:   params,
		log:      log,
	}, nil
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return WrapTcpConn(conn, l.params.MaxLineLength, l.params.WriteTimeout), nil
}

func (l *tcpListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.listener.Close()
}

func DialTcp(ctx context.Context, params DialParams) (Conn, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", params.Address)
	if err != nil {
		return nil, wrapDialError(err, Kind_TCP, params.Address)
	}
	return WrapTcpConn(conn, params.MaxLineLength, params.WriteTimeout), nil
}
