package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	perrs "github.com/sessamekesh/pingpong-netcode/pkg/errors"
	utils "github.com/sessamekesh/pingpong-netcode/pkg/util"
	"go.uber.org/zap"
)

var expectedCloseErrors = []int{websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived}

type websocketConn struct {
	conn *websocket.Conn

	maxLineLength int
	writeTimeout  time.Duration

	mut_write sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func wrapWebsocketConn(conn *websocket.Conn, maxLineLength int, writeTimeout time.Duration) *websocketConn {
	maxLineLength, writeTimeout = withDefaults(maxLineLength, writeTimeout)
	conn.SetReadLimit(int64(maxLineLength))
	return &websocketConn{
		conn:          conn,
		maxLineLength: maxLineLength,
		writeTimeout:  writeTimeout,
	}
}

func (c *websocketConn) ReadLine() (string, error) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, expectedCloseErrors...) {
				return "", io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", &perrs.LineTooLong{Size: len(payload), MaxSize: c.maxLineLength}
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return "", fmt.Errorf("websocket closed with code %d: %w", closeErr.Code, io.ErrUnexpectedEOF)
			}
			return "", err
		}

		if msgType != websocket.TextMessage {
			continue
		}

		return strings.TrimSpace(string(payload)), nil
	}
}

func (c *websocketConn) WriteLine(line string) error {
	c.mut_write.Lock()
	defer c.mut_write.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line+"\n"))
}

func (c *websocketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *websocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *websocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.mut_write.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mut_write.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

type websocketListener struct {
	upgrader *websocket.Upgrader
	server   *http.Server
	listener net.Listener
	params   ListenParams

	accepted  chan Conn
	done      chan struct{}
	closeOnce sync.Once
	serveDone chan struct{}

	log       *zap.Logger
	stringGen *utils.RandomSource
}

func checkOrigin(r *http.Request, params ListenParams) bool {
	if len(params.AllowedOrigins) == 0 {
		return true
	}
	return utils.Contains(r.Header.Get("Origin"), params.AllowedOrigins)
}

func ListenWebsocket(params ListenParams) (*websocketListener, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.WebsocketEndpoint == "" {
		params.WebsocketEndpoint = "/ws"
	}

	listener, err := net.Listen("tcp", params.Address)
	if err != nil {
		return nil, err
	}

	l := &websocketListener{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params)
			},
		},
		listener:  listener,
		params:    params,
		accepted:  make(chan Conn),
		done:      make(chan struct{}),
		serveDone: make(chan struct{}),
		log:       logger.With(zap.String("handler", "WebSocket")),
		stringGen: utils.CreateRandomSource(time.Now().UnixMicro()),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(params.WebsocketEndpoint, l.onWsRequest)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(l.serveDone)
		l.log.Sugar().Infof("Starting WebSocket server at %s%s", listener.Addr().String(), params.WebsocketEndpoint)
		if err := l.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("Unexpected WebSocket server close!", zap.Error(err))
		}
	}()

	return l, nil
}

func (l *websocketListener) onWsRequest(w http.ResponseWriter, r *http.Request) {
	log := l.log.With(zap.String("wsConnId", l.stringGen.GetRandomString(6)))

	log.Debug("New WebSocket request")
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}

	// The hijacked connection outlives this handler once it has been handed to Accept.
	conn := wrapWebsocketConn(c, l.params.MaxLineLength, l.params.WriteTimeout)
	select {
	case l.accepted <- conn:
	case <-l.done:
		log.Info("Listener closed before connection was accepted")
		conn.Close()
	}
}

func (l *websocketListener) Accept() (Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *websocketListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *websocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		l.log.Info("Attempting to trigger shutdown of WebSocket server")

		if err = l.server.Shutdown(shutdownCtx); err != nil {
			l.log.Error("Failed to gracefully shut down WebSocket server", zap.Error(err))
			return
		}
		<-l.serveDone
		l.log.Info("Successfully shutdown WebSocket server")
	})
	return err
}

func DialWebsocket(ctx context.Context, params DialParams) (Conn, error) {
	endpoint := params.WebsocketEndpoint
	if endpoint == "" {
		endpoint = "/ws"
	}
	url := fmt.Sprintf("ws://%s%s", params.Address, endpoint)

	c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, wrapDialError(err, Kind_Websocket, url)
	}
	return wrapWebsocketConn(c, params.MaxLineLength, params.WriteTimeout), nil
}
