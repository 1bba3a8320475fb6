package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
	"github.com/wmdanor/wsclient/transport"
)

const (
	defaultCloseTimeout   = 15 * time.Second
	defaultReadBufferSize = 4096
	defaultMessageBuffer  = 16
)

// Dialer holds options for connecting to a websocket server.
// The zero value is ready to use.
type Dialer struct {
	// Transport opens the byte stream, transport.DefaultTCPDialer when nil.
	// Connect timeouts belong here.
	Transport transport.Dialer

	// Header is added to the handshake request. Protocol headers can't be overridden.
	Header http.Header

	// CloseTimeout bounds the wait for the server's close frame, 15s when 0.
	CloseTimeout time.Duration

	// MaxMessageSize is the largest accepted frame payload, frame.DefaultMaxPayload when 0.
	MaxMessageSize uint64

	// MessageBuffer is the capacity of the received messages channel.
	MessageBuffer int

	ReadBufferSize int

	// Logger is used for internal protocol logs. When nil, logs are discarded
	// unless WS_LOG=1 is set in the environment.
	Logger *zap.Logger
}

var DefaultDialer = &Dialer{}

var envLogger = sync.OnceValue(func() *zap.Logger {
	if os.Getenv("WS_LOG") != "1" {
		return zap.NewNop()
	}

	cfg := zap.NewDevelopmentConfig()
	if f := os.Getenv("WS_LOG_FILE"); f != "" {
		cfg.OutputPaths = []string{f}
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
})

// Dial connects to a ws:// URL. wss:// is accepted only with a custom
// Transport, since TLS is the transport's job.
func (d *Dialer) Dial(ctx context.Context, urlStr string) (*Conn, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: [%w]", err)
	}

	port := 80
	switch u.Scheme {
	case "ws":
	case "wss":
		if d.Transport == nil {
			return nil, errors.New("wss requires a Transport that provides TLS")
		}
		port = 443
	default:
		return nil, fmt.Errorf("url schema must be ws or wss, actual %q", u.Scheme)
	}

	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: [%w]", p, err)
		}
	}

	return d.Connect(ctx, u.Hostname(), port, u.RequestURI())
}

// Connect opens a transport to host:port and performs the opening handshake
// for the resource path. The returned Conn is open and already receiving.
// On failure the transport is closed.
func (d *Dialer) Connect(ctx context.Context, host string, port int, path string) (_ *Conn, err error) {
	u, err := requestURL(hostHeader(host, port), path)
	if err != nil {
		return nil, fmt.Errorf("invalid resource path %q: [%w]", path, err)
	}

	l := d.Logger
	if l == nil {
		l = envLogger()
	}

	c := newConn(uuid.NewString(), d.config(), l)
	l = c.l

	td := d.Transport
	if td == nil {
		td = transport.DefaultTCPDialer
	}

	l.Debug("dialing websocket server", zap.String("host", host), zap.Int("port", port), zap.String("path", u.RequestURI()))

	netConn, err := td.Dial(ctx, host, port)
	if err != nil {
		c.setState(StateClosed)
		return nil, &TransportError{Op: "dial", Err: err}
	}
	defer func() {
		if netConn == nil {
			return
		}
		c.setState(StateClosed)
		closeErr := netConn.Close()
		// an interrupted handshake already closed the stream
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return
		}
		err = multierr.Append(err, closeErr)
	}()

	leftover, err := negotiate(ctx, netConn, u, d.Header, c.cfg.readBufferSize, l)
	if err != nil {
		l.Debug("handshake failed", zap.Error(err))
		return nil, err
	}

	c.open(netConn, leftover)
	netConn = nil

	l.Debug("websocket connection open")

	return c, nil
}

// Dial connects with DefaultDialer.
func Dial(ctx context.Context, urlStr string) (*Conn, error) {
	return DefaultDialer.Dial(ctx, urlStr)
}

type connConfig struct {
	closeTimeout   time.Duration
	maxMessageSize uint64
	messageBuffer  int
	readBufferSize int
}

func (d *Dialer) config() connConfig {
	cfg := connConfig{
		closeTimeout:   d.CloseTimeout,
		maxMessageSize: d.MaxMessageSize,
		messageBuffer:  d.MessageBuffer,
		readBufferSize: d.ReadBufferSize,
	}
	if cfg.closeTimeout <= 0 {
		cfg.closeTimeout = defaultCloseTimeout
	}
	if cfg.maxMessageSize == 0 {
		cfg.maxMessageSize = frame.DefaultMaxPayload
	}
	if cfg.messageBuffer <= 0 {
		cfg.messageBuffer = defaultMessageBuffer
	}
	if cfg.readBufferSize <= 0 {
		cfg.readBufferSize = defaultReadBufferSize
	}
	return cfg
}
