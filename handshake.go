package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/transport"
)

const (
	headerUpgrade      = "Upgrade"
	headerConn         = "Connection"
	headerSecWsVersion = "Sec-WebSocket-Version"
	headerSecWsProto   = "Sec-WebSocket-Protocol"
	headerSecWsExt     = "Sec-WebSocket-Extensions"
	headerSecWsKey     = "Sec-WebSocket-Key"
	headerSecWsAccept  = "Sec-WebSocket-Accept"

	headerUpgradeExpected      = "websocket"
	headerConnExpected         = "Upgrade"
	headerSecWsVersionExpected = "13"

	wsGuid = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
)

func newSecWsKey() string {
	nonce := [16]byte{}

	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(nonce[:])

	return base64.StdEncoding.EncodeToString(nonce[:])
}

type secWebsocketAccept string

func newSecWebsocketAccept(secWebSocketKey string) secWebsocketAccept {
	hasher := sha1.New()
	hasher.Write([]byte(secWebSocketKey + wsGuid))

	return secWebsocketAccept(base64.StdEncoding.EncodeToString(hasher.Sum(nil)))
}

func (a secWebsocketAccept) String() string {
	return string(a)
}

// Checks if header equals expected value (case insensitive)
// If yes - returns `"", true`
// If no - returns `"<actual_value>", false`
func headerEquals(h http.Header, header, expectedValue string) (string, bool) {
	actualValue := h.Get(header)
	if strings.EqualFold(expectedValue, actualValue) {
		return "", true
	}
	return actualValue, false
}

// headerContainsToken reports whether any comma separated value of the
// header equals token, case insensitive.
func headerContainsToken(h http.Header, header, token string) bool {
	for _, v := range h.Values(header) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func hostHeader(host string, port int) string {
	if port == 80 {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func requestURL(hostport, path string) (*url.URL, error) {
	if path == "" {
		path = "/"
	}
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, err
	}
	u.Scheme = "http"
	u.Host = hostport
	return u, nil
}

// negotiate runs the client side of the opening handshake over conn.
// Bytes the server sent after its header block are returned as leftover,
// they belong to the first frames. conn is not closed on failure.
func negotiate(ctx context.Context, conn transport.Conn, u *url.URL, header http.Header, readBufSize int, l *zap.Logger) (leftover []byte, err error) {
	// a blocked read or write is released by closing the stream
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		if !stop() && ctx.Err() != nil {
			err = fmt.Errorf("handshake interrupted: [%w]", ctx.Err())
		}
	}()

	req := http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       u.Host,
		Header:     make(http.Header, len(header)+4),
	}

	for hk, hv := range header {
		for _, v := range hv {
			req.Header.Add(hk, v)
		}
	}

	req.Header.Set(headerUpgrade, headerUpgradeExpected)
	req.Header.Set(headerConn, headerConnExpected)
	req.Header.Set(headerSecWsVersion, headerSecWsVersionExpected)
	// neither is supported, never let caller headers offer them
	req.Header.Del(headerSecWsProto)
	req.Header.Del(headerSecWsExt)

	secWsKey := newSecWsKey()
	expectedSecWsAccept := newSecWebsocketAccept(secWsKey).String()

	req.Header.Set(headerSecWsKey, secWsKey)

	l.Debug("writing handshake request", zap.String("host", req.Host), zap.String("uri", u.RequestURI()))

	err = req.Write(conn)
	if err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	bufReader := bufio.NewReaderSize(conn, readBufSize)

	res, err := http.ReadResponse(bufReader, &req)
	if err != nil {
		return nil, classifyReadError(err)
	}

	l.Debug("received handshake response", zap.Int("status", res.StatusCode))

	if res.StatusCode != http.StatusSwitchingProtocols {
		return nil, rejected("status code must be %d, actual %d", http.StatusSwitchingProtocols, res.StatusCode)
	}

	actual, ok := headerEquals(res.Header, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return nil, rejected("%q header must be %q, actual %q", headerUpgrade, headerUpgradeExpected, actual)
	}

	if !headerContainsToken(res.Header, headerConn, headerConnExpected) {
		return nil, rejected("%q header must contain %q, actual %q",
			headerConn, headerConnExpected, res.Header.Get(headerConn))
	}

	secWsAccept := res.Header.Get(headerSecWsAccept)
	if len(secWsAccept) == 0 {
		return nil, rejected("missing %q header", headerSecWsAccept)
	} else if secWsAccept != expectedSecWsAccept {
		return nil, rejected("%q header does not equal expected value", headerSecWsAccept)
	}

	if ext := res.Header.Get(headerSecWsExt); ext != "" {
		return nil, rejected("server selected extension %q that was not offered", ext)
	}
	if proto := res.Header.Get(headerSecWsProto); proto != "" {
		return nil, rejected("server selected subprotocol %q that was not offered", proto)
	}

	if n := bufReader.Buffered(); n > 0 {
		buffered, _ := bufReader.Peek(n)
		leftover = append([]byte(nil), buffered...)
		l.Debug("handshake response followed by frame bytes", zap.Int("bytes", n))
	}

	return leftover, nil
}

func classifyReadError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &HandshakeError{
			Kind:   ErrHandshakeIncomplete,
			Reason: "stream closed before the end of the response header",
			Err:    err,
		}
	case errors.Is(err, net.ErrClosed), errors.As(err, &netErr):
		return &TransportError{Op: "read", Err: err}
	default:
		return &HandshakeError{
			Kind:   ErrHandshakeRejected,
			Reason: "malformed response",
			Err:    err,
		}
	}
}
