package portal

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// receiveChunkSize bounds each read while reassembling a message.
	receiveChunkSize = 1024

	handshakeTimeout = 10 * time.Second
	closeGracePeriod = 5 * time.Second
)

// Channel is a WebSocket subscription to one streaming endpoint whose
// messages decode into T.
//
// Lifecycle: Connect, StartListening, then StopListening or Close. A closed
// channel may be connected again.
type Channel[T any] struct {
	session *Session
	logger  Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	path    string
	uri     string
	handler func(T)
	done    chan struct{}
	err     error

	listening   atomic.Bool
	stopping    atomic.Bool
	dispatching atomic.Bool
}

// NewChannel creates an unconnected channel on s.
func NewChannel[T any](s *Session) *Channel[T] {
	return &Channel[T]{session: s, logger: s.logger}
}

// OnMessage sets the handler for decoded messages. It runs on the receive
// goroutine; a panicking handler is recovered and logged. The handler may call
// StopListening or Close; those calls then return without waiting for the
// receive goroutine, which exits once the handler returns.
func (c *Channel[T]) OnMessage(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Connect opens the WebSocket at path with the session's credentials and
// trust policy. The scheme is ws or wss, following the descriptor.
func (c *Channel[T]) Connect(ctx context.Context, path string, query url.Values) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	u := c.session.descriptor.ResolveWebSocketURL(path, query)
	uri := u.String()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  c.session.tlsClientConfig(),
		Jar:              c.session.client.Jar,
	}

	conn, resp, err := dialer.DialContext(ctx, uri, c.handshakeHeader())
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close() //nolint:errcheck // handshake response
	}
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &PortalError{StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode), Method: http.MethodGet, URI: uri}
		}
		return &TransportError{Method: http.MethodGet, URI: uri, Err: err}
	}

	c.conn = conn
	c.path = path
	c.uri = uri
	c.err = nil
	c.stopping.Store(false)
	c.logger.Debug("websocket connected", "path", path)
	return nil
}

func (c *Channel[T]) handshakeHeader() http.Header {
	header := http.Header{}
	creds := c.session.descriptor.Credentials()
	if creds.Username != "" || creds.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		header.Set("Authorization", "Basic "+token)
	}
	header.Set("Origin", origin(c.session.descriptor.BaseURL()))
	return header
}

// origin is scheme://host with the port only when it is not the scheme default.
func origin(u *url.URL) string {
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" || (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		return u.Scheme + "://" + host
	}
	return u.Scheme + "://" + host + ":" + port
}

// StartListening starts the receive goroutine. It is a no-op if the channel
// is already listening.
func (c *Channel[T]) StartListening() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if !c.listening.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	c.done = done
	go c.receive(c.conn, c.path, c.uri, done)
	return nil
}

// StopListening sends a close frame and waits for the receive goroutine to
// exit. It is idempotent. If ctx ends first the socket is closed forcibly and
// StopListening still waits for the goroutine before returning ctx.Err().
// Otherwise it returns the error that ended the receive loop, as Err does.
//
// While a message handler is running StopListening only signals the loop to
// stop and returns nil; Done reports when the goroutine has exited.
func (c *Channel[T]) StopListening(ctx context.Context) error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.mu.Unlock()

	if conn == nil || done == nil {
		return nil
	}

	select {
	case <-done:
		return c.Err()
	default:
	}

	c.stopping.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.logger.Debug("websocket close frame not sent", "error", err)
	}
	if c.dispatching.Load() {
		return nil
	}

	timer := time.NewTimer(closeGracePeriod)
	defer timer.Stop()

	select {
	case <-done:
		return c.Err()
	case <-timer.C:
		_ = conn.Close()
		<-done
		return c.Err()
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return ctx.Err()
	}
}

// Close stops listening and releases the socket. It returns the error that
// ended the receive loop, if any, before any error from closing the socket.
func (c *Channel[T]) Close() error {
	err := c.StopListening(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return err
	}

	if c.done == nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	c.conn = nil
	c.done = nil
	return err
}

// IsConnected reports whether the channel holds an open socket.
func (c *Channel[T]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// IsListening reports whether the receive goroutine is running.
func (c *Channel[T]) IsListening() bool {
	return c.listening.Load()
}

// Done is closed when the current receive goroutine exits. It is nil before
// StartListening.
func (c *Channel[T]) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that ended the receive loop, or nil for a clean stop.
func (c *Channel[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel[T]) receive(conn *websocket.Conn, path, uri string, done chan struct{}) {
	defer close(done)
	defer c.listening.Store(false)

	for {
		payload, err := readMessage(conn)
		if err != nil {
			if c.stopping.Load() || isCleanClose(err) {
				c.logger.Debug("websocket receive loop stopped", "path", path)
				return
			}
			c.logger.Warn("websocket receive failed", "path", path, "error", err)
			c.mu.Lock()
			c.err = &TransportError{Method: http.MethodGet, URI: uri, Err: err}
			c.mu.Unlock()
			return
		}

		var msg T
		if err := decodeJSON(path, uri, payload, &msg); err != nil {
			c.logger.Warn("websocket message dropped", "path", path, "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel[T]) dispatch(msg T) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	c.dispatching.Store(true)
	defer c.dispatching.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("websocket handler panicked", "panic", r)
		}
	}()
	handler(msg)
}

// readMessage reassembles one logical message in receiveChunkSize reads.
// Message boundaries come from the frame FIN bit, not a length prefix.
func readMessage(conn *websocket.Conn) ([]byte, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	chunk := make([]byte, receiveChunkSize)
	for {
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// isCleanClose treats server close frames and peer resets as a normal end of
// stream.
func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// Subscribe connects a channel to path and starts listening with handler.
func Subscribe[T any](ctx context.Context, s *Session, path string, query url.Values, handler func(T)) (*Channel[T], error) {
	ch := NewChannel[T](s)
	ch.OnMessage(handler)

	if err := ch.Connect(ctx, path, query); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", path, err)
	}
	if err := ch.StartListening(); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", path, err)
	}
	return ch, nil
}
