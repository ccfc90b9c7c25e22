package natsbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
)

const (
	defaultClientName    = "devportal"
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
	defaultFlushTimeout  = 2 * time.Second
)

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CommandHandler answers a command request. The returned value is encoded
// as the JSON reply; an error is replied as {"error": "..."}.
type CommandHandler func(deviceID string, payload []byte) (any, error)

// Client wraps a NATS connection.
//
// All methods are safe for concurrent use.
type Client struct {
	conn   *nats.Conn
	logger Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials the server in cfg.URL. It returns ErrDisabled when
// cfg.Enabled is false.
func Connect(cfg config.NATSConfig, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{logger: logger}

	conn, err := nats.Connect(cfg.URL, buildOptions(cfg, logger)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.conn = conn

	logger.Info("nats connected", "url", conn.ConnectedUrlRedacted())
	return c, nil
}

func buildOptions(cfg config.NATSConfig, logger Logger) []nats.Option {
	name := cfg.Name
	if name == "" {
		name = defaultClientName
	}
	wait := time.Duration(cfg.ReconnectWait) * time.Second
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(wait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	return opts
}

// Close drains subscriptions and closes the connection. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is live. Safe on nil.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// HealthCheck round-trips to the server.
func (c *Client) HealthCheck() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.FlushTimeout(defaultFlushTimeout); err != nil {
		return fmt.Errorf("nats health check: %w", err)
	}
	return nil
}

// Publish sends payload on subject.
func (c *Client) Publish(subject string, payload []byte) error {
	if err := validatePublishSubject(subject); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishJSON encodes v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrPublishFailed, err)
	}
	return c.Publish(subject, payload)
}

// ServeCommands answers requests on every device's command subject with
// handler. Handler panics are recovered and replied as errors.
func (c *Client) ServeCommands(handler CommandHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	subject := Subjects{}.AllDeviceCommands()
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		c.answer(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("nats command subscription active", "subject", subject)
	return nil
}

// commandReply is the JSON reply to a command request.
type commandReply struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *Client) answer(msg *nats.Msg, handler CommandHandler) {
	reply := c.dispatch(msg.Subject, msg.Data, handler)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(commandReply{Error: "encoding reply: " + err.Error()}) //nolint:errcheck // plain struct
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("nats reply failed", "subject", msg.Subject, "error", err)
	}
}

func (c *Client) dispatch(subject string, payload []byte, handler CommandHandler) (reply commandReply) {
	id, ok := DeviceIDFromSubject(subject)
	if !ok {
		return commandReply{Error: "malformed command subject"}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("nats command handler panicked", "subject", subject, "panic", r)
			reply = commandReply{Error: "internal error"}
		}
	}()

	result, err := handler(id, payload)
	if err != nil {
		return commandReply{Error: err.Error()}
	}
	return commandReply{OK: true, Result: result}
}
