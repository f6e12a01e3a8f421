package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kpblcaoo/sboxmgr/internal/logger"
)

// DefaultSocketPath is where the agent listens by default.
const DefaultSocketPath = "/tmp/sboxagent.sock"

// DefaultTimeout bounds every agent exchange.
const DefaultTimeout = 30 * time.Second

// DefaultHeartbeatInterval paces client heartbeats while connected.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrUnavailable is returned for every operation once the agent cannot be
// reached. Callers downgrade to internal behavior instead of failing.
var ErrUnavailable = errors.New("agent unavailable")

// Client is a lazy, single-caller-at-a-time connection to the agent. The zero
// configuration talks to DefaultSocketPath with 30 second timeouts.
type Client struct {
	socketPath string
	timeout    time.Duration
	log        *logger.Logger

	mu   sync.Mutex
	conn net.Conn
}

// ClientOptions tune the client; zero values take defaults.
type ClientOptions struct {
	SocketPath string
	Timeout    time.Duration
	Log        *logger.Logger
}

// NewClient constructs a client without connecting; the first command dials.
func NewClient(opts ClientOptions) *Client {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{socketPath: opts.SocketPath, timeout: opts.Timeout, log: opts.Log}
}

// Ping checks agent liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Command(ctx, CommandPing, nil)
	return err
}

// Validate asks the agent to validate a rendered configuration file.
func (c *Client) Validate(ctx context.Context, configPath, clientType string, strict bool) (*ResponsePayload, error) {
	params := map[string]any{"config_path": configPath, "strict": strict}
	if clientType != "" {
		params["client_type"] = clientType
	}
	return c.Command(ctx, CommandValidate, params)
}

// Install asks the agent to install a client binary.
func (c *Client) Install(ctx context.Context, clientType, version string, force bool) (*ResponsePayload, error) {
	return c.Command(ctx, CommandInstall, map[string]any{
		"client_type": clientType,
		"version":     version,
		"force":       force,
	})
}

// Check asks the agent for the installed client state.
func (c *Client) Check(ctx context.Context, clientType string) (*ResponsePayload, error) {
	params := map[string]any{}
	if clientType != "" {
		params["client_type"] = clientType
	}
	return c.Command(ctx, CommandCheck, params)
}

// Command sends one command frame and waits for the matching response. Every
// transport failure closes the connection and reports ErrUnavailable.
func (c *Client) Command(ctx context.Context, command string, params map[string]any) (*ResponsePayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	msg := NewMessage(TypeCommand)
	msg.Command = &CommandPayload{Command: command, Params: params}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, c.drop(err)
	}

	if err := WriteFrame(conn, msg); err != nil {
		return nil, c.drop(err)
	}

	for {
		reply, err := ReadFrame(conn)
		if err != nil {
			return nil, c.drop(err)
		}
		switch reply.Type {
		case TypeHeartbeat:
			// Liveness noise between request and response.
			continue
		case TypeResponse:
			if reply.Response == nil {
				return nil, c.drop(fmt.Errorf("response frame without payload"))
			}
			if reply.Response.Status == StatusError {
				return reply.Response, fmt.Errorf("agent rejected %s: %v", command, reply.Response.Errors)
			}
			return reply.Response, nil
		default:
			c.log.WithFields(map[string]any{"type": reply.Type}).Debug("discarding unexpected agent frame")
		}
	}
}

// SendEvent forwards a pipeline event, best-effort.
func (c *Client) SendEvent(ctx context.Context, payload EventPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	msg := NewMessage(TypeEvent)
	msg.Event = &payload
	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return c.drop(err)
	}
	if err := WriteFrame(conn, msg); err != nil {
		return c.drop(err)
	}
	return nil
}

// Heartbeat sends one client heartbeat frame.
func (c *Client) Heartbeat(ctx context.Context, status, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	msg := NewMessage(TypeHeartbeat)
	msg.Heartbeat = &HeartbeatPayload{AgentID: "sboxmgr", Status: status, Version: version}
	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return c.drop(err)
	}
	if err := WriteFrame(conn, msg); err != nil {
		return c.drop(err)
	}
	return nil
}

// RunHeartbeats sends heartbeats on the given interval until the context is
// cancelled. Send failures are logged and retried on the next tick.
func (c *Client) RunHeartbeats(ctx context.Context, interval time.Duration, version string) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx, "running", version); err != nil {
				c.log.WithFields(map[string]any{"error": err.Error()}).Debug("heartbeat failed")
			}
		}
	}
}

// Close drops the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// connect dials lazily; callers hold c.mu.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		c.log.WithFields(map[string]any{"socket": c.socketPath}).Debug("agent not reachable")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.conn = conn
	return conn, nil
}

// drop closes the broken connection and maps the cause to ErrUnavailable;
// callers hold c.mu.
func (c *Client) drop(cause error) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
