// Package client is a Go SDK for the gateway's framed socket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victoralfred/cadgate/dispatcher"
	"github.com/victoralfred/cadgate/internal/frame"
	"github.com/victoralfred/cadgate/resilience"
)

// ErrNotConnected is returned when a request is made on a closed client.
var ErrNotConnected = errors.New("client is not connected")

// Options configures the client.
type Options struct {
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// RequestTimeout bounds one request/response round trip. Executions can
	// be slow; keep this above the server's execution budget.
	RequestTimeout time.Duration

	// MaxFrameSize caps response frames.
	MaxFrameSize int

	// Backoff shapes reconnect attempts.
	Backoff resilience.BackoffConfig
}

// DefaultOptions returns default client options.
func DefaultOptions() Options {
	return Options{
		DialTimeout:    5 * time.Second,
		RequestTimeout: 3 * time.Minute,
		MaxFrameSize:   4 * 1024 * 1024,
		Backoff:        resilience.DefaultBackoffConfig(),
	}
}

// Client is a connection to the gateway. Requests are serialized on the
// single connection; it is safe for concurrent use.
type Client struct {
	addr string
	opts Options

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to the gateway at addr, retrying with backoff.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	c := &Client{addr: addr, opts: opts}

	backoff := resilience.NewExponentialBackoff(opts.Backoff)
	err := resilience.RetryWithBackoff(ctx, backoff, func() error {
		return c.connect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return ErrNotConnected
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Do sends one request and waits for its response. A broken connection is
// redialed once with backoff before the request fails.
func (c *Client) Do(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	resp, err := c.roundTrip(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrNotConnected) {
		return nil, err
	}

	// Reconnect and retry once. The server dispatches a request only after
	// fully reading it, so a send that died mid-frame was not executed.
	backoff := resilience.NewExponentialBackoff(c.opts.Backoff)
	if rerr := resilience.RetryWithBackoff(ctx, backoff, func() error {
		return c.connect(ctx)
	}); rerr != nil {
		return nil, fmt.Errorf("reconnecting: %w (after %v)", rerr, err)
	}
	return c.roundTrip(ctx, req)
}

func (c *Client) roundTrip(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return nil, ErrNotConnected
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	deadline := time.Now().Add(c.opts.RequestTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetDeadline(deadline)

	if err := frame.Write(c.conn, payload); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	data, err := frame.Read(c.conn, c.opts.MaxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var resp dispatcher.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.ID != "" && resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, req.ID)
	}
	return &resp, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, &dispatcher.Request{Type: "ping"})
	if err != nil {
		return err
	}
	if resp.Status != dispatcher.StatusSuccess {
		return fmt.Errorf("ping failed: %s", resp.Message)
	}
	return nil
}

// ValidateCode asks the gateway whether code (with params injected) would be
// accepted.
func (c *Client) ValidateCode(ctx context.Context, code string, values map[string]any) (*dispatcher.Response, error) {
	return c.Do(ctx, &dispatcher.Request{
		Type:   "validate_code",
		Params: codeParams(code, "", values),
	})
}

// ExecuteCode validates and runs code against docName.
func (c *Client) ExecuteCode(ctx context.Context, code, docName string, values map[string]any) (*dispatcher.Response, error) {
	return c.Do(ctx, &dispatcher.Request{
		Type:   "execute_code",
		Params: codeParams(code, docName, values),
	})
}

// RunMacro runs a stored macro against docName.
func (c *Client) RunMacro(ctx context.Context, name, docName string, values map[string]any) (*dispatcher.Response, error) {
	p := map[string]any{"name": name}
	if docName != "" {
		p["doc_name"] = docName
	}
	if len(values) > 0 {
		p["params"] = values
	}
	return c.Do(ctx, &dispatcher.Request{Type: "run_macro", Params: p})
}

// CreateMacro stores a new macro; code may be empty to use a template.
func (c *Client) CreateMacro(ctx context.Context, name, code, template string) (*dispatcher.Response, error) {
	p := map[string]any{"name": name}
	if code != "" {
		p["code"] = code
	}
	if template != "" {
		p["template"] = template
	}
	return c.Do(ctx, &dispatcher.Request{Type: "create_macro", Params: p})
}

// CreateDocument creates a document.
func (c *Client) CreateDocument(ctx context.Context, name string) (*dispatcher.Response, error) {
	return c.Do(ctx, &dispatcher.Request{
		Type:   "create_document",
		Params: map[string]any{"name": name},
	})
}

// GetReport fetches the gateway status report.
func (c *Client) GetReport(ctx context.Context) (*dispatcher.Response, error) {
	return c.Do(ctx, &dispatcher.Request{Type: "get_report"})
}

func codeParams(code, docName string, values map[string]any) map[string]any {
	p := map[string]any{"code": code}
	if docName != "" {
		p["doc_name"] = docName
	}
	if len(values) > 0 {
		p["params"] = values
	}
	return p
}
