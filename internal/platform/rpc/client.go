package rpc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/telehealth/internal/platform/wire"
)

// Client is a synchronous connection to a Server. Call is safe for
// concurrent use; calls are serialised on the one stream.
type Client struct {
	nc       net.Conn
	br       *bufio.Reader
	mu       sync.Mutex
	maxFrame int
	actorID  string
	token    string
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return NewClient(nc), nil
}

// NewClient wraps an established connection.
func NewClient(nc net.Conn) *Client {
	return &Client{nc: nc, br: bufio.NewReader(nc), maxFrame: wire.DefaultMaxFrameSize}
}

// SetActor sets the actorId sent with subsequent calls.
func (c *Client) SetActor(actorID string) {
	c.mu.Lock()
	c.actorID = actorID
	c.mu.Unlock()
}

// SetToken sets the session token sent with subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Call sends one request and waits for its response. The context deadline,
// if any, applies to the whole round trip.
func (c *Client) Call(ctx context.Context, typ string, fields interface{}) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := wire.NewRequest(uuid.New().String(), typ, c.actorID, fields)
	if err != nil {
		return nil, err
	}
	req.Token = c.token

	deadline, _ := ctx.Deadline()
	c.nc.SetDeadline(deadline)
	defer c.nc.SetDeadline(time.Time{})

	if err := c.send(req); err != nil {
		return nil, err
	}
	resp, err := c.receive()
	if err != nil {
		return nil, err
	}
	if resp.RequestID != req.RequestID {
		return nil, fmt.Errorf("rpc: response %s does not match request %s", resp.RequestID, req.RequestID)
	}
	return resp, nil
}

// Send writes a request without waiting for the response. Used together with
// Receive to pipeline requests.
func (c *Client) Send(req *wire.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(req)
}

// Receive reads the next response.
func (c *Client) Receive() (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive()
}

// Ping issues PING and reports whether the server answered PONG.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Call(ctx, OpPing, nil)
	if err != nil {
		return err
	}
	if !resp.Success || resp.Type != TagPong {
		return fmt.Errorf("rpc: unexpected ping response %s: %s", resp.Type, resp.Message)
	}
	return nil
}

func (c *Client) Close() error {
	return c.nc.Close()
}

func (c *Client) send(req *wire.Request) error {
	if err := wire.WriteMessage(c.nc, req); err != nil {
		return fmt.Errorf("rpc: send %s: %w", req.Type, err)
	}
	return nil
}

func (c *Client) receive() (*wire.Response, error) {
	resp, err := wire.ReadResponse(c.br, c.maxFrame)
	if err != nil {
		return nil, fmt.Errorf("rpc: receive: %w", err)
	}
	return resp, nil
}
