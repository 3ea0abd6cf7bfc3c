// Package client provides a synchronous TCP client for the bridge's
// newline-delimited JSON protocol.
//
// It is the programmatic counterpart of the scripting surface: one call per
// request, responses matched in order on a single connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/protocol/mcp"
)

// CallError is a structured error returned by the bridge.
type CallError struct {
	Code    int
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

// Client is a single-connection bridge client.
//
// Safe for concurrent use; calls are serialized on the connection, which
// matches the per-connection ordering the bridge guarantees.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	decoder *mcp.Decoder
	nextID  int64
}

// Dial connects to a bridge at addr ("host:port").
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge at %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		decoder: mcp.NewDecoder(conn),
	}, nil
}

// Call invokes method with params and returns the decoded result.
//
// A response carrying an error becomes a *CallError. The context deadline,
// if any, bounds the whole round trip.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id, err := json.Marshal(c.nextID)
	if err != nil {
		return nil, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	req := mcp.Request{Method: method, Params: params, ID: id}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := c.conn.Write(append(frame, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.decoder.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp mcp.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, &CallError{Code: resp.Code, Message: resp.Error}
	}
	return resp.Result, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
