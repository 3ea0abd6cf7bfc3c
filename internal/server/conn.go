package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
	"github.com/getmanbill/fusion360-mcp/internal/logger"
	"github.com/getmanbill/fusion360-mcp/internal/protocol/mcp"
	"github.com/getmanbill/fusion360-mcp/internal/ratelimiter"
)

// conn serves exactly one client connection: a read-decode-dispatch-encode-
// write loop. The socket is owned exclusively by this worker; nothing else
// reads or writes it.
type conn struct {
	server  *BridgeServer
	conn    net.Conn
	limiter *ratelimiter.RateLimiter
}

func (s *BridgeServer) newConn(tcpConn net.Conn) *conn {
	var limiter *ratelimiter.RateLimiter
	if s.config.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(s.config.RequestsPerSecond, s.config.RequestBurst)
	}

	return &conn{
		server:  s,
		conn:    tcpConn,
		limiter: limiter,
	}
}

// serve processes requests until the peer disconnects or the socket faults.
// Requests on one connection are handled strictly in arrival order: the next
// frame is not read until the previous response has been written.
func (c *conn) serve(ctx context.Context) {
	defer c.conn.Close()

	decoder := mcp.NewDecoder(c.conn)
	encoder := mcp.NewEncoder(c.conn)

	for {
		frame, err := decoder.Next()
		if err != nil {
			if err != io.EOF {
				logger.Debug("connection fault from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		resp := c.handleFrame(ctx, frame)
		if err := encoder.Encode(resp); err != nil {
			// A marshal failure is this request's problem; report it
			// and keep the connection. A write failure is terminal.
			fallback := mcp.NewError(resp.ID, mcp.CodeInternalError, "failed to encode response")
			if err := encoder.Encode(fallback); err != nil {
				logger.Debug("write fault to %s: %v", c.conn.RemoteAddr(), err)
				return
			}
		}
	}
}

// handleFrame turns one raw frame into exactly one response. Every failure
// mode maps to an error response; nothing here may kill the worker loop.
func (c *conn) handleFrame(ctx context.Context, frame []byte) *mcp.Response {
	req, err := mcp.ParseRequest(frame)
	if err != nil {
		logger.Debug("malformed request from %s: %v", c.conn.RemoteAddr(), err)
		return mcp.NewError(nil, mcp.CodeInvalidJSON, "Invalid JSON")
	}

	result, err := c.server.dispatcher.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req, err)
	}

	return mcp.NewResult(req.ID, result)
}

// errorResponse maps dispatch failures onto the wire error codes. Handler
// messages pass through verbatim; everything keeps the request id so the
// client can correlate.
func errorResponse(req *mcp.Request, err error) *mcp.Response {
	var execErr *bridge.ExecutionError

	switch {
	case errors.Is(err, bridge.ErrUnknownMethod):
		return mcp.NewError(req.ID, mcp.CodeUnknownMethod,
			fmt.Sprintf("Unknown method: %s", req.Method))

	case errors.Is(err, bridge.ErrTimeout):
		return mcp.NewError(req.ID, mcp.CodeInternalError,
			"Main thread execution timeout")

	case errors.As(err, &execErr):
		return mcp.NewError(req.ID, mcp.CodeInternalError, execErr.Message)

	default:
		return mcp.NewError(req.ID, mcp.CodeInternalError, err.Error())
	}
}
