package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
)

// startTestServer spins up a full stack (registry, dispatcher, pump, server)
// on an ephemeral port and returns the server. Everything is torn down with
// the test.
func startTestServer(t *testing.T, config Config, register func(*bridge.Registry)) *BridgeServer {
	t.Helper()

	registry := bridge.NewRegistry()
	registry.Register("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return params, nil
	})
	registry.Register("fail", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("no active design")
	})
	if register != nil {
		register(registry)
	}

	dispatcher := bridge.NewDispatcher(registry, bridge.DispatcherConfig{})
	srv := New(config, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		bridge.NewPump(dispatcher).Run(ctx)
	}()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(ctx)
	}()

	require.Eventually(t, func() bool {
		return srv.Addr() != nil
	}, 2*time.Second, 10*time.Millisecond, "server never bound its listener")

	t.Cleanup(func() {
		cancel()
		srv.Stop()
		select {
		case <-serveDone:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Stop")
		}
		<-pumpDone
	})

	return srv
}

func dialServer(t *testing.T, srv *BridgeServer) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, bufio.NewReader(conn)
}

func sendRequest(t *testing.T, conn net.Conn, reader *bufio.Reader, request string) map[string]any {
	t.Helper()

	_, err := fmt.Fprintf(conn, "%s\n", request)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var response map[string]any
	require.NoError(t, json.Unmarshal(line, &response))
	return response
}

func TestServe_Echo(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	resp := sendRequest(t, conn, reader, `{"method":"echo","params":{"x":1},"id":7}`)

	assert.Equal(t, map[string]any{"x": float64(1)}, resp["result"])
	assert.Equal(t, float64(7), resp["id"])
	assert.NotContains(t, resp, "error")
}

func TestServe_UnknownMethod(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	resp := sendRequest(t, conn, reader, `{"method":"nope","params":{},"id":1}`)

	assert.Contains(t, resp["error"], "Unknown method")
	assert.Equal(t, float64(-32601), resp["code"])
	assert.Equal(t, float64(1), resp["id"])
}

func TestServe_HandlerFailure(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	resp := sendRequest(t, conn, reader, `{"method":"fail","params":{},"id":2}`)

	assert.Equal(t, "no active design", resp["error"])
	assert.Equal(t, float64(-32603), resp["code"])
	assert.Equal(t, float64(2), resp["id"])
}

func TestServe_InvalidJSONKeepsConnectionOpen(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	resp := sendRequest(t, conn, reader, `this is not json`)
	assert.Equal(t, "Invalid JSON", resp["error"])
	assert.Equal(t, float64(-32700), resp["code"])

	// The connection must remain usable after a bad frame.
	resp = sendRequest(t, conn, reader, `{"method":"echo","params":{"ok":true},"id":3}`)
	assert.Equal(t, map[string]any{"ok": true}, resp["result"])
}

func TestServe_PerConnectionOrdering(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	// Write several requests back to back, then read responses; they must
	// come back in request order.
	for i := 0; i < 5; i++ {
		_, err := fmt.Fprintf(conn, `{"method":"echo","params":{"seq":%d},"id":%d}`+"\n", i, i)
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		line, err := reader.ReadBytes('\n')
		require.NoError(t, err)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(line, &resp))
		result := resp["result"].(map[string]any)
		assert.Equal(t, float64(i), result["seq"])
	}
}

func TestStop_RefusesNewConnectionsKeepsExisting(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)
	conn, reader := dialServer(t, srv)

	// Prove the connection works, then stop the acceptor.
	resp := sendRequest(t, conn, reader, `{"method":"echo","params":{"n":1},"id":1}`)
	require.NotNil(t, resp["result"])

	srv.Stop()

	// New connections must be refused once the listener is closed.
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", srv.Addr().String(), 100*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	// The already-accepted connection still completes a full cycle.
	resp = sendRequest(t, conn, reader, `{"method":"echo","params":{"n":2},"id":2}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, float64(2), result["n"])
}

func TestStop_Idempotent(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)

	srv.Stop()
	srv.Stop() // second call must be a no-op, not a panic
}

func TestStop_BeforeServe(t *testing.T) {
	registry := bridge.NewRegistry()
	dispatcher := bridge.NewDispatcher(registry, bridge.DispatcherConfig{})
	srv := New(Config{}, dispatcher)

	srv.Stop()

	// A stopped server must not bind: Serve returns promptly instead of
	// entering the accept loop.
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.Serve(context.Background())
	}()

	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept running after a prior Stop")
	}
	assert.Nil(t, srv.Addr())
}

func TestServe_ConcurrentConnections(t *testing.T) {
	srv := startTestServer(t, Config{}, nil)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(n int) {
			conn, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				done <- err
				return
			}
			defer conn.Close()

			reader := bufio.NewReader(conn)
			if _, err := fmt.Fprintf(conn, `{"method":"echo","params":{"conn":%d},"id":%d}`+"\n", n, n); err != nil {
				done <- err
				return
			}
			line, err := reader.ReadBytes('\n')
			if err != nil {
				done <- err
				return
			}

			var resp map[string]any
			if err := json.Unmarshal(line, &resp); err != nil {
				done <- err
				return
			}
			result, ok := resp["result"].(map[string]any)
			if !ok || result["conn"] != float64(n) {
				done <- fmt.Errorf("connection %d got %v", n, resp)
				return
			}
			done <- nil
		}(i)
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
}

func TestStart_ReturnsOnceListenerIsBound(t *testing.T) {
	registry := bridge.NewRegistry()
	registry.Register("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return params, nil
	})
	dispatcher := bridge.NewDispatcher(registry, bridge.DispatcherConfig{})
	srv := New(Config{}, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.NewPump(dispatcher).Run(ctx)

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	require.NotNil(t, srv.Addr())

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	resp := sendRequest(t, conn, reader, `{"method":"echo","params":{"x":1},"id":7}`)
	assert.Equal(t, map[string]any{"x": float64(1)}, resp["result"])
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{RequestsPerSecond: 50}
	c.applyDefaults()

	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, uint(100), c.RequestBurst)
	assert.Equal(t, 100*time.Millisecond, c.StartupGrace)
}
