package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
	"github.com/getmanbill/fusion360-mcp/internal/logger"
	"github.com/getmanbill/fusion360-mcp/internal/protocol/mcp"
)

// Config holds the bridge server's listener settings.
//
// Zero values are replaced with defaults by New.
type Config struct {
	// Host is the interface to bind. The bridge is a companion to a
	// desktop application, so the default is localhost only.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on. 0 asks the OS for an ephemeral
	// port (used by tests); the configuration layer defaults it to 8765.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections caps concurrent client connections. 0 means
	// unlimited, which is acceptable for a single-user desktop tool.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// RequestsPerSecond paces request processing per connection.
	// 0 disables pacing.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// RequestBurst is the per-connection burst capacity when pacing is
	// enabled. Default: 2x RequestsPerSecond.
	RequestBurst uint `mapstructure:"request_burst"`

	// StartupGrace is how long Serve's caller waits before treating the
	// accept loop as running. Guards against a Stop racing an immediate
	// Start. Default: 100ms.
	StartupGrace time.Duration `mapstructure:"startup_grace"`
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = mcp.DefaultHost
	}
	if c.RequestsPerSecond > 0 && c.RequestBurst == 0 {
		c.RequestBurst = 2 * c.RequestsPerSecond
	}
	if c.StartupGrace == 0 {
		c.StartupGrace = 100 * time.Millisecond
	}
}

// BridgeServer owns the listening socket and the accept loop.
//
// Lifecycle: New -> Serve (blocks) -> Stop. Serve freezes the handler
// registry before accepting the first connection, so all registration must
// happen beforehand. Stop closes the listener; in-flight connections are not
// force-terminated and run until their peer disconnects.
type BridgeServer struct {
	config     Config
	dispatcher *bridge.Dispatcher

	// mu guards listener, which is written by Serve and read by Addr and
	// Stop from other goroutines.
	mu       sync.Mutex
	listener net.Listener

	// shutdown is closed by initiateShutdown; the accept loop uses it to
	// tell "listener closed by us" apart from a transient accept error.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// connCount tracks active connections for logging and tests.
	connCount atomic.Int32

	// connSemaphore bounds concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}
}

// New creates a bridge server over dispatcher. The server is not listening
// until Serve is called.
func New(config Config, dispatcher *bridge.Dispatcher) *BridgeServer {
	if dispatcher == nil {
		panic("server: nil dispatcher")
	}
	config.applyDefaults()

	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}

	return &BridgeServer{
		config:        config,
		dispatcher:    dispatcher,
		shutdown:      make(chan struct{}),
		connSemaphore: sem,
	}
}

// Addr returns the listener's address, or nil before Serve has bound it.
// Tests use this to discover ephemeral ports.
func (s *BridgeServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections currently being
// served.
func (s *BridgeServer) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Serve binds the configured address and accepts connections until ctx is
// cancelled or Stop is called. Each accepted connection gets its own worker
// goroutine.
//
// Go's TCP listener enables address reuse on unix platforms, so a restart
// after an unclean shutdown does not fail with "address in use".
func (s *BridgeServer) Serve(ctx context.Context) error {
	// Stop may already have run; in that case do not bind at all.
	select {
	case <-s.shutdown:
		return nil
	default:
	}

	// No registration may happen once workers start doing concurrent
	// lookups.
	s.dispatcher.Freeze()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// Stop racing with the bind above would have found a nil listener and
	// closed nothing; re-check now that the listener is published.
	select {
	case <-s.shutdown:
		listener.Close()
		return nil
	default:
	}
	logger.Info("bridge listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		s.initiateShutdown()
	}()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				// Expected: the listener was closed by Stop.
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			logger.Debug("error accepting connection: %v", err)
			continue
		}

		active := s.connCount.Add(1)
		logger.Debug("connection accepted from %s (active: %d)", tcpConn.RemoteAddr(), active)

		worker := s.newConn(tcpConn)
		go func() {
			defer func() {
				remaining := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				logger.Debug("connection closed from %s (active: %d)", tcpConn.RemoteAddr(), remaining)
			}()

			worker.serve(ctx)
		}()
	}
}

// Start launches Serve on its own goroutine and returns once the listener is
// confirmed bound, or after StartupGrace at the latest. This is the entry
// point for hosts with their own load/unload lifecycle that cannot block in
// Serve; pairing an immediate Stop with Start is safe.
func (s *BridgeServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ctx)
	}()

	deadline := time.After(s.config.StartupGrace)
	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("bridge server failed to start: %w", err)
			}
			return nil
		case <-deadline:
			return nil
		default:
			if s.Addr() != nil {
				return nil
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// Stop closes the listening socket, which makes the accept loop exit on its
// next iteration. Safe to call repeatedly and safe to call before Serve; it
// does not wait for in-flight connections.
func (s *BridgeServer) Stop() {
	s.initiateShutdown()
}

func (s *BridgeServer) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()

		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("error closing listener: %v", err)
			}
		}
		logger.Info("bridge server stopped accepting connections")
	})
}
