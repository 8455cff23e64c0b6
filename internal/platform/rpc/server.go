// Package rpc serves framed telehealth requests over TCP.
//
// A Server accepts connections up to a fixed capacity and runs one goroutine
// per connection. Each connection is strictly request/response: one request
// is read, dispatched through the Router and answered before the next read.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/wire"
)

const (
	// DefaultMaxConnections is used when ServerConfig.MaxConnections is unset.
	DefaultMaxConnections = 100

	// DefaultShutdownTimeout bounds Stop.
	DefaultShutdownTimeout = 30 * time.Second

	defaultWriteTimeout = 10 * time.Second
)

// Dispatcher turns one request into one response.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *wire.Request, remoteAddr string) *wire.Response
}

// ServerConfig holds listener settings. Zero values select defaults; a zero
// IdleTimeout or RequestTimeout disables the deadline.
type ServerConfig struct {
	Addr            string
	MaxConnections  int
	MaxFrameBytes   int
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the listener and connection pool.
type Server struct {
	cfg        ServerConfig
	dispatcher Dispatcher
	logger     zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[*connection]struct{}
	active   atomic.Int64
	accepted atomic.Int64
	rejected atomic.Int64

	baseCtx  context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	draining chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a server that dispatches every request to d.
func NewServer(cfg ServerConfig, d Dispatcher, logger zerolog.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = wire.DefaultMaxFrameSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.With().Str("component", "rpc").Logger(),
		conns:      make(map[*connection]struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		draining:   make(chan struct{}),
	}
}

// Start begins listening. It is non-blocking: the accept loop runs in a
// background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rpc: failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.Serve(ln)
	return nil
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ln net.Listener) {
	s.listener = ln
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("rpc server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
}

// Addr returns the listener address. This is useful when the server was
// started on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Active         int   `json:"active_connections"`
	MaxConnections int   `json:"max_connections"`
	Accepted       int64 `json:"accepted_total"`
	Rejected       int64 `json:"rejected_total"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Active:         s.ActiveConnections(),
		MaxConnections: s.cfg.MaxConnections,
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
	}
}

// Stop shuts down with the configured shutdown timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting, lets every connection finish the request it is
// serving, and closes idle connections. Connections still open when ctx is
// done are closed forcibly and their handler contexts cancelled; Shutdown then
// returns ctx.Err().
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		close(s.draining)
	})

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	// Wake handlers blocked waiting for the next request. Handlers mid-request
	// see draining after they write their response.
	s.mu.Lock()
	for c := range s.conns {
		if c.getState() == stateReading {
			c.nc.SetReadDeadline(time.Now())
		}
	}
	open := len(s.conns)
	s.mu.Unlock()
	s.logger.Info().Int("open_connections", open).Msg("rpc server draining")

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.cancel()
		s.logger.Info().Msg("rpc server stopped")
		return err
	case <-ctx.Done():
	}

	s.mu.Lock()
	forced := len(s.conns)
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()
	s.cancel()
	<-finished

	s.logger.Warn().Int("forced", forced).Msg("rpc server shutdown timed out, connections force-closed")
	return ctx.Err()
}

// acceptLoop runs in its own goroutine, accepting connections until the
// listener is closed.
func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Error().Err(err).Dur("retry_in", backoff).Msg("accept error")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		// Only this goroutine increments active, so the check and the
		// increment cannot race with another accept.
		if s.active.Load() >= int64(s.cfg.MaxConnections) {
			s.rejected.Add(1)
			s.logger.Warn().
				Str("remote_addr", nc.RemoteAddr().String()).
				Int("max_connections", s.cfg.MaxConnections).
				Msg("connection rejected, server at capacity")
			nc.Close()
			continue
		}
		active := s.active.Add(1)
		s.accepted.Add(1)

		c := newConnection(s, nc)
		s.trackConn(c, true)
		s.logger.Debug().
			Str("remote_addr", c.remote).
			Int64("active", active).
			Msg("connection accepted")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.teardown()
			c.serve()
		}()
	}
}

// trackConn adds or removes a connection from the tracked set.
func (s *Server) trackConn(c *connection, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) isDraining() bool {
	select {
	case <-s.draining:
		return true
	default:
		return false
	}
}
