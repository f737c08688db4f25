// Package server binds an HTTP listener and a socket upgrade handshake to
// one router, so both transports run the same dispatch pipeline. The server
// owns connection liveness (heartbeat) and graceful shutdown of both
// surfaces.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alsocoders/sockress/config"
	"github.com/alsocoders/sockress/errors"
	"github.com/alsocoders/sockress/metric"
	"github.com/alsocoders/sockress/router"
)

// Server serves one router over HTTP and socket transports.
type Server struct {
	config  config.ServerConfig
	router  *router.Router
	logger  *slog.Logger
	metrics *metric.Registry

	httpServer *http.Server
	listener   net.Listener

	// conns is mutated by accept and terminate paths only; heartbeat
	// iterates a snapshot.
	mu    sync.Mutex
	conns map[*socketConn]struct{}

	running       atomic.Bool
	started       atomic.Bool
	shutdownOnce  sync.Once
	heartbeatStop chan struct{}
	wg            sync.WaitGroup

	onListen   func(addr net.Addr)
	onShutdown []func()
	signalOnce sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics registry. Defaults to a fresh registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(s *Server) { s.metrics = registry }
}

// WithListenCallback registers a callback invoked with the bound address
// once the listener is up.
func WithListenCallback(fn func(addr net.Addr)) Option {
	return func(s *Server) { s.onListen = fn }
}

// New builds a server for the given router. The configuration is validated
// and defaulted; the router is frozen when Start runs.
func New(cfg config.ServerConfig, r *router.Router, opts ...Option) (*Server, error) {
	if r == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New", "router is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "New", "config validation")
	}

	s := &Server{
		config:        cfg,
		router:        r,
		logger:        slog.Default(),
		conns:         map[*socketConn]struct{}{},
		heartbeatStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metric.NewRegistry()
	}

	return s, nil
}

// Metrics returns the server's metrics registry, for mounting its exposition
// handler or registering application collectors.
func (s *Server) Metrics() *metric.Registry { return s.metrics }

// Start binds the listener and begins serving both transports. The HTTP
// listener and the upgrade handler share one port, so they come up
// atomically. Start returns once the listener is bound; serving continues in
// the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "server already running")
	}

	s.router.Freeze()

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		s.running.Store(false)
		return errors.WrapFatal(err, "Server", "Start", "bind listener")
	}
	s.listener = listener
	s.started.Store(true)

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.serve()
	go s.heartbeatLoop()

	s.logger.Info("server listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("socket_path", s.config.Socket.Path))

	if s.onListen != nil {
		s.onListen(listener.Addr())
	}
	return nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("serve failed", slog.String("error", err.Error()))
	}
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OnShutdown registers a callback run during Stop, after both transports
// finished tearing down. Register before Start.
func (s *Server) OnShutdown(fn func()) {
	if fn != nil {
		s.onShutdown = append(s.onShutdown, fn)
	}
}

// EnableSignalShutdown makes SIGINT/SIGTERM trigger Stop with the given
// timeout. The host application opts in explicitly; the registration is
// guarded to run at most once.
func (s *Server) EnableSignalShutdown(timeout time.Duration) {
	s.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-ch
			s.logger.Info("termination signal received", slog.String("signal", sig.String()))
			if err := s.Stop(timeout); err != nil {
				s.logger.Error("signal shutdown failed", slog.String("error", err.Error()))
			}
		}()
	})
}

// Stop tears down the HTTP listener and every socket connection
// concurrently, waits for both within the timeout, then cancels the
// heartbeat and runs shutdown callbacks. Stop runs at most once; later
// calls return nil immediately. Only stopping a server that never started
// is an error.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.started.Load() {
		return errors.WrapFatal(errors.ErrNotStarted, "Server", "Stop", "server never started")
	}

	var stopErr error
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return s.httpServer.Shutdown(gctx)
		})
		g.Go(func() error {
			s.mu.Lock()
			open := make([]*socketConn, 0, len(s.conns))
			for c := range s.conns {
				open = append(open, c)
			}
			s.mu.Unlock()

			for _, c := range open {
				c.close("server shutdown")
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			stopErr = errors.WrapTransient(err, "Server", "Stop", "transport teardown")
		}

		close(s.heartbeatStop)
		s.running.Store(false)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.logger.Warn("shutdown timed out waiting for in-flight work")
			if stopErr == nil {
				stopErr = errors.WrapTransient(errors.ErrRequestTimeout, "Server", "Stop",
					"wait for in-flight work")
			}
		}

		for _, fn := range s.onShutdown {
			fn()
		}
		s.logger.Info("server stopped")
	})

	return stopErr
}

// addConn registers an accepted socket connection.
func (s *Server) addConn(c *socketConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.Metrics.SocketConnections.Inc()
}

// removeConn drops a closed connection; only the terminate/close path calls
// this.
func (s *Server) removeConn(c *socketConn) {
	s.mu.Lock()
	_, present := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if present {
		s.metrics.Metrics.SocketConnections.Dec()
	}
}

// heartbeatLoop pings every open connection each interval. A connection
// whose liveness flag is still down when the next tick fires missed a full
// cycle and is terminated.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Socket.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			open := make([]*socketConn, 0, len(s.conns))
			for c := range s.conns {
				open = append(open, c)
			}
			s.mu.Unlock()

			for _, c := range open {
				if !c.alive.Swap(false) {
					s.metrics.Metrics.HeartbeatTerminations.Inc()
					s.logger.Warn("terminating unresponsive connection",
						slog.String("remote", c.remoteAddr))
					c.close("heartbeat missed")
					continue
				}
				c.ping()
			}
		}
	}
}
