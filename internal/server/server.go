// Package server runs the Directory Server: one UDP socket and one TCP
// listener sharing a port. Datagram requests (account and membership
// operations) are handled inline in the UDP loop, strictly in arrival
// order; stream requests (listing, posting, retrieval) get one worker
// goroutine per accepted connection so a long transfer never blocks the
// datagram path or new accepts.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/infodancer/groupd/internal/config"
	"github.com/infodancer/groupd/internal/logging"
	"github.com/infodancer/groupd/internal/metrics"
	"github.com/infodancer/groupd/internal/proto"
	"github.com/infodancer/groupd/internal/store"
)

// Server coordinates the two listeners and dispatches requests against
// the store.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	logger    *slog.Logger
	collector metrics.Collector
	limiter   *ConnectionLimiter
}

// Config holds configuration for creating a new Server.
type Config struct {
	Cfg       *config.Config
	Store     *store.Store
	Logger    *slog.Logger
	Collector metrics.Collector
}

// New creates a new Server with the given configuration.
func New(sc Config) (*Server, error) {
	if sc.Store == nil {
		return nil, errors.New("server requires a store")
	}
	logger := sc.Logger
	if logger == nil {
		logger = logging.NewLogger(sc.Cfg.LogLevel)
	}
	collector := sc.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	return &Server{
		cfg:       sc.Cfg,
		store:     sc.Store,
		logger:    logger,
		collector: collector,
		limiter:   NewConnectionLimiter(sc.Cfg.Limits.MaxConnections),
	}, nil
}

// Run binds both listeners on the configured port and serves until the
// context is cancelled. A failure to bind either socket is fatal; no
// partial-listen state is left behind.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort("", s.cfg.Port)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("binding TCP listener: %w", err)
	}

	s.logger.Info("listening", slog.String("port", s.cfg.Port))
	return s.Serve(ctx, udpConn, ln)
}

// Serve runs the two listener loops over already-bound sockets until the
// context is cancelled. Both sockets are closed on return.
func (s *Server) Serve(ctx context.Context, udpConn *net.UDPConn, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		udpConn.Close()
		ln.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		return s.serveUDP(ctx, udpConn)
	})
	g.Go(func() error {
		return s.serveTCP(ctx, ln)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return context.Canceled
	}
	return err
}

// serveUDP reads one datagram at a time and answers it before reading the
// next, preserving arrival order.
func (s *Server) serveUDP(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, proto.MaxRequestUDP)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading datagram: %w", err)
		}
		s.collector.DatagramReceived()

		reply, cmd, status := s.handleDatagram(buf[:n])
		s.collector.CommandProcessed(cmd, status)
		s.logRequest("udp", addr.String(), cmd, status)

		if _, err := conn.WriteToUDP(reply, addr); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("writing datagram reply",
				slog.String("addr", addr.String()),
				slog.String("error", err.Error()))
		}
	}
}

// serveTCP accepts connections and hands each to a worker goroutine.
func (s *Server) serveTCP(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		if !s.limiter.TryAcquire() {
			s.collector.ConnectionRejected()
			conn.Close()
			continue
		}
		go func() {
			defer s.limiter.Release()
			s.handleConn(conn)
		}()
	}
}

// logRequest logs origin and command for every request when verbose, and
// at debug otherwise.
func (s *Server) logRequest(transport, addr, cmd, status string) {
	if s.cfg.Verbose {
		s.logger.Info("request",
			slog.String("proto", transport),
			slog.String("addr", addr),
			slog.String("command", cmd),
			slog.String("status", status))
		return
	}
	s.logger.Debug("request",
		slog.String("proto", transport),
		slog.String("addr", addr),
		slog.String("command", cmd),
		slog.String("status", status))
}
