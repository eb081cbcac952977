package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"jabberwocky238/bindzone/internal/types"
)

// TCP server defaults.
const (
	DefaultTCPListen       = ":5050"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	maxRequestBytes        = 64 << 10
	maxConnectionsPerIP    = 16
	tcpShutdownGracePeriod = 5 * time.Second
)

// TCPConfig holds configuration for the TCP JSON server.
type TCPConfig struct {
	Listen      string
	ReadTimeout time.Duration
}

// TCPServer serves the management protocol over plain TCP: the client sends
// one JSON request, the server answers with one JSON response and closes
// the connection.
type TCPServer struct {
	config     TCPConfig
	dispatcher *Dispatcher

	wg sync.WaitGroup // tracks active connections

	mu        sync.Mutex
	listener  net.Listener
	connPerIP map[string]int
}

// NewTCPServer creates a TCPServer for d.
func NewTCPServer(cfg TCPConfig, d *Dispatcher) *TCPServer {
	if cfg.Listen == "" {
		cfg.Listen = DefaultTCPListen
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &TCPServer{config: cfg, dispatcher: d, connPerIP: make(map[string]int)}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits for
// in-flight requests to finish.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("TCP management server starting", "address", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return s.wait(tcpShutdownGracePeriod)
			}
			if errors.Is(err, net.ErrClosed) {
				return s.wait(tcpShutdownGracePeriod)
			}
			return fmt.Errorf("accept: %w", err)
		}

		ip := remoteIPString(conn.RemoteAddr())
		if !s.tryAcquireConn(ip) {
			slog.Warn("tcp connection limit exceeded", "client", ip)
			_ = conn.Close()
			continue
		}
		s.wg.Go(func() {
			defer s.releaseConn(ip)
			s.handleConnection(ctx, conn, ip)
		})
	}
}

// Addr returns the listening address once Serve has started.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection reads one request, dispatches it and writes one response.
// The dispatch itself is not bounded by the read deadline: a write that has
// started always runs to completion.
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn, client string) {
	defer conn.Close()
	slog.Info("tcp connection accepted", "client", client)

	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	var req Request
	dec := json.NewDecoder(io.LimitReader(conn, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			slog.Warn("empty request", "client", client)
			return
		}
		slog.Warn("invalid request payload", "client", client, "err", err)
		s.write(conn, client, failure(fmt.Errorf("invalid JSON: %w", types.ErrMalformedRequest)))
		return
	}

	slog.Info("request received", "client", client, "action", req.Action, "domain", req.Domain, "zone", req.Zone)
	resp := s.dispatcher.Handle(ctx, req)
	s.write(conn, client, resp)
}

func (s *TCPServer) write(conn net.Conn, client string, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		slog.Error("send response", "client", client, "err", err)
		return
	}
	slog.Info("response sent", "client", client, "status", resp.Status, "reason", resp.Reason)
}

func (s *TCPServer) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("tcp server: timeout waiting for connections")
	}
}

// remoteIPString extracts the IP address from a network address.
func remoteIPString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		return host
	}
	return addr.String()
}

func (s *TCPServer) tryAcquireConn(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.connPerIP[ip]
	if cur >= maxConnectionsPerIP {
		return false
	}
	s.connPerIP[ip] = cur + 1
	return true
}

func (s *TCPServer) releaseConn(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.connPerIP[ip]
	if cur <= 1 {
		delete(s.connPerIP, ip)
		return
	}
	s.connPerIP[ip] = cur - 1
}
