package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dabevlohn/cblt/telemetry"
	"github.com/dabevlohn/cblt/wire"
)

// ErrNoListeners is returned by Run when every listener group failed to bind.
var ErrNoListeners = errors.New("no listener could be bound")

// Config holds the server configuration.
type Config struct {
	// Groups are the per-port listener groups built from configuration.
	Groups []Group

	// BindHost is the address listeners bind to. Default "0.0.0.0".
	BindHost string

	// Logger for connection and request logs.
	Logger *slog.Logger

	// Forwarder issues upstream requests for reverse_proxy directives.
	Forwarder *Forwarder
}

// Server runs one accept loop per listener group.
type Server struct {
	groups    []Group
	bindHost  string
	logger    *slog.Logger
	forwarder *Forwarder
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if len(cfg.Groups) == 0 {
		return nil, errors.New("no listener groups configured")
	}
	if cfg.BindHost == "" {
		cfg.BindHost = "0.0.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Forwarder == nil {
		cfg.Forwarder = NewForwarder(WithForwarderLogger(cfg.Logger.With("component", "proxy")))
	}

	return &Server{
		groups:    cfg.Groups,
		bindHost:  cfg.BindHost,
		logger:    cfg.Logger.With("component", "server"),
		forwarder: cfg.Forwarder,
	}, nil
}

// Run binds every group's listener and serves until ctx is cancelled. A
// group that fails to bind is logged and skipped without affecting the
// others; Run fails outright only when no listener at all could be started.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	bound := 0

	for _, g := range s.groups {
		addr := net.JoinHostPort(s.bindHost, g.portString())
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.logger.Error("bind failed, listener group disabled", "addr", addr, "error", err)
			continue
		}

		bound++
		wg.Add(1)
		go func(g Group, ln net.Listener) {
			defer wg.Done()
			s.serveGroup(ctx, g, ln)
		}(g, ln)
	}

	if bound == 0 {
		return ErrNoListeners
	}

	wg.Wait()
	return nil
}

// serveGroup accepts connections for one group until ctx is cancelled.
// Handling is strictly sequential: a connection is fully processed,
// including any upstream round-trip, before the next accept. Throughput on
// a port is therefore bounded by its slowest request in flight.
func (s *Server) serveGroup(ctx context.Context, g Group, ln net.Listener) {
	defer ln.Close()

	logger := s.logger.With("port", g.Port)

	var tlsConf *tls.Config
	if g.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(g.CertFile, g.KeyFile)
		if err != nil {
			logger.Error("loading key pair, listener group disabled", "cert", g.CertFile, "error", err)
			return
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger.Info("listening", "addr", ln.Addr().String(), "hosts", len(g.Hosts), "tls", tlsConf != nil)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("accept failed", "error", err)
			continue
		}

		s.handleConn(ctx, g, tlsConf, conn, logger)
	}
}

// handleConn serves exactly one request: no keep-alive, the connection is
// closed once the response is written.
func (s *Server) handleConn(ctx context.Context, g Group, tlsConf *tls.Config, conn net.Conn, logger *slog.Logger) {
	defer conn.Close()

	start := time.Now()
	logger = logger.With("conn_id", uuid.NewString(), "remote_addr", conn.RemoteAddr().String())
	logger.Debug("connection accepted")

	telemetry.RecordConnection(ctx, g.portString(), tlsConf != nil)

	var rw io.ReadWriter = conn
	if tlsConf != nil {
		tlsConn := tls.Server(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			telemetry.RecordHandshakeFailure(ctx, g.portString())
			logger.Warn("tls handshake failed", "error", err)
			return
		}
		defer tlsConn.Close()
		rw = tlsConn
	}

	raw, err := readHeaderBlock(bufio.NewReader(rw))
	if err != nil {
		if errors.Is(err, ErrHeaderTooLarge) {
			_ = wire.WriteError(rw, http.StatusBadRequest)
		}
		logger.Warn("reading request", "error", err)
		return
	}
	if len(raw) == 0 {
		// clean close before any request bytes
		return
	}

	cw := &countingWriter{w: rw}

	var (
		status  int
		handler string
	)

	req, perr := wire.ParseRequest(raw)
	switch {
	case perr != nil:
		status, handler = http.StatusBadRequest, "rejected"
		_ = wire.WriteError(cw, status)
		logger.Warn("rejecting request", "error", perr)
	default:
		directives, ok := g.Directives(req.Host())
		if ok {
			status, handler = s.dispatch(ctx, cw, directives, req)
		} else {
			status, handler = http.StatusForbidden, "denied"
			_ = wire.WriteError(cw, status)
		}
	}

	duration := time.Since(start)

	attrs := []any{
		"status", status,
		"status_class", telemetry.StatusClass(status),
		"handler", handler,
		"bytes_sent", cw.n,
		"duration_ms", duration.Milliseconds(),
	}
	if req != nil {
		attrs = append([]any{
			"method", req.Method,
			"path", req.Path,
			"host", req.Host(),
		}, attrs...)
		if id := req.Header.Get("X-Request-Id"); id != "" {
			attrs = append(attrs, "request_id", id)
		}
	}

	logger.Info("http request", attrs...)
	telemetry.RecordRequest(ctx, handler, status, cw.n, duration)
}
