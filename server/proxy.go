package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/dabevlohn/cblt/telemetry"
	"github.com/dabevlohn/cblt/wire"
)

// Forwarder relays matched requests to an upstream and mirrors the reply
// downstream.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithHTTPClient sets the client used for upstream requests.
func WithHTTPClient(c *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		f.client = c
	}
}

// WithForwarderLogger sets the logger used for upstream failures.
func WithForwarderLogger(l *slog.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// NewForwarder creates a Forwarder. The default client carries no timeout:
// an upstream is given as long as it needs, matching how the rest of request
// handling waits on the peer.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		client: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward issues destination+path upstream with the inbound method and
// headers, no body, and writes the mirrored response downstream. The
// upstream body is fully buffered before anything is written back, so a
// failed upstream read never leaves a half-written downstream response. Any
// transport-level failure maps to 502.
func (f *Forwarder) Forward(ctx context.Context, w io.Writer, destination string, req *wire.Request) (int, string) {
	out, err := http.NewRequestWithContext(ctx, req.Method, destination+req.Path, nil)
	if err != nil {
		f.logger.Warn("building upstream request", "destination", destination, "error", err)
		_ = wire.WriteError(w, http.StatusBadGateway)
		return http.StatusBadGateway, "proxy"
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	// net/http carries Host outside the header map
	if host := req.Host(); host != "" {
		out.Host = host
	}

	resp, err := f.client.Do(out)
	if err != nil {
		f.logger.Warn("upstream request failed", "destination", destination, "error", err)
		_ = wire.WriteError(w, http.StatusBadGateway)
		return http.StatusBadGateway, "proxy"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("reading upstream response", "destination", destination, "error", err)
		_ = wire.WriteError(w, http.StatusBadGateway)
		return http.StatusBadGateway, "proxy"
	}

	_ = wire.WriteResponse(w, resp.StatusCode, resp.Header, body)
	return resp.StatusCode, "proxy"
}
