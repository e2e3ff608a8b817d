package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/dabevlohn/cblt/config"
	"github.com/dabevlohn/cblt/wire"
)

// dispatch walks the host's directive list in order until a terminal
// directive produces a response.
//
// Root directives only stage state: the last one whose pattern matched
// supplies the filesystem root a later file_server uses. file_server and
// redir always terminate the scan, reverse_proxy terminates only when its
// pattern matches, and tls is inert here. An exhausted list means nothing
// claimed the request, which is a 404.
//
// It returns the response status and the name of the handler that produced
// it, for logs and metrics.
func (s *Server) dispatch(ctx context.Context, w io.Writer, directives []config.Directive, req *wire.Request) (int, string) {
	var (
		rootPath string
		haveRoot bool
	)

	for _, d := range directives {
		switch d := d.(type) {
		case config.Root:
			if matchesPattern(d.Pattern, req.Path) {
				rootPath = d.Path
				haveRoot = true
			}
		case config.FileServer:
			return serveFile(w, rootPath, haveRoot, req)
		case config.ReverseProxy:
			if matchesPattern(d.Pattern, req.Path) {
				return s.forwarder.Forward(ctx, w, d.Destination, req)
			}
		case config.Redirect:
			location := strings.ReplaceAll(d.Destination, "{uri}", req.Path)
			h := make(http.Header)
			h.Set("Location", location)
			_ = wire.WriteResponse(w, http.StatusFound, h, nil)
			return http.StatusFound, "redirect"
		case config.TLS:
			// consumed at bootstrap
		}
	}

	_ = wire.WriteError(w, http.StatusNotFound)
	return http.StatusNotFound, "unrouted"
}

// matchesPattern reports whether a directive pattern matches a request path.
// "*" matches everything, a trailing "*" matches by prefix, anything else
// must match exactly.
func matchesPattern(pattern, path string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == path
	}
}

// countingWriter tracks how many response bytes reached the connection.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
