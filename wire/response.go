package wire

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// WriteResponse writes a complete HTTP/1.1 response with body. Content-Length
// is always set from len(body), replacing any value already in header. Header
// keys are written in sorted order so responses are byte-stable.
func WriteResponse(w io.Writer, status int, header http.Header, body []byte) error {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))

	if err := writeHead(w, status, h); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing body: %w", err)
	}
	return nil
}

// WriteStreamResponse writes the head with Content-Length set to size, then
// streams body to the connection.
func WriteStreamResponse(w io.Writer, status int, header http.Header, size int64, body io.Reader) error {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.FormatInt(size, 10))

	if err := writeHead(w, status, h); err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("streaming body: %w", err)
	}
	return nil
}

// WriteError writes a minimal plain-text error response for status, with the
// standard status text as the body.
func WriteError(w io.Writer, status int) error {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return WriteResponse(w, status, h, []byte(http.StatusText(status)))
}

// writeHead assembles the status line and headers in one buffer and writes
// them with a single call, so a reader on the other end of an in-memory pipe
// sees the whole head at once.
func writeHead(w io.Writer, status int, h http.Header) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing response head: %w", err)
	}
	return nil
}
