// Package wire reads HTTP/1.x requests from raw header bytes and writes
// responses straight onto a connection. It deliberately stays below
// net/http: connections are plain sockets the server owns end to end.
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"unicode/utf8"
)

var (
	// ErrNotUTF8 is returned when the header block is not valid UTF-8.
	ErrNotUTF8 = errors.New("request is not valid utf-8")

	// ErrMalformed is returned when the header block is not a parseable
	// HTTP/1.x request head.
	ErrMalformed = errors.New("malformed request")
)

// Request is a parsed request head. Bodies are never read.
type Request struct {
	Method string

	// Path is the request target with any query string removed.
	Path string

	Proto  string
	Header textproto.MIMEHeader
}

// Host returns the Host header value, or "" when absent.
func (r *Request) Host() string {
	return r.Header.Get("Host")
}

// ParseRequest parses a raw header block, everything up to and including
// the blank line that ends the head. The query string, if any, is split off
// the target and discarded.
func ParseRequest(raw []byte) (*Request, error) {
	if !utf8.Valid(raw) {
		return nil, ErrNotUTF8
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))

	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: reading request line: %v", ErrMalformed, err)
	}

	method, target, proto, ok := splitRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("%w: bad request line %q", ErrMalformed, line)
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: reading headers: %v", ErrMalformed, err)
	}

	path := target
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	return &Request{
		Method: method,
		Path:   path,
		Proto:  proto,
		Header: header,
	}, nil
}

func splitRequestLine(line string) (method, target, proto string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", "", false
	}
	if !strings.HasPrefix(fields[2], "HTTP/") {
		return "", "", "", false
	}
	return fields[0], fields[1], fields[2], true
}
