package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// MaxHeaderSize bounds the request head a client may send before the
// connection is rejected.
const MaxHeaderSize = 64 * 1024

// ErrHeaderTooLarge is returned when a header block exceeds MaxHeaderSize
// without reaching its terminator.
var ErrHeaderTooLarge = errors.New("request header block too large")

var headerTerminator = []byte("\r\n\r\n")

// readHeaderBlock accumulates lines from the connection until the blank-line
// terminator arrives or the peer closes. A close before the terminator
// returns whatever was read; the request parser decides whether that partial
// block is usable. Bytes past the terminator, such as a request body, are
// never read.
func readHeaderBlock(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadBytes('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxHeaderSize {
			return nil, ErrHeaderTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, fmt.Errorf("reading header block: %w", err)
		}
		if bytes.HasSuffix(buf, headerTerminator) {
			return buf, nil
		}
	}
}
