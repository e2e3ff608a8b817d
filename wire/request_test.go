package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	raw := []byte("GET /search?q=go&lang=en HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\nX-Forwarded-For: 10.0.0.1\r\n\r\n")

	req, err := ParseRequest(raw)
	require.NoError(t, err)

	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/search", req.Path)
	require.Equal(t, "HTTP/1.1", req.Proto)
	require.Equal(t, "example.com", req.Host())
	require.Equal(t, "*/*", req.Header.Get("Accept"))
	require.Equal(t, "10.0.0.1", req.Header.Get("X-Forwarded-For"))
}

func TestParseRequestNoQuery(t *testing.T) {
	req, err := ParseRequest([]byte("POST /submit HTTP/1.0\r\nhost: example.com\r\n\r\n"))
	require.NoError(t, err)

	require.Equal(t, "POST", req.Method)
	require.Equal(t, "/submit", req.Path)
	require.Equal(t, "HTTP/1.0", req.Proto)
	require.Equal(t, "example.com", req.Host(), "header keys are canonicalized")
}

func TestParseRequestNoHost(t *testing.T) {
	req, err := ParseRequest([]byte("GET / HTTP/1.1\r\nAccept: */*\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, "", req.Host())
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{
			name: "empty",
			raw:  nil,
			want: ErrMalformed,
		},
		{
			name: "not utf-8",
			raw:  []byte{0xff, 0xfe, 'G', 'E', 'T'},
			want: ErrNotUTF8,
		},
		{
			name: "two fields",
			raw:  []byte("GET /\r\n\r\n"),
			want: ErrMalformed,
		},
		{
			name: "four fields",
			raw:  []byte("GET / extra HTTP/1.1\r\n\r\n"),
			want: ErrMalformed,
		},
		{
			name: "bad protocol",
			raw:  []byte("GET / SPDY/3\r\n\r\n"),
			want: ErrMalformed,
		},
		{
			name: "truncated head",
			raw:  []byte("GET / HTTP/1.1\r\nHost: example.com"),
			want: ErrMalformed,
		},
		{
			name: "garbage header line",
			raw:  []byte("GET / HTTP/1.1\r\nno colon here\r\n\r\n"),
			want: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.raw)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
