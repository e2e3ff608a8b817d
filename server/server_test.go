package server

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dabevlohn/cblt/config"
)

// startGroup serves g on an ephemeral listener and returns its address.
func startGroup(t *testing.T, g Group) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.serveGroup(ctx, g, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr, raw string) *http.Response {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func staticGroup(t *testing.T, host string) Group {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o600))

	return Group{
		Port: 8080,
		Hosts: map[string][]config.Directive{
			host: {
				config.Root{Pattern: "*", Path: root},
				config.FileServer{},
			},
		},
	}
}

func TestServeGroupServesFile(t *testing.T) {
	addr := startGroup(t, staticGroup(t, "example.com"))

	resp := roundTrip(t, addr, "GET /hello.txt HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestServeGroupStripsQuery(t *testing.T) {
	addr := startGroup(t, staticGroup(t, "example.com"))

	resp := roundTrip(t, addr, "GET /hello.txt?version=2 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeGroupUnknownHost(t *testing.T) {
	addr := startGroup(t, staticGroup(t, "example.com"))

	resp := roundTrip(t, addr, "GET /hello.txt HTTP/1.1\r\nHost: other.com\r\n\r\n")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeGroupWildcardHost(t *testing.T) {
	g := staticGroup(t, "*")
	g.WildcardHost = "*"
	addr := startGroup(t, g)

	resp := roundTrip(t, addr, "GET /hello.txt HTTP/1.1\r\nHost: anything.at.all\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeGroupMalformedRequest(t *testing.T) {
	addr := startGroup(t, staticGroup(t, "example.com"))

	resp := roundTrip(t, addr, "BOGUS\r\n\r\n")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServeGroupCloseWithoutRequest(t *testing.T) {
	addr := startGroup(t, staticGroup(t, "example.com"))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Empty(t, data)
	require.NoError(t, conn.Close())
}

func TestHandleConnOverPipe(t *testing.T) {
	g := staticGroup(t, "example.com")

	client, srv := net.Pipe()
	s := testServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConn(context.Background(), g, nil, srv, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	_, err := client.Write([]byte("GET /hello.txt HTTP/1.1\r\nHost: example.com\r\nX-Request-Id: 42\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))

	<-done
	require.NoError(t, client.Close())
}

func TestServeGroupProxies(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from upstream"))
	}))
	defer upstream.Close()

	addr := startGroup(t, Group{
		Port: 8080,
		Hosts: map[string][]config.Directive{
			"api.local": {
				config.ReverseProxy{Pattern: "*", Destination: upstream.URL},
			},
		},
	})

	resp := roundTrip(t, addr, "GET /users HTTP/1.1\r\nHost: api.local\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "from upstream", string(body))
}

func TestServeGroupTLS(t *testing.T) {
	certFile, keyFile, pool := selfSignedCert(t, "secure.example.com")

	g := staticGroup(t, "secure.example.com")
	g.Port = 8443
	g.CertFile = certFile
	g.KeyFile = keyFile
	addr := startGroup(t, g)

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		RootCAs:    pool,
		ServerName: "secure.example.com",
	})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /hello.txt HTTP/1.1\r\nHost: secure.example.com\r\n\r\n"))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestServeGroupBadKeyPair(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := staticGroup(t, "example.com")
	g.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	g.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	// returns immediately instead of accepting with a broken identity
	testServer(t).serveGroup(context.Background(), g, ln)
}

func TestNewRequiresGroups(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	s, err := New(Config{Groups: []Group{{Port: 80}}})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", s.bindHost)
	require.NotNil(t, s.logger)
	require.NotNil(t, s.forwarder)
}

// selfSignedCert writes a throwaway PEM key pair for name and returns the
// file paths plus a pool trusting the certificate.
func selfSignedCert(t *testing.T, name string) (string, string, *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		DNSNames:              []string{name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return certFile, keyFile, pool
}
