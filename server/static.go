package server

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/dabevlohn/cblt/wire"
)

// maxCompressSize caps the file size eligible for gzip. Larger files are
// streamed as-is so they never have to be buffered in memory.
const maxCompressSize = 1 << 20

var compressible = map[string]bool{
	".css":  true,
	".html": true,
	".js":   true,
	".json": true,
	".svg":  true,
	".txt":  true,
	".xml":  true,
}

// serveFile responds with a file resolved against the staged root. Without a
// root the request is a configuration problem, not a missing file. Directory
// paths fall through to their index.html. Open and stat failures all map to
// 404; the client learns nothing about why the file was unavailable.
func serveFile(w io.Writer, root string, haveRoot bool, req *wire.Request) (int, string) {
	if !haveRoot {
		_ = wire.WriteError(w, http.StatusInternalServerError)
		return http.StatusInternalServerError, "static"
	}

	name := filepath.Join(root, strings.TrimPrefix(req.Path, "/"))
	if !underRoot(root, name) {
		_ = wire.WriteError(w, http.StatusNotFound)
		return http.StatusNotFound, "static"
	}

	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		name = filepath.Join(name, "index.html")
	}

	f, err := os.Open(name)
	if err != nil {
		_ = wire.WriteError(w, http.StatusNotFound)
		return http.StatusNotFound, "static"
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		_ = wire.WriteError(w, http.StatusNotFound)
		return http.StatusNotFound, "static"
	}

	h := make(http.Header)
	h.Set("Content-Type", contentType(name))

	if shouldCompress(req, name, fi.Size()) {
		return serveCompressible(w, h, f)
	}

	_ = wire.WriteStreamResponse(w, http.StatusOK, h, fi.Size(), f)
	return http.StatusOK, "static"
}

// serveCompressible buffers the file and sends a gzip body when that is
// actually smaller, falling back to the identity bytes otherwise.
func serveCompressible(w io.Writer, h http.Header, f *os.File) (int, string) {
	data, err := io.ReadAll(f)
	if err != nil {
		_ = wire.WriteError(w, http.StatusNotFound)
		return http.StatusNotFound, "static"
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, werr := gz.Write(data)
	if cerr := gz.Close(); werr == nil && cerr == nil && buf.Len() < len(data) {
		h.Set("Content-Encoding", "gzip")
		h.Set("Vary", "Accept-Encoding")
		_ = wire.WriteResponse(w, http.StatusOK, h, buf.Bytes())
		return http.StatusOK, "static"
	}

	_ = wire.WriteResponse(w, http.StatusOK, h, data)
	return http.StatusOK, "static"
}

// underRoot reports whether the joined path still lives inside root, keeping
// "../" request paths from escaping the configured directory.
func underRoot(root, name string) bool {
	root = filepath.Clean(root)
	return name == root || strings.HasPrefix(name, root+string(filepath.Separator))
}

func shouldCompress(req *wire.Request, name string, size int64) bool {
	if size > maxCompressSize {
		return false
	}
	if !compressible[strings.ToLower(filepath.Ext(name))] {
		return false
	}
	return strings.Contains(req.Header.Get("Accept-Encoding"), "gzip")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
