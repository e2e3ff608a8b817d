package config

// Directive is a single routing rule from a host's Cbltfile block. The
// concrete types below form a closed set so the dispatch loop can switch over
// them exhaustively.
type Directive interface {
	directive()
}

// Root binds a URI pattern to a filesystem root. It never responds by
// itself; it selects the directory a later FileServer serves from.
type Root struct {
	// Pattern is matched against the request path: "*" matches everything,
	// a trailing "*" matches by prefix, anything else matches exactly.
	Pattern string

	// Path is the filesystem directory to serve from.
	Path string
}

// FileServer serves a file from the most recently matched Root path.
// Always terminal.
type FileServer struct{}

// ReverseProxy forwards the request to an upstream destination. Terminal
// only when its pattern matches the request path.
type ReverseProxy struct {
	Pattern string

	// Destination is the upstream base URL. The request path is appended
	// verbatim when building the outbound URL.
	Destination string
}

// Redirect responds 302 Found with a Location header. Every occurrence of
// the literal token {uri} in Destination is replaced with the request path.
// Always terminal.
type Redirect struct {
	Destination string
}

// TLS names the PEM certificate chain and private key for the host's port.
// Inert during request handling; consumed only at bootstrap.
type TLS struct {
	Cert string
	Key  string
}

func (Root) directive()         {}
func (FileServer) directive()   {}
func (ReverseProxy) directive() {}
func (Redirect) directive()     {}
func (TLS) directive()          {}
