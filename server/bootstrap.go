// Package server accepts raw TCP (optionally TLS) connections and routes
// each request through the matched host's directive list.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dabevlohn/cblt/config"
)

// ErrInvalidPort is returned when a host name carries a non-numeric port
// suffix.
var ErrInvalidPort = errors.New("invalid port suffix")

// Group is everything one listener serves: the hosts bound to a single port
// and, when any of them declared tls, that port's certificate. Groups are
// built once at startup and read-only afterwards.
type Group struct {
	Port uint16

	// Hosts maps bare host names (port suffix stripped) to their directive
	// lists.
	Hosts map[string][]config.Directive

	// WildcardHost is the name of the group's wildcard entry ("" when none).
	// When set, every request on this port is routed through its directives
	// no matter what Host header the client sent.
	WildcardHost string

	// CertFile and KeyFile are PEM paths for the port's TLS identity, empty
	// when the port serves plain TCP.
	CertFile string
	KeyFile  string
}

// Directives selects the directive list for a request's Host header value.
func (g Group) Directives(host string) ([]config.Directive, bool) {
	if g.WildcardHost != "" {
		return g.Hosts[g.WildcardHost], true
	}
	d, ok := g.Hosts[host]
	return d, ok
}

func (g Group) portString() string {
	return strconv.Itoa(int(g.Port))
}

// BuildGroups partitions configured hosts into one Group per listening port.
//
// A host's port comes from an explicit ":port" name suffix when present,
// otherwise 443 when the host declares tls, otherwise 80. When several hosts
// on one port declare tls, the last one in configuration order supplies the
// port's certificate; the same rule picks the surviving wildcard entry.
func BuildGroups(cfg *config.Config) ([]Group, error) {
	byPort := map[uint16]*Group{}
	var order []uint16

	for _, h := range cfg.Hosts {
		var hostTLS *config.TLS
		for _, d := range h.Directives {
			if t, ok := d.(config.TLS); ok {
				hostTLS = &t
			}
		}

		name := h.Name
		port := uint16(80)
		if hostTLS != nil {
			port = 443
		}
		if bare, suffix, ok := strings.Cut(name, ":"); ok {
			p, err := strconv.ParseUint(suffix, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("host %q: %w", h.Name, ErrInvalidPort)
			}
			port = uint16(p)
			name = bare
		}

		g, ok := byPort[port]
		if !ok {
			g = &Group{Port: port, Hosts: map[string][]config.Directive{}}
			byPort[port] = g
			order = append(order, port)
		}

		g.Hosts[name] = h.Directives
		if strings.HasPrefix(name, "*") {
			g.WildcardHost = name
		}
		if hostTLS != nil {
			g.CertFile = hostTLS.Cert
			g.KeyFile = hostTLS.Key
		}
	}

	groups := make([]Group, 0, len(order))
	for _, p := range order {
		groups = append(groups, *byPort[p])
	}
	return groups, nil
}
