// Package config parses Cbltfile server configurations.
//
// A Cbltfile is a sequence of host blocks:
//
//	example.com {
//	    root * /var/www
//	    file_server
//	}
//
// Block order is preserved because it carries meaning downstream: when two
// hosts on the same port both declare tls, the later block wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrUnknownDirective is returned when a host block contains a keyword
	// that is not part of the Cbltfile vocabulary.
	ErrUnknownDirective = errors.New("unknown directive")

	// ErrSyntax is returned for structural problems: unterminated blocks,
	// unterminated quotes, directives outside a block, wrong argument counts.
	ErrSyntax = errors.New("syntax error")
)

// Host is one named block from a Cbltfile, directives in written order.
type Host struct {
	Name       string
	Directives []Directive
}

// Config is a parsed Cbltfile with hosts in file order.
type Config struct {
	Hosts []Host
}

// Load reads and parses the Cbltfile at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// Parse parses Cbltfile source text.
//
// Declaring the same host twice replaces the earlier block's directives while
// keeping its position in the host order.
func Parse(src string) (*Config, error) {
	cfg := &Config{}
	index := map[string]int{}

	var (
		name    string
		current []Directive
		inBlock bool
	)

	for n, line := range strings.Split(src, "\n") {
		lineno := n + 1

		tokens, err := tokenize(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		if len(tokens) == 0 {
			continue
		}

		if !inBlock {
			if len(tokens) != 2 || tokens[1] != "{" {
				return nil, fmt.Errorf("line %d: %w: expected `<host> {`", lineno, ErrSyntax)
			}
			name = tokens[0]
			current = nil
			inBlock = true
			continue
		}

		if len(tokens) == 1 && tokens[0] == "}" {
			if i, ok := index[name]; ok {
				cfg.Hosts[i].Directives = current
			} else {
				index[name] = len(cfg.Hosts)
				cfg.Hosts = append(cfg.Hosts, Host{Name: name, Directives: current})
			}
			inBlock = false
			continue
		}

		d, err := parseDirective(tokens)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		current = append(current, d)
	}

	if inBlock {
		return nil, fmt.Errorf("%w: unterminated block for host %q", ErrSyntax, name)
	}

	return cfg, nil
}

func parseDirective(tokens []string) (Directive, error) {
	keyword, args := tokens[0], tokens[1:]

	arity := func(want int) error {
		if len(args) != want {
			return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrSyntax, keyword, want, len(args))
		}
		return nil
	}

	switch keyword {
	case "root":
		if err := arity(2); err != nil {
			return nil, err
		}
		return Root{Pattern: args[0], Path: args[1]}, nil
	case "file_server":
		if err := arity(0); err != nil {
			return nil, err
		}
		return FileServer{}, nil
	case "reverse_proxy":
		if err := arity(2); err != nil {
			return nil, err
		}
		return ReverseProxy{Pattern: args[0], Destination: args[1]}, nil
	case "redir":
		if err := arity(1); err != nil {
			return nil, err
		}
		return Redirect{Destination: args[0]}, nil
	case "tls":
		if err := arity(2); err != nil {
			return nil, err
		}
		return TLS{Cert: args[0], Key: args[1]}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirective, keyword)
	}
}

// tokenize splits one line into whitespace-separated tokens. Double quotes
// group a token that may contain spaces; there are no escape sequences.
// A # outside quotes starts a comment running to the end of the line.
func tokenize(line string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		have   bool
		quoted bool
	)

	flush := func() {
		if have {
			tokens = append(tokens, cur.String())
			cur.Reset()
			have = false
		}
	}

	for _, r := range line {
		switch {
		case quoted:
			if r == '"' {
				quoted = false
			} else {
				cur.WriteRune(r)
			}
		case r == '"':
			quoted = true
			have = true
		case r == '#':
			flush()
			return tokens, nil
		case r == ' ' || r == '\t' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
			have = true
		}
	}

	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrSyntax)
	}

	flush()
	return tokens, nil
}
