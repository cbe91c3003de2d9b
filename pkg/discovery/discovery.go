package discovery

import (
    "errors"
    "fmt"
    "net"
    "strconv"
    "strings"

    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Discovery abstracts how seed endpoints are provided to a ChannelProvider.
type Discovery interface {
    Seeds() []transport.Endpoint
}

const tlsScheme = "tls://"

var ErrBadEndpoint = errors.New("discovery: bad endpoint")

// ParseEndpoint parses "host:port", "[v6]:port" or either form prefixed with
// "tls://".
func ParseEndpoint(s string) (transport.Endpoint, error) {
    raw := strings.TrimSpace(s)
    var ep transport.Endpoint
    if rest, ok := strings.CutPrefix(raw, tlsScheme); ok {
        ep.TLS = true
        raw = rest
    }
    host, portStr, err := net.SplitHostPort(raw)
    if err != nil {
        return transport.Endpoint{}, fmt.Errorf("%w %q: %v", ErrBadEndpoint, s, err)
    }
    port, err := strconv.Atoi(portStr)
    if err != nil || port <= 0 || port > 65535 {
        return transport.Endpoint{}, fmt.Errorf("%w %q: invalid port", ErrBadEndpoint, s)
    }
    if host == "" {
        return transport.Endpoint{}, fmt.Errorf("%w %q: missing host", ErrBadEndpoint, s)
    }
    ep.Address, ep.Port = host, port
    return ep, nil
}

// ParseList parses a comma-separated list of endpoints. Blank items are
// ignored; the first malformed item aborts parsing.
func ParseList(csv string) ([]transport.Endpoint, error) {
    return ParseAll(Split(csv))
}

// ParseAll parses every item of raw.
func ParseAll(raw []string) ([]transport.Endpoint, error) {
    out := make([]transport.Endpoint, 0, len(raw))
    for _, s := range raw {
        ep, err := ParseEndpoint(s)
        if err != nil {
            return nil, err
        }
        out = append(out, ep)
    }
    return out, nil
}

// Split breaks a comma-separated list into trimmed, non-empty items.
func Split(csv string) []string {
    if csv == "" {
        return nil
    }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" {
            out = append(out, p)
        }
    }
    return out
}
