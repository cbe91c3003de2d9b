package static

import (
    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

type staticSeeds struct {
    seeds []transport.Endpoint
}

func (s *staticSeeds) Seeds() []transport.Endpoint {
    return append([]transport.Endpoint(nil), s.seeds...)
}

// New returns a Discovery that always returns the given seeds.
// Endpoints without an address are dropped.
func New(seeds ...transport.Endpoint) discovery.Discovery {
    cleaned := make([]transport.Endpoint, 0, len(seeds))
    for _, s := range seeds {
        if s.Address != "" {
            cleaned = append(cleaned, s)
        }
    }
    return &staticSeeds{seeds: cleaned}
}

// Parse builds a static Discovery from a comma-separated list such as
// "h1:3000,tls://h2:3000".
func Parse(csv string) (discovery.Discovery, error) {
    eps, err := discovery.ParseList(csv)
    if err != nil {
        return nil, err
    }
    return New(eps...), nil
}
