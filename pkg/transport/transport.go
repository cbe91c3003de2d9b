package transport

import (
    "context"
    "net"
    "strconv"

    "google.golang.org/grpc"
)

// Endpoint is an (address, port, TLS) tuple at which a cluster node or a seed
// can be reached.
type Endpoint struct {
    Address string `json:"address"`
    Port    int    `json:"port"`
    TLS     bool   `json:"isTls,omitempty"`
}

// HostPort returns the endpoint as a dialable host:port target.
func (e Endpoint) HostPort() string {
    return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
    if e.TLS {
        return "tls://" + e.HostPort()
    }
    return e.HostPort()
}

// EndpointList is the ordered list of endpoints the server reports for one node.
type EndpointList struct {
    Endpoints []Endpoint `json:"endpoints"`
}

// Equal reports whether both lists carry the same endpoints in the same order.
func (l EndpointList) Equal(o EndpointList) bool {
    if len(l.Endpoints) != len(o.Endpoints) {
        return false
    }
    for i := range l.Endpoints {
        if l.Endpoints[i] != o.Endpoints[i] {
            return false
        }
    }
    return true
}

// Clone returns a copy that does not share the backing array.
func (l EndpointList) Clone() EndpointList {
    return EndpointList{Endpoints: append([]Endpoint(nil), l.Endpoints...)}
}

// NodeID is the cluster-assigned identifier of a node.
type NodeID uint64

// ClusterID is an opaque version token that changes whenever membership
// changes. Zero means unknown.
type ClusterID uint64

// Channel is a transport channel to a single endpoint. *grpc.ClientConn
// satisfies it.
type Channel interface {
    grpc.ClientConnInterface
    Target() string
    Close() error
}

// Dialer creates channels. Implementations may connect lazily.
type Dialer interface {
    Dial(ctx context.Context, ep Endpoint) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, ep Endpoint) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Channel, error) { return f(ctx, ep) }
