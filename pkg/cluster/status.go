package cluster

import (
    "sort"
    "time"

    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Status is a JSON-serializable snapshot of the provider's view of the
// cluster, suitable for status endpoints and tooling.
type Status struct {
    // ClusterID is the last cluster id observed; zero when unknown or when a
    // refresh is pending.
    ClusterID    transport.ClusterID
    ListenerName string `json:",omitempty"`
    LoadBalancer bool
    Closed       bool
    Seeds        []ChannelStatus
    Nodes        []NodeStatus
    // LastTend is the completion time of the last tend cycle.
    LastTend time.Time
}

// ChannelStatus describes one seed channel.
type ChannelStatus struct {
    Endpoint transport.Endpoint
    Target   string
}

// NodeStatus describes one discovered node and the channel held for it.
type NodeStatus struct {
    ID        transport.NodeID
    Target    string
    Endpoints []transport.Endpoint
}

// Status returns the current snapshot. Nodes are ordered by id.
func (p *ChannelProvider) Status() Status {
    p.mu.RLock()
    defer p.mu.RUnlock()
    s := Status{
        ClusterID:    p.clusterID,
        ListenerName: p.opts.ListenerName,
        LoadBalancer: p.opts.LoadBalancer,
        Closed:       p.closed,
        LastTend:     p.lastTend,
        Seeds:        make([]ChannelStatus, len(p.seeds)),
        Nodes:        make([]NodeStatus, 0, len(p.nodes)),
    }
    for i, ch := range p.seeds {
        s.Seeds[i] = ChannelStatus{Endpoint: p.opts.Seeds[i], Target: ch.Target()}
    }
    for id, ce := range p.nodes {
        s.Nodes = append(s.Nodes, NodeStatus{ID: id, Target: ce.channel.Target(), Endpoints: ce.endpoints.Clone().Endpoints})
    }
    sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].ID < s.Nodes[j].ID })
    return s
}
