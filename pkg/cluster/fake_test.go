package cluster

import (
    "context"
    "errors"
    "sync"
    "sync/atomic"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-chanpool/pkg/transport"
)

var errUnreachable = errors.New("unreachable")

type fakeChannel struct {
    target string
    closes atomic.Int32
}

func (c *fakeChannel) Invoke(context.Context, string, any, any, ...grpc.CallOption) error {
    return errors.New("fake channel: not implemented")
}

func (c *fakeChannel) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
    return nil, errors.New("fake channel: not implemented")
}

func (c *fakeChannel) Target() string { return c.target }

func (c *fakeChannel) Close() error {
    c.closes.Add(1)
    return nil
}

func (c *fakeChannel) Closes() int { return int(c.closes.Load()) }

// fakeDialer hands out fakeChannels and remembers every one it created.
type fakeDialer struct {
    mu       sync.Mutex
    fail     map[string]bool
    dialed   []transport.Endpoint
    channels []*fakeChannel
}

func newFakeDialer() *fakeDialer { return &fakeDialer{fail: map[string]bool{}} }

func (d *fakeDialer) Dial(_ context.Context, ep transport.Endpoint) (transport.Channel, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    d.dialed = append(d.dialed, ep)
    if d.fail[ep.HostPort()] {
        return nil, errUnreachable
    }
    ch := &fakeChannel{target: ep.HostPort()}
    d.channels = append(d.channels, ch)
    return ch, nil
}

func (d *fakeDialer) setFail(hostport string, fail bool) {
    d.mu.Lock()
    defer d.mu.Unlock()
    d.fail[hostport] = fail
}

func (d *fakeDialer) dialCount() int {
    d.mu.Lock()
    defer d.mu.Unlock()
    return len(d.dialed)
}

func (d *fakeDialer) created() []*fakeChannel {
    d.mu.Lock()
    defer d.mu.Unlock()
    return append([]*fakeChannel(nil), d.channels...)
}

// fakeInfo answers the ClusterInfo RPCs from a shared topology, with optional
// per-target overrides.
type fakeInfo struct {
    mu          sync.Mutex
    id          transport.ClusterID
    endpoints   map[transport.NodeID]transport.EndpointList
    idByTarget  map[string]transport.ClusterID
    epsByTarget map[string]map[transport.NodeID]transport.EndpointList
    idErr       map[string]bool
    epsErr      map[string]bool
    idCalls     atomic.Int32
    epsCalls    atomic.Int32
    listeners   []string
}

func newFakeInfo() *fakeInfo {
    return &fakeInfo{
        endpoints:   map[transport.NodeID]transport.EndpointList{},
        idByTarget:  map[string]transport.ClusterID{},
        epsByTarget: map[string]map[transport.NodeID]transport.EndpointList{},
        idErr:       map[string]bool{},
        epsErr:      map[string]bool{},
    }
}

func (f *fakeInfo) GetClusterID(_ context.Context, ch transport.Channel) (transport.ClusterID, error) {
    f.idCalls.Add(1)
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.idErr[ch.Target()] {
        return 0, errUnreachable
    }
    if id, ok := f.idByTarget[ch.Target()]; ok {
        return id, nil
    }
    return f.id, nil
}

func (f *fakeInfo) GetClusterEndpoints(_ context.Context, ch transport.Channel, listener string) (map[transport.NodeID]transport.EndpointList, error) {
    f.epsCalls.Add(1)
    f.mu.Lock()
    defer f.mu.Unlock()
    f.listeners = append(f.listeners, listener)
    if f.epsErr[ch.Target()] {
        return nil, errUnreachable
    }
    src := f.endpoints
    if eps, ok := f.epsByTarget[ch.Target()]; ok {
        src = eps
    }
    out := make(map[transport.NodeID]transport.EndpointList, len(src))
    for id, l := range src {
        out[id] = l.Clone()
    }
    return out, nil
}

// setTopology replaces the shared view of the cluster.
func (f *fakeInfo) setTopology(id transport.ClusterID, eps map[transport.NodeID]transport.EndpointList) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.id = id
    f.endpoints = eps
}

func eps(hostports ...transport.Endpoint) transport.EndpointList {
    return transport.EndpointList{Endpoints: hostports}
}

func ep(addr string, port int) transport.Endpoint {
    return transport.Endpoint{Address: addr, Port: port}
}
