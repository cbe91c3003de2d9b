// Package backend runs a minimal cluster member that answers the ClusterInfo
// RPCs from a memberlist gossip ring. It lets a ChannelProvider be exercised
// end to end without a real database cluster.
package backend

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/cespare/xxhash/v2"
    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"

    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/membership"
    mlist "github.com/amirimatin/go-chanpool/pkg/membership/memberlist"
    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
    "github.com/amirimatin/go-chanpool/pkg/transport"
    tgrpc "github.com/amirimatin/go-chanpool/pkg/transport/grpc"
)

// metaPrefix prefixes the gossip metadata keys holding a listener's endpoints.
// The default listener is stored under the bare prefix.
const metaPrefix = "ep:"

var (
    ErrNotStarted = errors.New("backend: not started")
    ErrNoNodeID   = errors.New("backend: node id must be non-zero")
)

// Config describes one backend node.
type Config struct {
    NodeID transport.NodeID
    // RPCBind is where the ClusterInfo gRPC server listens.
    RPCBind string
    // GossipBind and GossipAdvertise configure the memberlist ring.
    GossipBind      string
    GossipAdvertise string
    // Join lists gossip addresses of existing members.
    Join []string
    // Listeners maps a listener name to the endpoints advertised for it. When
    // no default ("") listener is given, the RPC server's address is used.
    Listeners map[string][]transport.Endpoint
    // TLS, when set, serves the RPCs over TLS.
    TLS *tls.Config
    // ProbeInterval tunes memberlist failure detection; zero keeps defaults.
    ProbeInterval time.Duration
    Logger        kitlog.Logger
}

// Node is a running backend member.
type Node struct {
    cfg    Config
    logger kitlog.Logger

    mu      sync.RWMutex
    srv     *tgrpc.Server
    members membership.Membership
    wg      sync.WaitGroup
}

func New(cfg Config) (*Node, error) {
    if cfg.NodeID == 0 {
        return nil, ErrNoNodeID
    }
    if cfg.RPCBind == "" {
        cfg.RPCBind = "127.0.0.1:0"
    }
    if cfg.GossipBind == "" {
        cfg.GossipBind = "127.0.0.1:0"
    }
    cfg.Logger = logutil.OrNop(cfg.Logger)
    return &Node{
        cfg:    cfg,
        logger: kitlog.With(cfg.Logger, "component", "backend", "node", uint64(cfg.NodeID)),
    }, nil
}

// Start serves the ClusterInfo RPCs, joins the gossip ring and follows
// membership events until ctx is done or Stop is called.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.srv != nil {
        return errors.New("backend: already started")
    }
    obsmetrics.Register()

    srv := tgrpc.NewServer(n.cfg.RPCBind)
    if n.cfg.TLS != nil {
        srv.UseTLS(n.cfg.TLS)
    }
    if err := srv.Start(ctx, n); err != nil {
        return err
    }

    listeners := n.cfg.Listeners
    if _, ok := listeners[""]; !ok {
        ep, err := discovery.ParseEndpoint(srv.Addr())
        if err != nil {
            _ = srv.Stop(context.Background())
            return err
        }
        ep.TLS = n.cfg.TLS != nil
        listeners = cloneListeners(listeners)
        listeners[""] = []transport.Endpoint{ep}
    }

    ml, err := mlist.New(mlist.Options{
        NodeID:        strconv.FormatUint(uint64(n.cfg.NodeID), 10),
        Bind:          n.cfg.GossipBind,
        Advertise:     n.cfg.GossipAdvertise,
        Meta:          encodeMeta(listeners),
        Logger:        n.cfg.Logger,
        ProbeInterval: n.cfg.ProbeInterval,
    })
    if err == nil {
        err = ml.Start(ctx)
    }
    if err != nil {
        _ = srv.Stop(context.Background())
        return err
    }
    if len(n.cfg.Join) > 0 {
        if err := ml.Join(n.cfg.Join); err != nil {
            _ = ml.Stop()
            _ = srv.Stop(context.Background())
            return fmt.Errorf("backend: join %v: %w", n.cfg.Join, err)
        }
    }
    n.srv, n.members = srv, ml

    n.wg.Add(1)
    go n.watch(ml.Events())
    level.Info(n.logger).Log("msg", "backend node started", "rpc", srv.Addr(), "gossip", ml.Local().Addr)
    return nil
}

func (n *Node) watch(events <-chan membership.Event) {
    defer n.wg.Done()
    for ev := range events {
        level.Info(n.logger).Log("msg", "membership changed", "event", ev.Type, "member", ev.Member.ID)
        if ms := n.membership(); ms != nil {
            obsmetrics.BackendMembers.Set(float64(len(ms.Members())))
        }
    }
}

// RPCAddr is the address the ClusterInfo server listens on.
func (n *Node) RPCAddr() string {
    n.mu.RLock()
    defer n.mu.RUnlock()
    if n.srv == nil {
        return ""
    }
    return n.srv.Addr()
}

// GossipAddr is the address peers use to join this node.
func (n *Node) GossipAddr() string {
    if ms := n.membership(); ms != nil {
        return ms.Local().Addr
    }
    return ""
}

// HealthScore reports the gossip layer's health, -1 when stopped.
func (n *Node) HealthScore() int {
    if hr, ok := n.membership().(membership.HealthReporter); ok {
        return hr.HealthScore()
    }
    return -1
}

// ClusterID hashes the current member set: every node that sees the same
// members with the same endpoints reports the same id, and any membership
// change produces a new one.
func (n *Node) ClusterID(context.Context) (transport.ClusterID, error) {
    ms := n.membership()
    if ms == nil {
        return 0, ErrNotStarted
    }
    members := ms.Members()
    keys := make([]string, 0, len(members))
    for _, m := range members {
        keys = append(keys, m.ID+"="+metaFingerprint(m.Meta))
    }
    sort.Strings(keys)
    id := xxhash.Sum64String(strings.Join(keys, ";"))
    if id == 0 {
        id = 1
    }
    return transport.ClusterID(id), nil
}

// ClusterEndpoints returns every member's endpoints for listener. Members that
// do not advertise the listener are left out.
func (n *Node) ClusterEndpoints(_ context.Context, listener string) (map[transport.NodeID]transport.EndpointList, error) {
    ms := n.membership()
    if ms == nil {
        return nil, ErrNotStarted
    }
    out := make(map[transport.NodeID]transport.EndpointList)
    for _, m := range ms.Members() {
        id, err := strconv.ParseUint(m.ID, 10, 64)
        if err != nil {
            level.Debug(n.logger).Log("msg", "skipping member with non-numeric id", "member", m.ID)
            continue
        }
        raw, ok := m.Meta[metaPrefix+listener]
        if !ok {
            continue
        }
        eps, err := discovery.ParseAll(discovery.Split(raw))
        if err != nil {
            level.Warn(n.logger).Log("msg", "bad endpoint metadata", "member", m.ID, "err", err)
            continue
        }
        out[transport.NodeID(id)] = transport.EndpointList{Endpoints: eps}
    }
    return out, nil
}

// Stop leaves the ring and stops serving.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    srv, ms := n.srv, n.members
    n.srv, n.members = nil, nil
    n.mu.Unlock()
    if srv == nil {
        return nil
    }
    var errs []error
    if err := ms.Leave(); err != nil {
        level.Debug(n.logger).Log("msg", "leave failed", "err", err)
    }
    errs = append(errs, ms.Stop())
    n.wg.Wait()
    errs = append(errs, srv.Stop(ctx))
    level.Info(n.logger).Log("msg", "backend node stopped")
    return errors.Join(errs...)
}

func (n *Node) membership() membership.Membership {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return n.members
}

func encodeMeta(listeners map[string][]transport.Endpoint) map[string]string {
    meta := make(map[string]string, len(listeners))
    for name, eps := range listeners {
        parts := make([]string, len(eps))
        for i, ep := range eps {
            parts[i] = ep.String()
        }
        meta[metaPrefix+name] = strings.Join(parts, ",")
    }
    return meta
}

func metaFingerprint(meta map[string]string) string {
    keys := make([]string, 0, len(meta))
    for k := range meta {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    var b strings.Builder
    for _, k := range keys {
        b.WriteString(k)
        b.WriteByte('=')
        b.WriteString(meta[k])
        b.WriteByte('|')
    }
    return b.String()
}

func cloneListeners(in map[string][]transport.Endpoint) map[string][]transport.Endpoint {
    out := make(map[string][]transport.Endpoint, len(in)+1)
    for k, v := range in {
        out[k] = append([]transport.Endpoint(nil), v...)
    }
    return out
}
