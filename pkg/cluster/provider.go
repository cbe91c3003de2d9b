package cluster

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"

    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// channelEndpoints pairs a node channel with the endpoint list it was built
// from. It is replaced, never mutated, when the node's endpoints change.
type channelEndpoints struct {
    channel   transport.Channel
    endpoints transport.EndpointList
}

// ChannelProvider keeps one channel per seed and one per discovered cluster
// node, refreshing the node set from the cluster's own view of its topology.
type ChannelProvider struct {
    opts   Options
    logger kitlog.Logger
    seeds  []transport.Channel

    mu        sync.RWMutex
    nodes     map[transport.NodeID]*channelEndpoints
    live      []transport.Channel // node channels, rebuilt on every change
    clusterID transport.ClusterID
    lastTend  time.Time
    closed    bool

    // tendMu serializes tend cycles.
    tendMu sync.Mutex
    life   context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
    eb     eventBus
}

// New dials every seed and, unless the seeds point at a load balancer, runs
// one tend cycle before returning and starts the periodic tend loop.
// Per-node failures during that first cycle are logged, not returned.
func New(ctx context.Context, opts Options) (*ChannelProvider, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts = opts.withDefaults()
    obsmetrics.Register()

    p := &ChannelProvider{
        opts:   opts,
        logger: kitlog.With(opts.Logger, "component", "channel-provider"),
        nodes:  make(map[transport.NodeID]*channelEndpoints),
    }
    for _, seed := range opts.Seeds {
        ch, err := p.dial(ctx, opts.SeedDialer, seed, "seed")
        if err != nil {
            for _, c := range p.seeds {
                _ = c.Close()
            }
            return nil, fmt.Errorf("cluster: seed %s: %w", seed.String(), err)
        }
        p.seeds = append(p.seeds, ch)
    }
    p.life, p.cancel = context.WithCancel(context.Background())

    if opts.LoadBalancer {
        level.Info(p.logger).Log("msg", "load balancer mode, tending disabled", "seed", opts.Seeds[0].String())
        return p, nil
    }
    p.Tend(ctx)
    p.startTendLoop()
    return p, nil
}

// Channel returns a channel for an RPC. Behind a load balancer it is always
// the first seed channel. Otherwise it is a uniformly random node channel, or
// the first seed channel while no node has been discovered.
//
// The returned channel may be closed by a concurrent tend cycle that observes
// its node leaving; callers retry with a fresh Channel() call.
func (p *ChannelProvider) Channel() transport.Channel {
    if p.opts.LoadBalancer {
        return p.seeds[0]
    }
    p.mu.RLock()
    defer p.mu.RUnlock()
    if len(p.live) == 0 {
        return p.seeds[0]
    }
    return p.live[p.opts.Intn(len(p.live))]
}

// ClusterID returns the last observed cluster id (zero when unknown).
func (p *ChannelProvider) ClusterID() transport.ClusterID {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.clusterID
}

// Closed reports whether Close has been called.
func (p *ChannelProvider) Closed() bool {
    p.mu.RLock()
    defer p.mu.RUnlock()
    return p.closed
}

// Close stops tending and closes every seed and node channel exactly once.
// It cancels an in-flight tend cycle and waits for the tend loop to exit.
// Calling Close more than once is a no-op.
func (p *ChannelProvider) Close() error {
    p.mu.Lock()
    if p.closed {
        p.mu.Unlock()
        return nil
    }
    p.closed = true
    nodes := p.nodes
    p.nodes = make(map[transport.NodeID]*channelEndpoints)
    p.live = nil
    p.mu.Unlock()

    p.cancel()
    p.wg.Wait()

    var errs []error
    for i, ch := range p.seeds {
        if err := ch.Close(); err != nil {
            errs = append(errs, fmt.Errorf("close seed %s: %w", p.opts.Seeds[i].String(), err))
        }
    }
    for id, ce := range nodes {
        if err := ce.channel.Close(); err != nil {
            errs = append(errs, fmt.Errorf("close node %d: %w", id, err))
        }
    }
    obsmetrics.NodeChannels.Set(0)
    level.Info(p.logger).Log("msg", "channel provider closed", "nodes", len(nodes))
    return errors.Join(errs...)
}

func (p *ChannelProvider) startTendLoop() {
    p.wg.Add(1)
    go func() {
        defer p.wg.Done()
        timer := time.NewTimer(p.opts.TendInterval)
        defer timer.Stop()
        for {
            select {
            case <-p.life.Done():
                return
            case <-timer.C:
                p.Tend(p.life)
                timer.Reset(p.opts.TendInterval)
            }
        }
    }()
}

// rebuildLive refreshes the node channel snapshot used by Channel.
// Callers hold p.mu for writing.
func (p *ChannelProvider) rebuildLive() {
    live := make([]transport.Channel, 0, len(p.nodes))
    for _, ce := range p.nodes {
        live = append(live, ce.channel)
    }
    p.live = live
    obsmetrics.NodeChannels.Set(float64(len(live)))
}
