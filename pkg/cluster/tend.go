package cluster

import (
    "context"
    "strconv"
    "time"

    "github.com/go-kit/log/level"
    "go.opentelemetry.io/otel/attribute"

    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
    "github.com/amirimatin/go-chanpool/pkg/observability/tracing"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Tend runs one tend cycle: it asks every known channel for the cluster id
// and, when some channel reports a new one, reconciles the node channels with
// the most complete endpoint map obtained in this cycle. RPC failures are
// logged and the failing channel is skipped; nothing is returned to the
// caller. Tend is a no-op behind a load balancer and after Close.
func (p *ChannelProvider) Tend(ctx context.Context) {
    if p.opts.LoadBalancer {
        return
    }
    p.tendMu.Lock()
    defer p.tendMu.Unlock()
    if p.Closed() {
        return
    }

    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    stop := context.AfterFunc(p.life, cancel)
    defer stop()

    start := time.Now()
    ctx, span := tracing.StartSpan(ctx, "cluster.tend")
    defer span.End()

    refreshed, snapshot, ok := p.poll(ctx)
    span.SetAttributes(attribute.Bool("refreshed", refreshed))
    switch {
    case !refreshed:
    case !ok:
        // The id moved but no channel returned its endpoints. Forget the id
        // so the next cycle asks again instead of keeping a stale map.
        level.Warn(p.logger).Log("msg", "cluster id changed but no endpoint list was fetched, retrying next cycle")
        p.forgetClusterID()
    default:
        p.apply(ctx, snapshot)
    }

    p.mu.Lock()
    p.lastTend = time.Now()
    p.mu.Unlock()
    obsmetrics.TendCycles.WithLabelValues(strconv.FormatBool(refreshed)).Inc()
    obsmetrics.TendDuration.Observe(time.Since(start).Seconds())
}

// poll queries the cluster id on the seeds and the current node channels.
// refreshed reports whether any channel reported a changed id; snapshot is the
// largest endpoint map returned by those channels, valid when ok is set.
func (p *ChannelProvider) poll(ctx context.Context) (refreshed bool, snapshot map[transport.NodeID]transport.EndpointList, ok bool) {
    for _, ch := range p.knownChannels() {
        if ctx.Err() != nil {
            return refreshed, snapshot, ok
        }
        id, err := p.clusterIDOf(ctx, ch)
        if err != nil {
            obsmetrics.TendErrors.WithLabelValues("GetClusterId").Inc()
            level.Debug(p.logger).Log("msg", "cluster id query failed", "target", ch.Target(), "err", err)
            continue
        }
        if !p.observeClusterID(id) {
            continue
        }
        refreshed = true
        eps, err := p.endpointsOf(ctx, ch)
        if err != nil {
            obsmetrics.TendErrors.WithLabelValues("GetClusterEndpoints").Inc()
            level.Debug(p.logger).Log("msg", "cluster endpoints query failed", "target", ch.Target(), "err", err)
            continue
        }
        if !ok || len(eps) > len(snapshot) {
            snapshot, ok = eps, true
        }
    }
    return refreshed, snapshot, ok
}

func (p *ChannelProvider) clusterIDOf(ctx context.Context, ch transport.Channel) (transport.ClusterID, error) {
    ctx, cancel := context.WithTimeout(ctx, p.opts.TendTimeout)
    defer cancel()
    return p.opts.Info.GetClusterID(ctx, ch)
}

func (p *ChannelProvider) endpointsOf(ctx context.Context, ch transport.Channel) (map[transport.NodeID]transport.EndpointList, error) {
    ctx, cancel := context.WithTimeout(ctx, p.opts.TendTimeout)
    defer cancel()
    return p.opts.Info.GetClusterEndpoints(ctx, ch, p.opts.ListenerName)
}

// knownChannels returns the seed channels followed by the node channels.
func (p *ChannelProvider) knownChannels() []transport.Channel {
    p.mu.RLock()
    defer p.mu.RUnlock()
    out := make([]transport.Channel, 0, len(p.seeds)+len(p.live))
    out = append(out, p.seeds...)
    return append(out, p.live...)
}

// observeClusterID records id and reports whether it differs from the last
// known one.
func (p *ChannelProvider) observeClusterID(id transport.ClusterID) bool {
    p.mu.Lock()
    if id == p.clusterID {
        p.mu.Unlock()
        return false
    }
    prev := p.clusterID
    p.clusterID = id
    p.mu.Unlock()

    obsmetrics.ClusterIDChanges.Inc()
    level.Debug(p.logger).Log("msg", "cluster id changed", "from", uint64(prev), "to", uint64(id))
    p.eb.publish(Event{Type: EventClusterIDChanged, At: time.Now(), ClusterID: id})
    return true
}

func (p *ChannelProvider) forgetClusterID() {
    p.mu.Lock()
    p.clusterID = 0
    p.mu.Unlock()
}

type nodeChange struct {
    id        transport.NodeID
    endpoints transport.EndpointList
    channel   transport.Channel
    replaces  bool
}

// apply reconciles the node channels with snapshot. New channels are dialed
// without holding the lock; the map is then updated in one critical section
// and the channels that left it are closed afterwards.
func (p *ChannelProvider) apply(ctx context.Context, snapshot map[transport.NodeID]transport.EndpointList) {
    var (
        changes []nodeChange
        retry   bool
        events  []Event
        now     = time.Now()
    )

    p.mu.RLock()
    current := make(map[transport.NodeID]transport.EndpointList, len(p.nodes))
    for id, ce := range p.nodes {
        current[id] = ce.endpoints
    }
    p.mu.RUnlock()

    for id, eps := range snapshot {
        old, known := current[id]
        if known && old.Equal(eps) {
            continue
        }
        ch, err := p.dialEndpointList(ctx, id, eps)
        if err != nil {
            retry = true
            obsmetrics.UnreachableNodes.Inc()
            level.Warn(p.logger).Log("msg", "node unreachable on every endpoint", "node", uint64(id), "err", err)
            events = append(events, Event{Type: EventNodeUnreachable, At: now, NodeID: id, Endpoints: eps.Clone().Endpoints})
            continue
        }
        changes = append(changes, nodeChange{id: id, endpoints: eps.Clone(), channel: ch, replaces: known})
    }

    var stale []transport.Channel
    p.mu.Lock()
    if p.closed {
        p.mu.Unlock()
        for _, c := range changes {
            _ = c.channel.Close()
        }
        return
    }
    for _, c := range changes {
        if prev, ok := p.nodes[c.id]; ok {
            stale = append(stale, prev.channel)
        }
        p.nodes[c.id] = &channelEndpoints{channel: c.channel, endpoints: c.endpoints}
        typ := EventNodeAdded
        if c.replaces {
            typ = EventNodeUpdated
            obsmetrics.ChannelReplacements.Inc()
        }
        events = append(events, Event{Type: typ, At: now, NodeID: c.id, Endpoints: c.endpoints.Endpoints, Target: c.channel.Target()})
    }
    for id, ce := range p.nodes {
        if _, ok := snapshot[id]; ok {
            continue
        }
        delete(p.nodes, id)
        stale = append(stale, ce.channel)
        obsmetrics.ChannelRemovals.Inc()
        events = append(events, Event{Type: EventNodeRemoved, At: now, NodeID: id, Target: ce.channel.Target()})
    }
    p.rebuildLive()
    if retry {
        p.clusterID = 0
    }
    nodes := len(p.nodes)
    p.mu.Unlock()

    for _, ch := range stale {
        if err := ch.Close(); err != nil {
            level.Debug(p.logger).Log("msg", "closing stale channel failed", "target", ch.Target(), "err", err)
        }
    }
    if len(changes) > 0 || len(stale) > 0 {
        level.Info(p.logger).Log("msg", "node channels refreshed", "changed", len(changes), "closed", len(stale), "nodes", nodes)
    }
    p.eb.publish(events...)
}
