package cluster

import (
    "context"
    "errors"
    "fmt"
    "net/netip"
    "strings"

    "github.com/go-kit/log/level"

    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// dialEndpointList returns a channel to the first endpoint of eps that can be
// dialed. IPv6 endpoints are not supported yet and are skipped.
func (p *ChannelProvider) dialEndpointList(ctx context.Context, id transport.NodeID, eps transport.EndpointList) (transport.Channel, error) {
    var errs []error
    for _, ep := range eps.Endpoints {
        addr, ok := usableAddress(ep.Address)
        if !ok {
            level.Debug(p.logger).Log("msg", "skipping unsupported endpoint", "node", uint64(id), "endpoint", ep.String())
            continue
        }
        ep.Address = addr
        ch, err := p.dial(ctx, p.opts.Dialer, ep, "node")
        if err != nil {
            level.Debug(p.logger).Log("msg", "endpoint dial failed", "node", uint64(id), "endpoint", ep.String(), "err", err)
            errs = append(errs, err)
            continue
        }
        return ch, nil
    }
    if len(errs) == 0 {
        return nil, fmt.Errorf("%w: node %d has no usable endpoint", ErrNoReachableEndpoint, id)
    }
    return nil, fmt.Errorf("%w: node %d: %w", ErrNoReachableEndpoint, id, errors.Join(errs...))
}

func (p *ChannelProvider) dial(ctx context.Context, d transport.Dialer, ep transport.Endpoint, kind string) (transport.Channel, error) {
    ch, err := d.Dial(ctx, ep)
    if err != nil {
        obsmetrics.ChannelDials.WithLabelValues(kind, "error").Inc()
        return nil, err
    }
    obsmetrics.ChannelDials.WithLabelValues(kind, "ok").Inc()
    return ch, nil
}

// usableAddress strips a zone suffix ("%eth0") and brackets from addr and
// reports false for IPv6 literals and empty addresses.
func usableAddress(addr string) (string, bool) {
    if i := strings.IndexByte(addr, '%'); i >= 0 {
        addr = addr[:i]
    }
    addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
    if addr == "" {
        return "", false
    }
    if ip, err := netip.ParseAddr(addr); err == nil && ip.Is6() {
        return "", false
    }
    return addr, true
}
