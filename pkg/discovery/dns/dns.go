package dns

import (
    "context"
    "net"
    "sort"
    "strings"
    "sync"
    "time"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"

    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Options configures DNS-based discovery.
type Options struct {
    // Names are SRV records, hostnames or literal host:port seeds.
    // Examples: "_chanpool._tcp.example.com" (SRV) or "node1.example.com" (A/AAAA).
    Names []string

    // Port used when resolving A/AAAA records (no port info in DNS answer).
    Port int

    // TLS marks every resolved endpoint as TLS.
    TLS bool

    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration

    // Timeout bounds one resolution pass; if zero, defaults to 2s.
    Timeout time.Duration

    // Resolver optionally overrides the DNS resolver used.
    Resolver *net.Resolver

    Logger kitlog.Logger
}

type impl struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    cache []transport.Endpoint
}

// New returns a DNS-backed discovery that resolves SRV and A/AAAA names
// and caches results for the Refresh duration.
func New(opts Options) discovery.Discovery {
    if opts.Refresh <= 0 {
        opts.Refresh = 5 * time.Second
    }
    if opts.Timeout <= 0 {
        opts.Timeout = 2 * time.Second
    }
    if opts.Port == 0 {
        opts.Port = 3000
    }
    if opts.Resolver == nil {
        opts.Resolver = net.DefaultResolver
    }
    opts.Logger = logutil.OrNop(opts.Logger)
    return &impl{opts: opts}
}

func (d *impl) Seeds() []transport.Endpoint {
    d.mu.Lock()
    defer d.mu.Unlock()
    if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
        return append([]transport.Endpoint(nil), d.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
    defer cancel()
    if res := d.resolveAll(ctx); len(res) > 0 || len(d.cache) == 0 {
        d.cache = res
    }
    d.last = time.Now()
    return append([]transport.Endpoint(nil), d.cache...)
}

func (d *impl) resolveAll(ctx context.Context) []transport.Endpoint {
    seen := make(map[string]struct{})
    var out []transport.Endpoint
    add := func(ep transport.Endpoint) {
        ep.TLS = ep.TLS || d.opts.TLS
        k := ep.String()
        if _, ok := seen[k]; ok {
            return
        }
        seen[k] = struct{}{}
        out = append(out, ep)
    }
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        if name == "" {
            continue
        }
        // literal host:port, taken as-is
        if strings.Contains(name, ":") && !strings.HasPrefix(name, "_") {
            ep, err := discovery.ParseEndpoint(name)
            if err != nil {
                level.Warn(d.opts.Logger).Log("msg", "ignoring seed", "name", name, "err", err)
                continue
            }
            add(ep)
            continue
        }
        if strings.HasPrefix(name, "_") && strings.Contains(name, "._") {
            if recs := d.lookupSRV(ctx, name); len(recs) > 0 {
                for _, ep := range recs {
                    add(ep)
                }
                continue
            }
        }
        for _, ep := range d.lookupHost(ctx, name, d.opts.Port) {
            add(ep)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
    return out
}

func (d *impl) lookupSRV(ctx context.Context, fqdn string) []transport.Endpoint {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" {
        return nil
    }
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        level.Debug(d.opts.Logger).Log("msg", "srv lookup failed", "name", fqdn, "err", err)
        return nil
    }
    out := make([]transport.Endpoint, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, transport.Endpoint{Address: strings.TrimSuffix(a.Target, "."), Port: int(a.Port)})
    }
    return out
}

func (d *impl) lookupHost(ctx context.Context, host string, port int) []transport.Endpoint {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        level.Debug(d.opts.Logger).Log("msg", "host lookup failed", "name", host, "err", err)
        return nil
    }
    out := make([]transport.Endpoint, 0, len(ips))
    for _, ip := range ips {
        out = append(out, transport.Endpoint{Address: ip, Port: port})
    }
    return out
}

func parseSRVName(fqdn string) (service, proto, name string) {
    // _service._proto.name
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 {
        return "", "", ""
    }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
