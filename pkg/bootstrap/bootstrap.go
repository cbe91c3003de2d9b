package bootstrap

import (
    "context"
    "errors"
    "fmt"
    "io"

    kitlog "github.com/go-kit/log"

    "github.com/amirimatin/go-chanpool/pkg/backend"
    "github.com/amirimatin/go-chanpool/pkg/cluster"
    "github.com/amirimatin/go-chanpool/pkg/discovery"
    dDNS "github.com/amirimatin/go-chanpool/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-chanpool/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-chanpool/pkg/discovery/static"
    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/transport"
    tgrpc "github.com/amirimatin/go-chanpool/pkg/transport/grpc"
)

// Logger builds the process logger described by cfg.Log.
func (c Config) Logger(w io.Writer) kitlog.Logger {
    return logutil.New(w, c.JSONLogs() || logutil.JSONFromEnv(), c.Log.Level)
}

// NewDiscovery returns the seed source selected by cfg.Discovery.Kind.
func (c Config) NewDiscovery(logger kitlog.Logger) (discovery.Discovery, error) {
    switch c.Discovery.Kind {
    case "dns":
        return dDNS.New(dDNS.Options{
            Names:   c.Discovery.DNSNames,
            Port:    c.Discovery.DNSPort,
            TLS:     c.Discovery.DNSTLS,
            Refresh: c.Discovery.Refresh,
            Logger:  logger,
        }), nil
    case "file":
        return dFile.New(dFile.Options{
            Path:    c.Discovery.FilePath,
            Env:     c.Discovery.FileEnv,
            Refresh: c.Discovery.Refresh,
            Logger:  logger,
        }), nil
    default:
        eps, err := discovery.ParseAll(c.Seeds)
        if err != nil {
            return nil, err
        }
        return dStatic.New(eps...), nil
    }
}

// ProviderOptions assembles cluster.Options: seeds from discovery, a gRPC
// dialer (TLS for endpoints flagged as such) and the ClusterInfo client.
func (c Config) ProviderOptions(logger kitlog.Logger) (cluster.Options, error) {
    logger = logutil.OrNop(logger)
    disc, err := c.NewDiscovery(logger)
    if err != nil {
        return cluster.Options{}, err
    }
    tlsCfg, err := c.TLS.Client()
    if err != nil {
        return cluster.Options{}, fmt.Errorf("bootstrap: tls: %w", err)
    }
    return cluster.Options{
        Seeds:        disc.Seeds(),
        ListenerName: c.Listener,
        LoadBalancer: c.LoadBalancer,
        TendInterval: c.Tend.Interval,
        TendTimeout:  c.Tend.Timeout,
        Dialer:       tgrpc.NewDialer(c.Dial.Timeout).UseTLS(tlsCfg),
        SeedDialer:   tgrpc.NewDialer(0).UseTLS(tlsCfg),
        Info:         tgrpc.NewInfoClient(c.Tend.Timeout),
        Logger:       logger,
    }, nil
}

// Build creates and starts a ChannelProvider from cfg.
func Build(ctx context.Context, cfg Config, logger kitlog.Logger) (*cluster.ChannelProvider, error) {
    opts, err := cfg.ProviderOptions(logger)
    if err != nil {
        return nil, err
    }
    return cluster.New(ctx, opts)
}

// BuildBackend creates (without starting) a backend node from cfg.Backend.
func BuildBackend(cfg Config, logger kitlog.Logger) (*backend.Node, error) {
    b := cfg.Backend
    if b.NodeID == 0 {
        return nil, errors.New("bootstrap: backend.node_id is required")
    }
    listeners := make(map[string][]transport.Endpoint, len(b.Listeners))
    for name, raw := range b.Listeners {
        eps, err := discovery.ParseAll(raw)
        if err != nil {
            return nil, fmt.Errorf("bootstrap: listener %q: %w", name, err)
        }
        listeners[name] = eps
    }
    bc := backend.Config{
        NodeID:          transport.NodeID(b.NodeID),
        RPCBind:         b.RPCBind,
        GossipBind:      b.GossipBind,
        GossipAdvertise: b.GossipAdvertise,
        Join:            b.Join,
        Listeners:       listeners,
        Logger:          logger,
    }
    if cfg.TLS.CertFile != "" {
        srvTLS, err := cfg.TLS.Server()
        if err != nil {
            return nil, fmt.Errorf("bootstrap: tls: %w", err)
        }
        bc.TLS = srvTLS
    }
    return backend.New(bc)
}
