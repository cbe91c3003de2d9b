package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"
    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-chanpool/pkg/bootstrap"
    "github.com/amirimatin/go-chanpool/pkg/cluster"
    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-chanpool/pkg/security/tlsconfig"
    "github.com/amirimatin/go-chanpool/pkg/transport"
    tgrpc "github.com/amirimatin/go-chanpool/pkg/transport/grpc"
    "github.com/amirimatin/go-chanpool/pkg/transport/httpjson"
)

// AddAll attaches watch/status/endpoints/serve to root, plus the persistent
// --config flag they share.
func AddAll(root *cobra.Command) {
    root.PersistentFlags().String("config", "", "path to a YAML config file (env: CHANPOOL_*)")
    root.AddCommand(NewWatchCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewEndpointsCmd())
    root.AddCommand(NewServeCmd())
}

// flagKeys maps flag names to config keys; only flags set on the command line
// override the file and environment.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (bootstrap.Config, error) {
    path, _ := cmd.Flags().GetString("config")
    overrides := map[string]any{}
    cmd.Flags().Visit(func(f *pflag.Flag) {
        key, ok := flagKeys[f.Name]
        if !ok {
            return
        }
        if sv, ok := f.Value.(pflag.SliceValue); ok {
            overrides[key] = sv.GetSlice()
            return
        }
        overrides[key] = f.Value.String()
    })
    return bootstrap.Load(path, overrides)
}

func addClientFlags(fs *pflag.FlagSet) map[string]string {
    fs.StringSlice("seeds", nil, "seed endpoints (host:port or tls://host:port)")
    fs.String("listener", "", "listener name whose endpoints are used")
    fs.Bool("load-balancer", false, "seeds point at a load balancer; do not tend")
    fs.Duration("tend-interval", 0, "pause between tend cycles")
    fs.Duration("tend-timeout", 0, "timeout of each ClusterInfo RPC")
    fs.Duration("dial-timeout", 0, "time a node channel may take to become ready")
    fs.String("discovery", "", "seed discovery: static|dns|file")
    fs.StringSlice("dns-names", nil, "DNS names or SRV records (discovery=dns)")
    fs.Int("dns-port", 0, "port used for A/AAAA lookups")
    fs.String("file-path", "", "seed file or glob (discovery=file)")
    fs.String("tls-ca", "", "CA bundle (PEM) for TLS endpoints")
    fs.String("tls-cert", "", "client certificate (PEM)")
    fs.String("tls-key", "", "client private key (PEM)")
    fs.String("tls-server-name", "", "expected server name")
    fs.Bool("tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    return map[string]string{
        "seeds":           "seeds",
        "listener":        "listener",
        "load-balancer":   "loadbalancer",
        "tend-interval":   "tend.interval",
        "tend-timeout":    "tend.timeout",
        "dial-timeout":    "dial.timeout",
        "discovery":       "discovery.kind",
        "dns-names":       "discovery.dns_names",
        "dns-port":        "discovery.dns_port",
        "file-path":       "discovery.file_path",
        "tls-ca":          "tls.ca_file",
        "tls-cert":        "tls.cert_file",
        "tls-key":         "tls.key_file",
        "tls-server-name": "tls.server_name",
        "tls-skip-verify": "tls.insecure_skip_verify",
    }
}

func addCommonFlags(fs *pflag.FlagSet, keys map[string]string) {
    fs.String("log-level", "", "debug|info|warn|error")
    fs.Bool("log-json", false, "JSON logs")
    fs.String("http-addr", "", "serve /status, /healthz and /metrics on this address")
    fs.Bool("trace", false, "enable OpenTelemetry stdout tracing (dev)")
    keys["log-level"] = "log.level"
    keys["log-json"] = "log.json"
    keys["http-addr"] = "http.addr"
    keys["trace"] = "tracing"
}

// NewWatchCmd returns the "watch" command: it keeps a ChannelProvider running
// and logs every topology change.
func NewWatchCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Track cluster topology and log node channel changes",
    }
    keys := addClientFlags(cmd.Flags())
    addCommonFlags(cmd.Flags(), keys)
    cmd.RunE = func(cmd *cobra.Command, args []string) error {
        cfg, err := loadConfig(cmd, keys)
        if err != nil {
            return err
        }
        logger := cfg.Logger(cmd.ErrOrStderr())
        ctx, cancel := signalContext(cmd.Context())
        defer cancel()
        defer setupTracing(cfg.Tracing, logger)()

        p, err := bootstrap.Build(ctx, cfg, logger)
        if err != nil {
            return err
        }
        defer p.Close()

        if cfg.HTTP.Addr != "" {
            srv := httpjson.NewServer(cfg.HTTP.Addr, logger)
            if err := srv.Start(ctx, statusFunc(p.Status), func(context.Context) error {
                if p.Closed() {
                    return errors.New("provider closed")
                }
                return nil
            }); err != nil {
                return err
            }
            defer srv.Stop(context.Background())
            level.Info(logger).Log("msg", "status server listening", "addr", srv.Addr())
        }

        events := p.Subscribe(ctx)
        level.Info(logger).Log("msg", "watching cluster", "cluster_id", uint64(p.ClusterID()), "nodes", len(p.Status().Nodes))
        for ev := range events {
            logEvent(logger, ev)
        }
        return nil
    }
    return cmd
}

func logEvent(logger kitlog.Logger, ev cluster.Event) {
    kv := []any{"msg", "topology event", "type", ev.Type}
    switch ev.Type {
    case cluster.EventClusterIDChanged:
        kv = append(kv, "cluster_id", uint64(ev.ClusterID))
    default:
        kv = append(kv, "node", uint64(ev.NodeID))
        if ev.Target != "" {
            kv = append(kv, "target", ev.Target)
        }
    }
    if ev.Type == cluster.EventNodeUnreachable {
        level.Warn(logger).Log(kv...)
        return
    }
    level.Info(logger).Log(kv...)
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
        tlsCA   string
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch a watcher's status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            if tlsCA != "" {
                cfg, err := tlsx.Options{CAFile: tlsCA}.Client()
                if err != nil {
                    return fmt.Errorf("tls client config: %w", err)
                }
                client.UseTLS(cfg)
            }
            data, err := client.GetStatus(ctx, addr)
            if err != nil {
                return fmt.Errorf("status error: %w", err)
            }
            return writeJSON(cmd.OutOrStdout(), json.RawMessage(data))
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "status HTTP address of a watcher (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "CA bundle when the status server uses TLS")
    return cmd
}

type endpointsOutput struct {
    Seed      string
    ClusterID transport.ClusterID
    Listener  string
    Endpoints map[transport.NodeID]transport.EndpointList
}

// NewEndpointsCmd returns the "endpoints" command: a one-shot
// GetClusterId + GetClusterEndpoints against a single seed.
func NewEndpointsCmd() *cobra.Command {
    var (
        seed     string
        listener string
        timeout  time.Duration
    )
    cmd := &cobra.Command{
        Use:   "endpoints",
        Short: "Query cluster id and endpoints from one seed",
        RunE: func(cmd *cobra.Command, args []string) error {
            ep, err := discovery.ParseEndpoint(seed)
            if err != nil {
                return err
            }
            cfg, err := loadConfig(cmd, nil)
            if err != nil {
                return err
            }
            tlsCfg, err := cfg.TLS.Client()
            if err != nil {
                return fmt.Errorf("tls client config: %w", err)
            }
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            ch, err := tgrpc.NewDialer(timeout).UseTLS(tlsCfg).Dial(ctx, ep)
            if err != nil {
                return err
            }
            defer ch.Close()

            info := tgrpc.NewInfoClient(timeout)
            id, err := info.GetClusterID(ctx, ch)
            if err != nil {
                return fmt.Errorf("GetClusterId: %w", err)
            }
            eps, err := info.GetClusterEndpoints(ctx, ch, listener)
            if err != nil {
                return fmt.Errorf("GetClusterEndpoints: %w", err)
            }
            return writeJSON(cmd.OutOrStdout(), endpointsOutput{Seed: ep.String(), ClusterID: id, Listener: listener, Endpoints: eps})
        },
    }
    cmd.Flags().StringVar(&seed, "seed", "127.0.0.1:3000", "seed endpoint (host:port or tls://host:port)")
    cmd.Flags().StringVar(&listener, "listener", "", "listener name")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "dial and request timeout")
    return cmd
}

type backendStatus struct {
    NodeID      uint64
    RPCAddr     string
    GossipAddr  string
    HealthScore int
    ClusterID   transport.ClusterID
}

// NewServeCmd returns the "serve" command, which runs a backend node.
func NewServeCmd() *cobra.Command {
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Run a backend node that answers the ClusterInfo RPCs",
    }
    fs := cmd.Flags()
    fs.Uint64("node-id", 0, "numeric node id (required)")
    fs.String("rpc-bind", "", "ClusterInfo gRPC bind address")
    fs.String("gossip-bind", "", "memberlist bind address")
    fs.String("gossip-advertise", "", "memberlist advertise address")
    fs.StringSlice("join", nil, "gossip addresses of existing members")
    fs.String("tls-cert", "", "server certificate (PEM); enables TLS")
    fs.String("tls-key", "", "server private key (PEM)")
    fs.String("tls-ca", "", "CA bundle (PEM); requires client certificates")
    keys := map[string]string{
        "node-id":          "backend.node_id",
        "rpc-bind":         "backend.rpc_bind",
        "gossip-bind":      "backend.gossip_bind",
        "gossip-advertise": "backend.gossip_advertise",
        "join":             "backend.join",
        "tls-cert":         "tls.cert_file",
        "tls-key":          "tls.key_file",
        "tls-ca":           "tls.ca_file",
    }
    addCommonFlags(fs, keys)
    cmd.RunE = func(cmd *cobra.Command, args []string) error {
        cfg, err := loadConfig(cmd, keys)
        if err != nil {
            return err
        }
        logger := cfg.Logger(cmd.ErrOrStderr())
        ctx, cancel := signalContext(cmd.Context())
        defer cancel()
        defer setupTracing(cfg.Tracing, logger)()

        node, err := bootstrap.BuildBackend(cfg, logger)
        if err != nil {
            return err
        }
        if err := node.Start(ctx); err != nil {
            return err
        }
        defer node.Stop(context.Background())

        if cfg.HTTP.Addr != "" {
            srv := httpjson.NewServer(cfg.HTTP.Addr, logger)
            status := func(ctx context.Context) ([]byte, error) {
                id, err := node.ClusterID(ctx)
                if err != nil {
                    return nil, err
                }
                return json.Marshal(backendStatus{
                    NodeID:      cfg.Backend.NodeID,
                    RPCAddr:     node.RPCAddr(),
                    GossipAddr:  node.GossipAddr(),
                    HealthScore: node.HealthScore(),
                    ClusterID:   id,
                })
            }
            if err := srv.Start(ctx, status, nil); err != nil {
                return err
            }
            defer srv.Stop(context.Background())
        }
        <-ctx.Done()
        return nil
    }
    return cmd
}

func statusFunc(status func() cluster.Status) transport.StatusFunc {
    return func(context.Context) ([]byte, error) {
        return json.Marshal(status())
    }
}

func setupTracing(enable bool, logger kitlog.Logger) func() {
    shutdown, err := tracing.Setup(enable)
    if err != nil {
        level.Warn(logger).Log("msg", "tracing setup failed", "err", err)
        return func() {}
    }
    return func() { _ = shutdown(context.Background()) }
}

func writeJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
    if parent == nil {
        parent = context.Background()
    }
    return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
