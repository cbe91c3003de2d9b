package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/connectivity"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-chanpool/pkg/observability/tracing"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

const (
    serviceName               = "chanpool.v1.ClusterInfo"
    methodGetClusterID        = "/" + serviceName + "/GetClusterId"
    methodGetClusterEndpoints = "/" + serviceName + "/GetClusterEndpoints"
)

// Dialer builds gRPC channels for seeds and node endpoints. Endpoints flagged
// as TLS get transport credentials from the configured tls.Config; all others
// are dialed in plaintext.
type Dialer struct {
    tlsCfg         *tls.Config
    connectTimeout time.Duration
    extra          []grpc.DialOption
}

// NewDialer returns a Dialer. When connectTimeout is positive, Dial waits up
// to that long for the channel to become READY and fails otherwise, so that
// an unreachable endpoint is skipped in favour of the next one. A zero
// timeout creates channels lazily, like grpc.NewClient.
func NewDialer(connectTimeout time.Duration, extra ...grpc.DialOption) *Dialer {
    return &Dialer{connectTimeout: connectTimeout, extra: extra}
}

// UseTLS sets the TLS config used for TLS endpoints.
func (d *Dialer) UseTLS(cfg *tls.Config) *Dialer { d.tlsCfg = cfg; return d }

func (d *Dialer) dialOptions(ep transport.Endpoint) []grpc.DialOption {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if ep.TLS {
        cfg := d.tlsCfg
        if cfg == nil {
            cfg = &tls.Config{MinVersion: tls.VersionTLS12}
        }
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return append(opts, d.extra...)
}

// Dial creates a channel to ep.
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint) (transport.Channel, error) {
    if ep.Address == "" || ep.Port <= 0 || ep.Port > 65535 {
        return nil, fmt.Errorf("grpc: invalid endpoint %q", ep.String())
    }
    cc, err := grpc.NewClient(ep.HostPort(), d.dialOptions(ep)...)
    if err != nil {
        return nil, fmt.Errorf("grpc: new client %s: %w", ep.String(), err)
    }
    if d.connectTimeout <= 0 {
        return cc, nil
    }
    if err := waitReady(ctx, cc, d.connectTimeout); err != nil {
        _ = cc.Close()
        return nil, fmt.Errorf("grpc: connect %s: %w", ep.String(), err)
    }
    return cc, nil
}

func waitReady(ctx context.Context, cc *grpc.ClientConn, timeout time.Duration) error {
    ctx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()
    cc.Connect()
    for {
        state := cc.GetState()
        if state == connectivity.Ready {
            return nil
        }
        if !cc.WaitForStateChange(ctx, state) {
            return fmt.Errorf("last state %s: %w", state, ctx.Err())
        }
    }
}

var _ transport.Dialer = (*Dialer)(nil)

// InfoClient issues the ClusterInfo RPCs over an existing channel.
type InfoClient struct {
    timeout time.Duration
}

// NewInfoClient returns an InfoClient that bounds every call by timeout.
func NewInfoClient(timeout time.Duration) *InfoClient {
    if timeout <= 0 {
        timeout = 5 * time.Second
    }
    return &InfoClient{timeout: timeout}
}

func (c *InfoClient) GetClusterID(ctx context.Context, ch transport.Channel) (transport.ClusterID, error) {
    ctx, span := tracing.StartSpan(ctx, "grpc.GetClusterId", attribute.String("target", ch.Target()))
    defer span.End()
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    out := new(transport.ClusterIDResponse)
    if err := ch.Invoke(cctx, methodGetClusterID, &transport.Empty{}, out, grpc.ForceCodec(jsonCodec{})); err != nil {
        span.RecordError(err)
        return 0, err
    }
    return out.ID, nil
}

func (c *InfoClient) GetClusterEndpoints(ctx context.Context, ch transport.Channel, listenerName string) (map[transport.NodeID]transport.EndpointList, error) {
    ctx, span := tracing.StartSpan(ctx, "grpc.GetClusterEndpoints",
        attribute.String("target", ch.Target()), attribute.String("listener", listenerName))
    defer span.End()
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    out := new(transport.ClusterEndpointsResponse)
    req := &transport.ClusterEndpointsRequest{ListenerName: listenerName}
    if err := ch.Invoke(cctx, methodGetClusterEndpoints, req, out, grpc.ForceCodec(jsonCodec{})); err != nil {
        span.RecordError(err)
        return nil, err
    }
    if out.Endpoints == nil {
        out.Endpoints = map[transport.NodeID]transport.EndpointList{}
    }
    span.SetAttributes(attribute.Int("nodes", len(out.Endpoints)))
    return out.Endpoints, nil
}

var _ transport.ClusterInfoClient = (*InfoClient)(nil)
