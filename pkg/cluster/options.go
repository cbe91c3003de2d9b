package cluster

import (
    "fmt"
    "math/rand"
    "time"

    kitlog "github.com/go-kit/log"

    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

const (
    // DefaultTendInterval is the pause between two tend cycles.
    DefaultTendInterval = time.Second
    // DefaultTendTimeout bounds each ClusterInfo RPC issued while tending.
    DefaultTendTimeout = 5 * time.Second
)

// Options carries the seeds and the injected transport used to assemble a
// ChannelProvider. Instances are typically produced from bootstrap.Config.
type Options struct {
    // Seeds bootstrap discovery. At least one is required; the first one is
    // the fallback channel and, behind a load balancer, the only one used.
    Seeds []transport.Endpoint
    // ListenerName selects which of the server's listeners' endpoints are
    // reported for each node. Empty selects the default listener.
    ListenerName string
    // LoadBalancer disables tending: the seeds point at an external load
    // balancer and no node channels are ever created.
    LoadBalancer bool

    TendInterval time.Duration
    TendTimeout  time.Duration

    // Dialer builds node channels (required).
    Dialer transport.Dialer
    // SeedDialer builds seed channels. Defaults to Dialer.
    SeedDialer transport.Dialer
    // Info issues GetClusterId/GetClusterEndpoints (required).
    Info transport.ClusterInfoClient
    // Logger is optional; nil discards.
    Logger kitlog.Logger
    // Intn picks a node channel; it must return a value in [0, n).
    // Defaults to math/rand/v2.IntN.
    Intn func(n int) int
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if len(o.Seeds) == 0 {
        return ErrNoSeeds
    }
    for i, s := range o.Seeds {
        if s.Address == "" || s.Port <= 0 || s.Port > 65535 {
            return fmt.Errorf("%w: #%d %q", ErrInvalidSeed, i, s.String())
        }
    }
    if o.Dialer == nil {
        return ErrNoDialer
    }
    if o.Info == nil {
        return ErrNoInfoClient
    }
    return nil
}

func (o Options) withDefaults() Options {
    if o.TendInterval <= 0 {
        o.TendInterval = DefaultTendInterval
    }
    if o.TendTimeout <= 0 {
        o.TendTimeout = DefaultTendTimeout
    }
    if o.SeedDialer == nil {
        o.SeedDialer = o.Dialer
    }
    if o.Intn == nil {
        o.Intn = rand.Intn
    }
    o.Logger = logutil.OrNop(o.Logger)
    o.Seeds = append([]transport.Endpoint(nil), o.Seeds...)
    return o
}
