package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    TendCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "tend",
        Name:      "cycles_total",
        Help:      "Total tend cycles run, by whether the endpoint map was refreshed",
    }, []string{"refreshed"})

    TendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "tend",
        Name:      "errors_total",
        Help:      "Per-channel RPC failures observed while tending",
    }, []string{"rpc"})

    TendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "chanpool",
        Subsystem: "tend",
        Name:      "duration_seconds",
        Help:      "Wall time of a tend cycle",
        Buckets:   prometheus.DefBuckets,
    })

    ClusterIDChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "chanpool",
        Name:      "cluster_id_changes_total",
        Help:      "Number of observed cluster id changes",
    })

    NodeChannels = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "chanpool",
        Name:      "node_channels",
        Help:      "Current number of node channels held by the provider",
    })

    ChannelDials = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "channel",
        Name:      "dials_total",
        Help:      "Channel creation attempts, by kind and result",
    }, []string{"kind", "result"})

    ChannelReplacements = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "channel",
        Name:      "replacements_total",
        Help:      "Node channels replaced because the node's endpoint list changed",
    })

    ChannelRemovals = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "channel",
        Name:      "removals_total",
        Help:      "Node channels closed because the node left the cluster",
    })

    UnreachableNodes = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "chanpool",
        Name:      "unreachable_nodes_total",
        Help:      "Nodes for which no endpoint could be dialed during a refresh",
    })

    // Backend node side.
    BackendRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "chanpool",
        Subsystem: "backend",
        Name:      "requests_total",
        Help:      "ClusterInfo RPCs served by the backend node",
    }, []string{"method"})

    BackendMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "chanpool",
        Subsystem: "backend",
        Name:      "members",
        Help:      "Members currently visible to the backend node",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(TendCycles)
        prometheus.MustRegister(TendErrors)
        prometheus.MustRegister(TendDuration)
        prometheus.MustRegister(ClusterIDChanges)
        prometheus.MustRegister(NodeChannels)
        prometheus.MustRegister(ChannelDials)
        prometheus.MustRegister(ChannelReplacements)
        prometheus.MustRegister(ChannelRemovals)
        prometheus.MustRegister(UnreachableNodes)
        prometheus.MustRegister(BackendRequests)
        prometheus.MustRegister(BackendMembers)
    })
}
