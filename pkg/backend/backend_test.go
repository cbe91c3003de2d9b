package backend

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-chanpool/pkg/cluster"
    "github.com/amirimatin/go-chanpool/pkg/discovery"
    "github.com/amirimatin/go-chanpool/pkg/transport"
    tgrpc "github.com/amirimatin/go-chanpool/pkg/transport/grpc"
)

func startNode(t *testing.T, ctx context.Context, id transport.NodeID, join []string, listeners map[string][]transport.Endpoint) *Node {
    t.Helper()
    n, err := New(Config{NodeID: id, Join: join, Listeners: listeners, ProbeInterval: 100 * time.Millisecond})
    require.NoError(t, err)
    require.NoError(t, n.Start(ctx))
    t.Cleanup(func() { _ = n.Stop(context.Background()) })
    return n
}

func endpointOf(t *testing.T, hostport string) transport.Endpoint {
    t.Helper()
    ep, err := discovery.ParseEndpoint(hostport)
    require.NoError(t, err)
    return ep
}

func TestNewRequiresNodeID(t *testing.T) {
    _, err := New(Config{})
    assert.ErrorIs(t, err, ErrNoNodeID)
}

func TestNotStarted(t *testing.T) {
    n, err := New(Config{NodeID: 1})
    require.NoError(t, err)
    _, err = n.ClusterID(context.Background())
    assert.ErrorIs(t, err, ErrNotStarted)
    _, err = n.ClusterEndpoints(context.Background(), "")
    assert.ErrorIs(t, err, ErrNotStarted)
    assert.Equal(t, -1, n.HealthScore())
    assert.NoError(t, n.Stop(context.Background()))
}

func TestSingleNodeAdvertisesRPCAddress(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    n := startNode(t, ctx, 1, nil, map[string][]transport.Endpoint{
        "external": {{Address: "db.example.com", Port: 443, TLS: true}},
    })

    id, err := n.ClusterID(ctx)
    require.NoError(t, err)
    assert.NotZero(t, id)

    eps, err := n.ClusterEndpoints(ctx, "")
    require.NoError(t, err)
    assert.Equal(t, map[transport.NodeID]transport.EndpointList{
        1: {Endpoints: []transport.Endpoint{endpointOf(t, n.RPCAddr())}},
    }, eps)

    eps, err = n.ClusterEndpoints(ctx, "external")
    require.NoError(t, err)
    assert.Equal(t, "tls://db.example.com:443", eps[1].Endpoints[0].String())

    eps, err = n.ClusterEndpoints(ctx, "missing")
    require.NoError(t, err)
    assert.Empty(t, eps)
}

func TestClusterIDTracksMembership(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    n1 := startNode(t, ctx, 1, nil, nil)
    alone, err := n1.ClusterID(ctx)
    require.NoError(t, err)

    n2 := startNode(t, ctx, 2, []string{n1.GossipAddr()}, nil)
    require.Eventually(t, func() bool {
        a, _ := n1.ClusterID(ctx)
        b, _ := n2.ClusterID(ctx)
        return a == b && a != alone
    }, 5*time.Second, 50*time.Millisecond)

    require.NoError(t, n2.Stop(context.Background()))
    require.Eventually(t, func() bool {
        a, _ := n1.ClusterID(ctx)
        return a == alone
    }, 5*time.Second, 50*time.Millisecond)
}

func TestProviderFollowsBackendCluster(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    n1 := startNode(t, ctx, 1, nil, nil)
    n2 := startNode(t, ctx, 2, []string{n1.GossipAddr()}, nil)

    p, err := cluster.New(ctx, cluster.Options{
        Seeds:        []transport.Endpoint{endpointOf(t, n1.RPCAddr())},
        Dialer:       tgrpc.NewDialer(2 * time.Second),
        SeedDialer:   tgrpc.NewDialer(0),
        Info:         tgrpc.NewInfoClient(time.Second),
        TendInterval: 50 * time.Millisecond,
    })
    require.NoError(t, err)
    defer p.Close()

    nodesOf := func() []transport.NodeID {
        var ids []transport.NodeID
        for _, n := range p.Status().Nodes {
            ids = append(ids, n.ID)
        }
        return ids
    }
    require.Eventually(t, func() bool {
        return assert.ObjectsAreEqual([]transport.NodeID{1, 2}, nodesOf())
    }, 10*time.Second, 50*time.Millisecond)

    n3 := startNode(t, ctx, 3, []string{n2.GossipAddr()}, nil)
    require.Eventually(t, func() bool {
        return assert.ObjectsAreEqual([]transport.NodeID{1, 2, 3}, nodesOf())
    }, 10*time.Second, 50*time.Millisecond)

    require.NoError(t, n3.Stop(context.Background()))
    require.Eventually(t, func() bool {
        return assert.ObjectsAreEqual([]transport.NodeID{1, 2}, nodesOf())
    }, 10*time.Second, 50*time.Millisecond)

    id, err := tgrpc.NewInfoClient(time.Second).GetClusterID(ctx, p.Channel())
    require.NoError(t, err)
    assert.Equal(t, p.ClusterID(), id)
}
