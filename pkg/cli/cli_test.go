package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-chanpool/pkg/backend"
    "github.com/amirimatin/go-chanpool/pkg/transport"
    "github.com/amirimatin/go-chanpool/pkg/transport/httpjson"
)

const backendNodeID transport.NodeID = 11

type syncBuffer struct {
    mu  sync.Mutex
    buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.buf.String()
}

func newTestRoot() *cobra.Command {
    root := &cobra.Command{Use: "chanctl", SilenceUsage: true, SilenceErrors: true}
    AddAll(root)
    return root
}

func startBackend(t *testing.T) *backend.Node {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    n, err := backend.New(backend.Config{NodeID: backendNodeID})
    require.NoError(t, err)
    require.NoError(t, n.Start(ctx))
    t.Cleanup(func() {
        _ = n.Stop(context.Background())
        cancel()
    })
    return n
}

func TestEndpointsCommand(t *testing.T) {
    n := startBackend(t)
    root := newTestRoot()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs([]string{"endpoints", "--seed", n.RPCAddr(), "--timeout", "3s"})
    require.NoError(t, root.Execute())

    var got endpointsOutput
    require.NoError(t, json.Unmarshal(out.Bytes(), &got))
    id, err := n.ClusterID(context.Background())
    require.NoError(t, err)
    assert.Equal(t, id, got.ClusterID)
    require.Contains(t, got.Endpoints, backendNodeID)
    assert.Equal(t, n.RPCAddr(), got.Endpoints[backendNodeID].Endpoints[0].HostPort())
}

func TestEndpointsCommandBadSeed(t *testing.T) {
    root := newTestRoot()
    root.SetArgs([]string{"endpoints", "--seed", "not-an-endpoint"})
    assert.Error(t, root.Execute())
}

func TestStatusCommand(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := httpjson.NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, func(context.Context) ([]byte, error) {
        return []byte(`{"ClusterID":5}`), nil
    }, nil))
    defer srv.Stop(context.Background())

    root := newTestRoot()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs([]string{"status", "--addr", srv.Addr()})
    require.NoError(t, root.Execute())
    assert.JSONEq(t, `{"ClusterID":5}`, out.String())
}

func TestWatchCommandLogsTopology(t *testing.T) {
    n := startBackend(t)
    root := newTestRoot()
    var logs syncBuffer
    root.SetErr(&logs)
    root.SetArgs([]string{"watch", "--seeds", n.RPCAddr(), "--tend-interval", "50ms", "--log-level", "debug"})

    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    require.NoError(t, root.ExecuteContext(ctx))

    s := logs.String()
    assert.Contains(t, s, "watching cluster")
    assert.Contains(t, s, "nodes=1")
    assert.Contains(t, s, "channel provider closed")
}

func TestWatchCommandRejectsBadConfig(t *testing.T) {
    root := newTestRoot()
    root.SetErr(&bytes.Buffer{})
    root.SetArgs([]string{"watch", "--seeds", "h1:3000", "--discovery", "consul"})
    err := root.Execute()
    require.Error(t, err)
    assert.True(t, strings.Contains(err.Error(), "discovery"))
}
