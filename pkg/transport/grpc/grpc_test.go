package grpc

import (
    "context"
    "errors"
    "net"
    "strconv"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/goleak"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-chanpool/pkg/internal/testcerts"
    tlsx "github.com/amirimatin/go-chanpool/pkg/security/tlsconfig"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

func TestMain(m *testing.M) {
    goleak.VerifyTestMain(m)
}

type staticSource struct {
    mu        sync.Mutex
    id        transport.ClusterID
    endpoints map[string]map[transport.NodeID]transport.EndpointList
    err       error
}

func (s *staticSource) ClusterID(context.Context) (transport.ClusterID, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.id, s.err
}

func (s *staticSource) ClusterEndpoints(_ context.Context, listener string) (map[transport.NodeID]transport.EndpointList, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.err != nil {
        return nil, s.err
    }
    return s.endpoints[listener], nil
}

func startServer(t *testing.T, src transport.ClusterInfoSource, srv *Server) transport.Endpoint {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    require.NoError(t, srv.Start(ctx, src))
    t.Cleanup(func() {
        cancel()
        _ = srv.Stop(context.Background())
    })
    host, portStr, err := net.SplitHostPort(srv.Addr())
    require.NoError(t, err)
    port, err := strconv.Atoi(portStr)
    require.NoError(t, err)
    return transport.Endpoint{Address: host, Port: port}
}

func TestDialAndQueryClusterInfo(t *testing.T) {
    src := &staticSource{
        id: 42,
        endpoints: map[string]map[transport.NodeID]transport.EndpointList{
            "": {
                1: {Endpoints: []transport.Endpoint{{Address: "10.0.0.1", Port: 5000}}},
                2: {Endpoints: []transport.Endpoint{{Address: "10.0.0.2", Port: 5000}, {Address: "node2", Port: 5001, TLS: true}}},
            },
            "external": {
                1: {Endpoints: []transport.Endpoint{{Address: "203.0.113.1", Port: 443, TLS: true}}},
            },
        },
    }
    ep := startServer(t, src, NewServer("127.0.0.1:0"))

    ch, err := NewDialer(5*time.Second).Dial(context.Background(), ep)
    require.NoError(t, err)
    defer ch.Close()

    info := NewInfoClient(2 * time.Second)
    id, err := info.GetClusterID(context.Background(), ch)
    require.NoError(t, err)
    assert.Equal(t, transport.ClusterID(42), id)

    eps, err := info.GetClusterEndpoints(context.Background(), ch, "")
    require.NoError(t, err)
    require.Len(t, eps, 2)
    assert.True(t, eps[2].Equal(src.endpoints[""][2]))

    ext, err := info.GetClusterEndpoints(context.Background(), ch, "external")
    require.NoError(t, err)
    require.Len(t, ext, 1)
    assert.True(t, ext[1].Endpoints[0].TLS)

    none, err := info.GetClusterEndpoints(context.Background(), ch, "missing")
    require.NoError(t, err)
    assert.Empty(t, none)
}

func TestSourceErrorSurfacesAsUnavailable(t *testing.T) {
    src := &staticSource{err: errors.New("not ready")}
    ep := startServer(t, src, NewServer("127.0.0.1:0"))

    ch, err := NewDialer(0).Dial(context.Background(), ep)
    require.NoError(t, err)
    defer ch.Close()

    _, err = NewInfoClient(time.Second).GetClusterID(context.Background(), ch)
    require.Error(t, err)
    assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestDialTLS(t *testing.T) {
    files := testcerts.Write(t, t.TempDir())
    srvTLS, err := tlsx.Options{CertFile: files.ServerCert, KeyFile: files.ServerKey}.Server()
    require.NoError(t, err)
    ep := startServer(t, &staticSource{id: 7}, NewServer("127.0.0.1:0").UseTLS(srvTLS))
    ep.TLS = true

    cliTLS, err := tlsx.Options{CAFile: files.CA}.Client()
    require.NoError(t, err)
    ch, err := NewDialer(5*time.Second).UseTLS(cliTLS).Dial(context.Background(), ep)
    require.NoError(t, err)
    defer ch.Close()

    id, err := NewInfoClient(2*time.Second).GetClusterID(context.Background(), ch)
    require.NoError(t, err)
    assert.Equal(t, transport.ClusterID(7), id)
}

func TestDialConnectTimeoutOnClosedPort(t *testing.T) {
    lis, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    port := lis.Addr().(*net.TCPAddr).Port
    require.NoError(t, lis.Close())

    _, err = NewDialer(200*time.Millisecond).Dial(context.Background(), transport.Endpoint{Address: "127.0.0.1", Port: port})
    assert.Error(t, err)
}

func TestDialRejectsInvalidEndpoint(t *testing.T) {
    _, err := NewDialer(0).Dial(context.Background(), transport.Endpoint{Address: "h1", Port: 0})
    assert.Error(t, err)
    _, err = NewDialer(0).Dial(context.Background(), transport.Endpoint{Port: 3000})
    assert.Error(t, err)
}

func TestServerStartTwice(t *testing.T) {
    srv := NewServer("127.0.0.1:0")
    startServer(t, &staticSource{}, srv)
    assert.Error(t, srv.Start(context.Background(), &staticSource{}))
}
