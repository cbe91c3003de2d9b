package httpjson

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
)

func TestHandlerRoutes(t *testing.T) {
    obsmetrics.Register()
    unhealthy := atomic.Bool{}
    h := Handler(
        func(context.Context) ([]byte, error) { return []byte(`{"ClusterID":7}`), nil },
        func(context.Context) error {
            if unhealthy.Load() {
                return errors.New("provider closed")
            }
            return nil
        },
    )

    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
    assert.JSONEq(t, `{"ClusterID":7}`, rec.Body.String())

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
    assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    assert.Equal(t, http.StatusOK, rec.Code)

    unhealthy.Store(true)
    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Contains(t, rec.Body.String(), "chanpool_")
}

func TestStatusError(t *testing.T) {
    h := Handler(func(context.Context) ([]byte, error) { return nil, errors.New("boom") }, nil)
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
    assert.Equal(t, http.StatusInternalServerError, rec.Code)
    assert.Contains(t, rec.Body.String(), "boom")
}

func TestServerAndClient(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    srv := NewServer("127.0.0.1:0", nil)
    require.NoError(t, srv.Start(ctx, func(context.Context) ([]byte, error) {
        return []byte(`{"ClusterID":42,"ListenerName":"internal"}`), nil
    }, nil))
    defer srv.Stop(context.Background())
    assert.Error(t, srv.Start(ctx, func(context.Context) ([]byte, error) { return nil, nil }, nil))

    var out struct {
        ClusterID    uint64
        ListenerName string
    }
    require.NoError(t, NewClient(time.Second).GetStatusInto(ctx, srv.Addr(), &out))
    assert.Equal(t, uint64(42), out.ClusterID)
    assert.Equal(t, "internal", out.ListenerName)
}

func TestClientRetriesThenFails(t *testing.T) {
    var calls atomic.Int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        http.Error(w, "not ready", http.StatusServiceUnavailable)
    }))
    defer ts.Close()

    _, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
    require.Error(t, err)
    assert.Contains(t, err.Error(), "503")
    assert.Equal(t, int32(3), calls.Load())
}
