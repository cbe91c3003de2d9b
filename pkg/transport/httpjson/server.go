package httpjson

import (
    "context"
    "crypto/tls"
    "errors"
    "fmt"
    "net"
    "net/http"
    "sync"
    "time"

    kitlog "github.com/go-kit/log"
    "github.com/go-kit/log/level"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-chanpool/pkg/internal/logutil"
    "github.com/amirimatin/go-chanpool/pkg/observability/tracing"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Server is a small HTTP server exposing /status, /healthz and /metrics for
// operators and tooling.
type Server struct {
    bind   string
    logger kitlog.Logger
    tlsCfg *tls.Config

    mu  sync.Mutex
    srv *http.Server
    lis net.Listener
}

// NewServer binds to the given TCP address (e.g., ":9090").
func NewServer(bind string, logger kitlog.Logger) *Server {
    return &Server{bind: bind, logger: logutil.OrNop(logger)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the mux served by Start. health may be nil.
func Handler(status transport.StatusFunc, health transport.HealthFunc) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        ctx, span := tracing.StartSpan(r.Context(), "http.status")
        defer span.End()
        data, err := status(ctx)
        if err != nil {
            span.RecordError(err)
            http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if health != nil {
            if err := health(r.Context()); err != nil {
                http.Error(w, err.Error(), http.StatusServiceUnavailable)
                return
            }
        }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// Start listens and serves until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, health transport.HealthFunc) error {
    if status == nil {
        return errors.New("httpjson: nil StatusFunc")
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.srv != nil {
        return errors.New("httpjson: server already started")
    }
    ln, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    srv := &http.Server{Handler: Handler(status, health), ReadHeaderTimeout: 5 * time.Second}
    s.srv, s.lis = srv, ln

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            level.Error(s.logger).Log("msg", "http server error", "err", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, the bind address otherwise.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil {
        return s.lis.Addr().String()
    }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.lis = nil, nil
    s.mu.Unlock()
    if srv == nil {
        return nil
    }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}
