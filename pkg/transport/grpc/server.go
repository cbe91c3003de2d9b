package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    obsmetrics "github.com/amirimatin/go-chanpool/pkg/observability/metrics"
    "github.com/amirimatin/go-chanpool/pkg/observability/tracing"
    "github.com/amirimatin/go-chanpool/pkg/transport"
)

// Server exposes a transport.ClusterInfoSource over gRPC with the JSON codec,
// next to the standard health service.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// clusterInfoServer defines the methods we expose.
type clusterInfoServer interface {
    GetClusterId(ctx context.Context, in *transport.Empty) (*transport.ClusterIDResponse, error)
    GetClusterEndpoints(ctx context.Context, in *transport.ClusterEndpointsRequest) (*transport.ClusterEndpointsResponse, error)
}

type infoImpl struct{ src transport.ClusterInfoSource }

func (i *infoImpl) GetClusterId(ctx context.Context, _ *transport.Empty) (*transport.ClusterIDResponse, error) {
    ctx, span := tracing.StartSpan(ctx, "grpc.server.GetClusterId")
    defer span.End()
    obsmetrics.BackendRequests.WithLabelValues("GetClusterId").Inc()
    id, err := i.src.ClusterID(ctx)
    if err != nil {
        span.RecordError(err)
        return nil, status.Error(codes.Unavailable, err.Error())
    }
    return &transport.ClusterIDResponse{ID: id}, nil
}

func (i *infoImpl) GetClusterEndpoints(ctx context.Context, in *transport.ClusterEndpointsRequest) (*transport.ClusterEndpointsResponse, error) {
    if in == nil {
        in = &transport.ClusterEndpointsRequest{}
    }
    ctx, span := tracing.StartSpan(ctx, "grpc.server.GetClusterEndpoints")
    defer span.End()
    obsmetrics.BackendRequests.WithLabelValues("GetClusterEndpoints").Inc()
    eps, err := i.src.ClusterEndpoints(ctx, in.ListenerName)
    if err != nil {
        span.RecordError(err)
        return nil, status.Error(codes.Unavailable, err.Error())
    }
    return &transport.ClusterEndpointsResponse{Endpoints: eps}, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _ClusterInfo_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*clusterInfoServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetClusterId", Handler: _ClusterInfo_GetClusterId_Handler},
        {MethodName: "GetClusterEndpoints", Handler: _ClusterInfo_GetClusterEndpoints_Handler},
    },
}

func _ClusterInfo_GetClusterId_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.Empty)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(clusterInfoServer).GetClusterId(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetClusterID}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(clusterInfoServer).GetClusterId(ctx, req.(*transport.Empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _ClusterInfo_GetClusterEndpoints_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ClusterEndpointsRequest)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(clusterInfoServer).GetClusterEndpoints(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetClusterEndpoints}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(clusterInfoServer).GetClusterEndpoints(ctx, req.(*transport.ClusterEndpointsRequest))
    }
    return interceptor(ctx, in, info, handler)
}

// Start listens on the bind address and serves src until ctx is done or Stop
// is called.
func (s *Server) Start(ctx context.Context, src transport.ClusterInfoSource) error {
    if src == nil {
        return errors.New("grpc: nil ClusterInfoSource")
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.srv != nil {
        return errors.New("grpc: server already started")
    }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&_ClusterInfo_serviceDesc, &infoImpl{src: src})
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

    s.lis, s.srv, s.health = lis, srv, hs

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound listener address once started (useful with ":0"),
// or the configured bind address otherwise.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil {
        return s.lis.Addr().String()
    }
    return s.bind
}

// Stop drains the server, falling back to a hard stop when ctx expires or
// after two seconds.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health, s.lis = nil, nil, nil
    s.mu.Unlock()
    if srv == nil {
        return nil
    }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}
