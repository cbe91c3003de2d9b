package transport

import "context"

// ClusterIDResponse is the reply of GetClusterId.
type ClusterIDResponse struct {
    ID ClusterID `json:"id"`
}

// ClusterEndpointsRequest asks for the endpoints of every node, filtered by
// listener name. An empty listener selects the default listener.
type ClusterEndpointsRequest struct {
    ListenerName string `json:"listenerName,omitempty"`
}

// ClusterEndpointsResponse maps each node to its reported endpoints.
type ClusterEndpointsResponse struct {
    Endpoints map[NodeID]EndpointList `json:"endpoints"`
}

// Empty is the request of parameterless calls.
type Empty struct{}

// ClusterInfoClient issues the topology RPCs against an existing channel.
type ClusterInfoClient interface {
    GetClusterID(ctx context.Context, ch Channel) (ClusterID, error)
    GetClusterEndpoints(ctx context.Context, ch Channel, listenerName string) (map[NodeID]EndpointList, error)
}

// ClusterInfoSource answers the topology RPCs on the server side.
type ClusterInfoSource interface {
    ClusterID(ctx context.Context) (ClusterID, error)
    ClusterEndpoints(ctx context.Context, listenerName string) (map[NodeID]EndpointList, error)
}

// StatusFunc returns a JSON-encoded status payload for the /status endpoint.
type StatusFunc func(ctx context.Context) ([]byte, error)

// HealthFunc reports whether the process is healthy for /healthz.
type HealthFunc func(ctx context.Context) error
