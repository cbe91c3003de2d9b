package cluster

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-chanpool/pkg/transport"
)

type EventType string

const (
    EventClusterIDChanged EventType = "cluster_id_changed"
    EventNodeAdded        EventType = "node_added"
    EventNodeUpdated      EventType = "node_updated"
    EventNodeRemoved      EventType = "node_removed"
    // EventNodeUnreachable is emitted when none of a node's endpoints could be
    // dialed during a refresh. The refresh is retried on the next cycle.
    EventNodeUnreachable EventType = "node_unreachable"
)

// Event describes a topology change observed by a tend cycle. Only relevant
// fields for an event type are populated.
type Event struct {
    Type      EventType
    At        time.Time
    ClusterID transport.ClusterID
    NodeID    transport.NodeID
    Endpoints []transport.Endpoint
    Target    string
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) so that tending never blocks on it.
func (p *ChannelProvider) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    p.eb.add(ch)
    go func() {
        <-ctx.Done()
        p.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil {
        e.subs = make(map[chan Event]struct{})
    }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    delete(e.subs, ch)
    e.mu.Unlock()
}

func (e *eventBus) publish(evs ...Event) {
    e.mu.Lock()
    defer e.mu.Unlock()
    for _, ev := range evs {
        for ch := range e.subs {
            select {
            case ch <- ev:
            default:
                // drop if receiver is slow
            }
        }
    }
}
