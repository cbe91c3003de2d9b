package memberlist

import (
    "context"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    base "github.com/amirimatin/go-chanpool/pkg/membership"
)

func TestNewValidates(t *testing.T) {
    _, err := New(Options{Bind: "127.0.0.1:0"})
    assert.Error(t, err)
    _, err = New(Options{NodeID: "n1"})
    assert.Error(t, err)
}

func TestStartRejectsOversizedMeta(t *testing.T) {
    m, err := New(Options{NodeID: "big", Bind: "127.0.0.1:0", Meta: map[string]string{"x": strings.Repeat("a", 600)}})
    require.NoError(t, err)
    err = m.Start(context.Background())
    require.Error(t, err)
    assert.Contains(t, err.Error(), "limit")
    require.NoError(t, m.Stop())
}

func TestMemberlist_StartLocal(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    m, _ := startNode(t, ctx, "t1", map[string]string{"k": "v"})
    defer m.Stop()

    local := m.Local()
    assert.Equal(t, "t1", local.ID)
    assert.Equal(t, "v", local.Meta["k"])
    assert.GreaterOrEqual(t, m.HealthScore(), 0)

    require.NoError(t, m.Stop())
    require.NoError(t, m.Stop())
    assert.Equal(t, -1, m.HealthScore())
    for range m.Events() {
    }
}

func TestMemberlist_MultiNodeJoinLeave(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    n1, addr1 := startNode(t, ctx, "n1", nil)
    defer n1.Stop()

    n2, _ := startNode(t, ctx, "n2", map[string]string{"role": "b"})
    defer n2.Stop()
    require.NoError(t, n2.Join([]string{addr1}))

    n3, _ := startNode(t, ctx, "n3", nil)
    defer n3.Stop()
    require.NoError(t, n3.Join([]string{addr1}))

    awaitMembers(t, n1, 3)
    awaitMembers(t, n2, 3)
    awaitMembers(t, n3, 3)

    for _, mi := range n1.Members() {
        if mi.ID == "n2" {
            assert.Equal(t, "b", mi.Meta["role"])
        }
    }
    assertEvent(t, n1.Events(), base.EventJoin, "n2")

    _ = n2.Leave()
    _ = n2.Stop()

    awaitMembers(t, n1, 2)
    awaitMembers(t, n3, 2)
    assertEvent(t, n1.Events(), base.EventLeave, "n2")
}

func startNode(t *testing.T, ctx context.Context, id string, meta map[string]string) (*impl, string) {
    t.Helper()
    m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Meta: meta, ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
    require.NoError(t, err)
    require.NoError(t, m.Start(ctx))
    la := m.Local().Addr
    require.NotEmpty(t, la)
    return m.(*impl), la
}

func awaitMembers(t *testing.T, m base.Membership, want int) {
    t.Helper()
    require.Eventually(t, func() bool {
        return len(m.Members()) == want
    }, 5*time.Second, 100*time.Millisecond, "waiting for %d members", want)
}

func assertEvent(t *testing.T, events <-chan base.Event, typ base.EventType, member string) {
    t.Helper()
    timeout := time.After(5 * time.Second)
    for {
        select {
        case ev := <-events:
            if ev.Type == typ && ev.Member.ID == member {
                return
            }
        case <-timeout:
            t.Fatalf("no %s event for %s", typ, member)
        }
    }
}
