package gam

import (
	"net"
	"testing"

	"github.com/alpha-unito/gam/internal/bootstrap"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return port
}

func singleRankConfig(t *testing.T) bootstrap.Config {
	t.Helper()
	return bootstrap.Config{
		Rank:        0,
		Cardinality: 1,
		Nodes: []bootstrap.Node{
			{Host: "127.0.0.1", SvcPap: freePort(t), SvcMem: freePort(t), SvcDmn: freePort(t)},
		},
	}
}

type widget struct {
	Name  string
	Count int
}

func TestMmapPublicLocalRoundTrip(t *testing.T) {
	ctx, err := New(singleRankConfig(t))
	require.NoError(t, err)
	defer ctx.Shutdown()

	p := MmapPublic(ctx, widget{Name: "a", Count: 1}, nil)
	require.True(t, p.IsAddress())
	require.True(t, ctx.IsPublic(p))
	require.True(t, ctx.AmAuthor(p))

	local, err := LocalPublic[widget](ctx, p)
	require.NoError(t, err)
	require.Equal(t, widget{Name: "a", Count: 1}, local.Value())

	require.NoError(t, ctx.Unmap(p))
	require.False(t, ctx.IsPublic(p))
}

func TestMmapPrivateLocalWithdraw(t *testing.T) {
	ctx, err := New(singleRankConfig(t))
	require.NoError(t, err)
	defer ctx.Shutdown()

	p := MmapPrivate(ctx, widget{Name: "b", Count: 2}, nil)
	require.True(t, ctx.AmOwner(p))

	child, err := LocalPrivate[widget](ctx, p)
	require.NoError(t, err)
	require.Equal(t, widget{Name: "b", Count: 2}, *child.Get())

	child.Get().Count = 99
	back, err := child.IntoPrivatePtr()
	require.NoError(t, err)
	require.False(t, back.IsNull())

	child2, err := LocalPrivate[widget](ctx, back.Pointer())
	require.NoError(t, err)
	require.Equal(t, 99, child2.Get().Count)
	require.NoError(t, child2.Close())
}

func TestPublishConvertsPrivateToPublic(t *testing.T) {
	ctx, err := New(singleRankConfig(t))
	require.NoError(t, err)
	defer ctx.Shutdown()

	p := NewPrivate(ctx, widget{Name: "c", Count: 3}, nil)
	pub, err := p.Publish()
	require.NoError(t, err)
	require.True(t, p.IsNull())
	require.True(t, ctx.IsPublic(pub.Pointer()))

	local, err := pub.Local()
	require.NoError(t, err)
	require.Equal(t, widget{Name: "c", Count: 3}, local.Value())
}

func TestRCLifecycleSingleRank(t *testing.T) {
	ctx, err := New(singleRankConfig(t))
	require.NoError(t, err)
	defer ctx.Shutdown()

	p := NewPublic(ctx, widget{Name: "d"}, nil)
	count, err := p.UseCount()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	ctx.RCInc(p.Pointer())
	count, err = p.UseCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	pointer := p.Pointer()
	p.Reset()
	require.True(t, p.IsNull())
	count, err = ctx.RCGet(pointer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count, "Reset decrements but does not destroy the object")
}
