package links

import (
	"testing"
	"time"

	"github.com/alpha-unito/gam/internal/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func mustLinks(t *testing.T, self uint32) *Links[wire.DaemonMessage] {
	t.Helper()
	l := New[wire.DaemonMessage](self, logrus.NewEntry(logrus.New()))
	require.NoError(t, l.Init("127.0.0.1:0"))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func addrOf(t *testing.T, l *Links[wire.DaemonMessage]) string {
	t.Helper()
	return l.Addr()
}

func TestSendRecvDirected(t *testing.T) {
	a := mustLinks(t, 0)
	b := mustLinks(t, 1)

	require.NoError(t, a.Peer(1, addrOf(t, b)))
	require.NoError(t, b.Peer(0, addrOf(t, a)))

	msg := wire.DaemonMessage{Op: wire.OpRCInc, Pointer: wire.NewAddress(1, 0), From: 0}
	require.NoError(t, a.Send(1, msg))

	got := b.Recv(0)
	require.Equal(t, msg, got)
}

func TestRecvAnyAndStash(t *testing.T) {
	a := mustLinks(t, 0)
	b := mustLinks(t, 1)
	c := mustLinks(t, 2)

	require.NoError(t, a.Peer(1, addrOf(t, b)))
	require.NoError(t, a.Peer(2, addrOf(t, c)))
	require.NoError(t, b.Peer(0, addrOf(t, a)))
	require.NoError(t, c.Peer(0, addrOf(t, a)))

	m1 := wire.DaemonMessage{Op: wire.OpRCGet, From: 1}
	m2 := wire.DaemonMessage{Op: wire.OpRCGet, From: 2}
	require.NoError(t, b.Send(0, m1))
	require.NoError(t, c.Send(0, m2))

	seen := map[uint32]wire.DaemonMessage{}
	for i := 0; i < 2; i++ {
		msg, from := a.RecvAny()
		seen[from] = msg
	}
	require.Equal(t, m1, seen[1])
	require.Equal(t, m2, seen[2])
}

func TestRawSendRecv(t *testing.T) {
	a := mustLinks(t, 0)
	b := mustLinks(t, 1)

	require.NoError(t, a.Peer(1, addrOf(t, b)))
	require.NoError(t, b.Peer(0, addrOf(t, a)))

	payload := []byte("marshalled-region")
	require.NoError(t, a.RawSend(1, payload))

	got := b.RawRecv(0)
	require.Equal(t, payload, got)
}

func TestNBPollNonBlocking(t *testing.T) {
	a := mustLinks(t, 0)
	b := mustLinks(t, 1)
	require.NoError(t, a.Peer(1, addrOf(t, b)))
	require.NoError(t, b.Peer(0, addrOf(t, a)))

	_, _, ok := b.NBPoll()
	require.False(t, ok)

	require.NoError(t, a.Send(1, wire.DaemonMessage{Op: wire.OpDMNEnd, From: 0}))

	require.Eventually(t, func() bool {
		_, _, ok := b.NBPoll()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	a := mustLinks(t, 0)
	b := mustLinks(t, 1)
	c := mustLinks(t, 2)

	require.NoError(t, a.Peer(1, addrOf(t, b)))
	require.NoError(t, a.Peer(2, addrOf(t, c)))
	require.NoError(t, b.Peer(0, addrOf(t, a)))
	require.NoError(t, c.Peer(0, addrOf(t, a)))

	require.NoError(t, a.Broadcast(wire.DaemonMessage{Op: wire.OpDMNEnd, From: 0}))

	m1 := b.Recv(0)
	require.Equal(t, wire.OpDMNEnd, m1.Op)
	m2 := c.Recv(0)
	require.Equal(t, wire.OpDMNEnd, m2.Op)
}
