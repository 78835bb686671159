// Package links implements the message-driven transport between
// executors: three independent typed channels per pair of peers
// (capability passing, local request/reply, remote request/reply),
// each delivering messages reliably and in FIFO order between a
// given sender and receiver. Delivery is carried over persistent TCP
// connections.
package links

import (
	"net"
	"sync"
	"time"

	"github.com/alpha-unito/gam/internal/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type envelope[T wire.Message] struct {
	from uint32
	msg  T
}

// Links is one endpoint of a named channel (pap, local or remote),
// fanned out to every peer. T is the typed control message carried
// on this channel; raw byte regions travel alongside it, framed so
// the two are never ambiguous on the wire.
type Links[T wire.Message] struct {
	log  *logrus.Entry
	self uint32

	ln net.Listener

	mu  sync.Mutex
	out map[uint32]net.Conn
	in  map[uint32]net.Conn
	raw map[uint32]*rawQueue

	typedMu sync.Mutex // serializes writers of typed/raw frames per connection
	typed   chan envelope[T]

	stashMu sync.Mutex
	stash   map[uint32][]envelope[T]
}

// New constructs a Links endpoint for rank self, logging under log.
func New[T wire.Message](self uint32, log *logrus.Entry) *Links[T] {
	return &Links[T]{
		log:   log,
		self:  self,
		out:   make(map[uint32]net.Conn),
		in:    make(map[uint32]net.Conn),
		raw:   make(map[uint32]*rawQueue),
		typed: make(chan envelope[T], 256),
		stash: make(map[uint32][]envelope[T]),
	}
}

// Addr returns the address this endpoint is listening on, valid
// after Init returns successfully.
func (l *Links[T]) Addr() string {
	return l.ln.Addr().String()
}

// Init binds the receive side of this channel to addr and starts
// accepting inbound peer connections in the background.
func (l *Links[T]) Init(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "links: listening on %q", addr)
	}
	l.ln = ln
	go l.acceptLoop()
	return nil
}

func (l *Links[T]) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.handleInbound(conn)
	}
}

// handleInbound performs the rank handshake (the peer announces its
// rank as the first 4 bytes) and then demultiplexes frames until the
// connection closes.
func (l *Links[T]) handleInbound(conn net.Conn) {
	hdr := make([]byte, 4)
	if _, err := readFull(conn, hdr); err != nil {
		l.log.WithError(err).Warn("links: handshake failed on inbound connection")
		_ = conn.Close()
		return
	}
	peer := beUint32(hdr)

	l.mu.Lock()
	l.in[peer] = conn
	q, ok := l.raw[peer]
	if !ok {
		q = newRawQueue()
		l.raw[peer] = q
	}
	l.mu.Unlock()

	for {
		ft, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch ft {
		case frameRaw:
			q.push(payload)
		case frameTyped:
			var msg T
			if err := msg.UnmarshalBinary(payload); err != nil {
				l.log.WithError(err).Warn("links: dropping malformed typed frame")
				continue
			}
			l.typed <- envelope[T]{from: peer, msg: msg}
		}
	}
}

// Peer dials out to rank peer's endpoint at addr and announces this
// rank's identity, establishing the persistent outbound connection
// Send/Broadcast/RawSend use. Connections are established once, at
// wiring time, and reused: per-(sender,receiver) FIFO ordering
// depends on requests travelling over the same connection as the
// follow-ups that must be seen after them.
// peerDialAttempts and peerDialBackoff tolerate the ordinary startup
// race between executors: every rank binds its own listeners and then
// dials its peers' in whatever order the process scheduler picks, so
// a peer's listener may not be up yet on the first attempt.
const (
	peerDialAttempts = 50
	peerDialBackoff  = 20 * time.Millisecond
)

func (l *Links[T]) Peer(peer uint32, addr string) error {
	var conn net.Conn
	var err error
	for attempt := 0; attempt < peerDialAttempts; attempt++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(peerDialBackoff)
	}
	if err != nil {
		return errors.Wrapf(err, "links: dialing peer %d at %q", peer, addr)
	}
	hdr := make([]byte, 4)
	beePutUint32(hdr, l.self)
	if _, err := conn.Write(hdr); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "links: announcing rank to peer %d", peer)
	}
	l.mu.Lock()
	l.out[peer] = conn
	l.mu.Unlock()
	return nil
}

func (l *Links[T]) outConn(peer uint32) (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.out[peer]
	if !ok {
		return nil, errors.Errorf("links: no outbound connection to peer %d", peer)
	}
	return c, nil
}

// Send delivers msg to peer over the typed channel.
func (l *Links[T]) Send(peer uint32, msg T) error {
	conn, err := l.outConn(peer)
	if err != nil {
		return err
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "links: encoding typed message")
	}
	l.typedMu.Lock()
	defer l.typedMu.Unlock()
	return writeFrame(conn, frameTyped, b)
}

// Broadcast delivers msg to every known peer, used by the daemon's
// termination protocol.
func (l *Links[T]) Broadcast(msg T) error {
	l.mu.Lock()
	peers := make([]uint32, 0, len(l.out))
	for p := range l.out {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	var firstErr error
	for _, p := range peers {
		if err := l.Send(p, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RawSend writes one raw payload region to peer, used to stream an
// object's marshalled body after a request has already named it.
func (l *Links[T]) RawSend(peer uint32, payload []byte) error {
	conn, err := l.outConn(peer)
	if err != nil {
		return err
	}
	l.typedMu.Lock()
	defer l.typedMu.Unlock()
	return writeFrame(conn, frameRaw, payload)
}

// RawRecv blocks until one raw payload region has arrived from peer.
func (l *Links[T]) RawRecv(peer uint32) []byte {
	l.mu.Lock()
	q, ok := l.raw[peer]
	if !ok {
		q = newRawQueue()
		l.raw[peer] = q
	}
	l.mu.Unlock()
	return q.pop()
}

// Recv blocks until a typed message has arrived from peer,
// respecting anything already stashed while waiting on a different
// sender.
func (l *Links[T]) Recv(peer uint32) T {
	msg, _ := l.recvFilter(int64(peer))
	return msg
}

// RecvAny blocks until a typed message has arrived from any peer and
// reports which one sent it.
func (l *Links[T]) RecvAny() (T, uint32) {
	return l.recvFilter(-1)
}

func (l *Links[T]) recvFilter(want int64) (T, uint32) {
	if env, ok := l.popStash(want); ok {
		return env.msg, env.from
	}
	for {
		env := <-l.typed
		if want < 0 || int64(env.from) == want {
			return env.msg, env.from
		}
		l.stashMu.Lock()
		l.stash[env.from] = append(l.stash[env.from], env)
		l.stashMu.Unlock()
	}
}

func (l *Links[T]) popStash(want int64) (envelope[T], bool) {
	l.stashMu.Lock()
	defer l.stashMu.Unlock()
	if want >= 0 {
		buf := l.stash[uint32(want)]
		if len(buf) == 0 {
			return envelope[T]{}, false
		}
		env := buf[0]
		l.stash[uint32(want)] = buf[1:]
		return env, true
	}
	for from, buf := range l.stash {
		if len(buf) > 0 {
			env := buf[0]
			l.stash[from] = buf[1:]
			return env, true
		}
	}
	return envelope[T]{}, false
}

// NBPoll performs a single non-blocking check for a typed message
// from any peer, the building block for the daemon's polling loop.
func (l *Links[T]) NBPoll() (T, uint32, bool) {
	if env, ok := l.popStash(-1); ok {
		return env.msg, env.from, true
	}
	select {
	case env := <-l.typed:
		return env.msg, env.from, true
	default:
		var zero T
		return zero, 0, false
	}
}

// Close tears down every connection this endpoint owns.
func (l *Links[T]) Close() error {
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.out {
		_ = c.Close()
	}
	for _, c := range l.in {
		_ = c.Close()
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beePutUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
