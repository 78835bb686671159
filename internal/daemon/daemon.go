// Package daemon implements the per-executor server loop that
// answers remote coherence requests (RC_INC, RC_DEC, RC_GET,
// PVT_RESET, RLOAD) and the cooperative shutdown protocol (DMN_END).
// It depends only on internal/links and internal/wire so pkg/gam can
// implement Handler without an import cycle.
package daemon

import (
	"github.com/alpha-unito/gam/internal/links"
	"github.com/alpha-unito/gam/internal/wire"
	"github.com/sirupsen/logrus"
)

// Handler is the coherence logic the daemon dispatches into; pkg/gam's
// Context implements it against its View and MemoryController.
type Handler interface {
	RCInc(addr uint64, from uint32)
	RCDec(addr uint64, from uint32)
	RCGet(addr uint64, from uint32) uint64
	PrivateReset(addr uint64, from uint32)
	// RLoad returns the marshalled regions of the object at addr, to
	// be streamed back to from over the remote channel.
	RLoad(addr uint64, from uint32) ([][]byte, error)
}

// Daemon serves requests on the remote channel and answers them over
// the same channel's outbound connection to the requester, draining
// cooperatively once every peer has broadcast DMN_END.
type Daemon struct {
	self   uint32
	remote *links.Links[wire.DaemonMessage]
	local  *links.Links[wire.DaemonMessage]
	handler Handler
	log    *logrus.Entry
}

// New builds a Daemon for rank self, serving requests on remote and
// broadcasting termination on local.
func New(self uint32, remote, local *links.Links[wire.DaemonMessage], handler Handler, log *logrus.Entry) *Daemon {
	return &Daemon{self: self, remote: remote, local: local, handler: handler, log: log}
}

// Run serves requests until stop is closed, then broadcasts DMN_END
// on the local channel and keeps draining the remote channel until
// every one of the other peerCount peers has echoed its own DMN_END.
// A DMN_END that arrives before stop is closed counts toward that total.
func (d *Daemon) Run(stop <-chan struct{}, peerCount int) {
	ended := 0
	for {
		select {
		case <-stop:
			d.drain(peerCount - ended)
			return
		default:
		}
		msg, from, ok := d.remote.NBPoll()
		if !ok {
			continue
		}
		if msg.Op == wire.OpDMNEnd {
			ended++
			continue
		}
		d.dispatch(msg, from)
	}
}

func (d *Daemon) drain(peerCount int) {
	if err := d.local.Broadcast(wire.DaemonMessage{Op: wire.OpDMNEnd, From: d.self}); err != nil {
		d.log.WithError(err).Warn("daemon: broadcasting termination")
	}
	cnt := peerCount
	for cnt > 0 {
		msg, from, ok := d.remote.NBPoll()
		if !ok {
			continue
		}
		if msg.Op == wire.OpDMNEnd {
			cnt--
			continue
		}
		d.dispatch(msg, from)
	}
}

func (d *Daemon) dispatch(msg wire.DaemonMessage, from uint32) {
	addr := msg.Pointer.Address()
	switch msg.Op {
	case wire.OpRCInc:
		d.handler.RCInc(addr, from)
	case wire.OpRCDec:
		d.handler.RCDec(addr, from)
	case wire.OpRCGet:
		v := d.handler.RCGet(addr, from)
		if err := d.remote.RawSend(from, encodeUint64(v)); err != nil {
			d.log.WithError(err).Warn("daemon: replying to RC_GET")
		}
	case wire.OpPVTReset:
		d.handler.PrivateReset(addr, from)
	case wire.OpRLoad:
		regions, err := d.handler.RLoad(addr, from)
		if err != nil {
			d.log.WithError(err).WithField("addr", msg.Pointer).Warn("daemon: serving RLOAD")
			return
		}
		for _, r := range regions {
			if err := d.remote.RawSend(from, r); err != nil {
				d.log.WithError(err).Warn("daemon: streaming RLOAD region")
				return
			}
		}
	case wire.OpDMNEnd:
		// Not reached: Run and drain count DMN_END themselves before
		// dispatching.
	default:
		d.log.WithField("op", msg.Op).Warn("daemon: unknown opcode")
	}
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b
}

// DecodeUint64 decodes the raw reply payload RCGet requests receive.
func DecodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
