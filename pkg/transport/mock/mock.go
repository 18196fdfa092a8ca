// Package mock provides an in-process transport.Port with no CAN or
// ISO-TP plumbing: a bounded queue of pending messages held by a Bus, each
// with a scheduled-delivery timestamp, shared by every mock Port created on
// that Bus (spec.md §5 "Shared resources").
package mock

import (
	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/uds"
)

const queueCapacity = 64

type pendingMessage struct {
	buf         []byte
	n           int
	sdu         transport.SDU
	deliverAtMs uint32
	from        uint32
}

// Bus is the shared queue backing a set of mock Ports. Tests create one
// Bus per simulated CAN segment.
type Bus struct {
	latencyMs uint32
	queue     []pendingMessage
}

// NewBus creates a mock bus with a fixed one-way delivery latency.
func NewBus(latencyMs uint32) *Bus {
	return &Bus{latencyMs: latencyMs}
}

// Port is a transport.Port backed by a Bus. Two Ports sharing a Bus and
// addressed to each other's ID form a point-to-point link.
type Port struct {
	bus       *Bus
	id        uint32
	sendBuf   []byte
	busy      bool
	busyUntil uint32
	lastNowMs uint32

	peeked    *pendingMessage
	hasPeeked bool
}

// NewPort creates a mock port identified by id on bus.
func NewPort(bus *Bus, id uint32, bufSize int) *Port {
	return &Port{bus: bus, id: id, sendBuf: make([]byte, bufSize)}
}

func (p *Port) Poll(nowMs uint32) (transport.Status, error) {
	p.lastNowMs = nowMs
	if p.busy && !clockAfter(nowMs, p.busyUntil) {
		return transport.StatusSendInProgress, nil
	}
	p.busy = false

	if !p.hasPeeked {
		for i, m := range p.bus.queue {
			if m.sdu.Target != p.id {
				continue
			}
			if !clockAfter(nowMs, m.deliverAtMs) {
				continue
			}
			msg := m
			p.bus.queue = append(p.bus.queue[:i], p.bus.queue[i+1:]...)
			p.peeked = &msg
			p.hasPeeked = true
			break
		}
	}
	return transport.StatusIdle, nil
}

func (p *Port) Send(buf []byte, n int, sdu transport.SDU) (int, error) {
	if p.busy {
		return 0, transport.ErrInProgress
	}
	if n > len(p.sendBuf) {
		return 0, transport.ErrOverflow
	}
	if sdu.TAType == transport.Functional && n > 7 {
		return 0, transport.ErrOverflow
	}
	if len(p.bus.queue) >= queueCapacity {
		return 0, uds.NewErr(uds.ErrBufSiz)
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	sdu.Source = p.id

	deliverAt := p.lastNowMs + p.bus.latencyMs

	p.busy = true
	p.busyUntil = deliverAt

	p.bus.queue = append(p.bus.queue, pendingMessage{
		buf:         data,
		n:           n,
		sdu:         sdu,
		deliverAtMs: deliverAt,
		from:        p.id,
	})
	return n, nil
}

func (p *Port) Peek() ([]byte, int, transport.SDU, error) {
	if !p.hasPeeked {
		return nil, 0, transport.SDU{}, nil
	}
	return p.peeked.buf, p.peeked.n, p.peeked.sdu, nil
}

func (p *Port) AckRecv() {
	p.peeked = nil
	p.hasPeeked = false
}

func (p *Port) GetSendBuf() ([]byte, error) {
	if p.busy {
		return nil, transport.ErrInProgress
	}
	return p.sendBuf, nil
}

func clockAfter(a, b uint32) bool {
	return int32(a-b) >= 0
}

var _ transport.Port = (*Port)(nil)
