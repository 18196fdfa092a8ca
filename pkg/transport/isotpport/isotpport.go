// Package isotpport binds the abstract transport.Port contract to an
// isotp.Link over a can.Bus, completing the data path of spec.md §3:
// UDS client/server -> transport port -> ISO-TP engine -> CAN wire.
package isotpport

import (
	"github.com/diagstack/govuds/pkg/can"
	"github.com/diagstack/govuds/pkg/isotp"
	"github.com/diagstack/govuds/pkg/transport"
)

// Port implements transport.Port over a single isotp.Link. It carries
// exactly one outstanding send and one outstanding peeked receive at a
// time, matching the Link it wraps.
type Port struct {
	link      *isotp.Link
	sendBuf   []byte
	source    uint32
	target    uint32
	entityTag uint32

	peeked    []byte
	peekedTA  transport.AddressType
	hasPeeked bool
}

// New wires a Port to bus, sending under txID and receiving on rxID (and
// optionally an additional functional rxFunctionalID, 0 to disable).
func New(bus can.Bus, txID, rxID, rxFunctionalID uint32, cfg isotp.Config) *Port {
	link := isotp.NewLink(bus, txID, rxID, rxFunctionalID, cfg)
	return &Port{
		link:    link,
		sendBuf: make([]byte, cfg.MTU),
		source:  txID,
		target:  rxID,
	}
}

// Link exposes the underlying engine, mainly so callers can subscribe it
// to a can.Bus as a can.FrameListener.
func (p *Port) Link() *isotp.Link { return p.link }

func (p *Port) Poll(nowMs uint32) (transport.Status, error) {
	p.link.Poll(nowMs)

	status := transport.StatusIdle
	if p.link.Busy() {
		status |= transport.StatusSendInProgress
	}
	if r := p.link.SendResult(); r != isotp.ResultOK {
		status |= transport.StatusErr
		return status, r
	}

	if !p.hasPeeked {
		if buf, ta, ok := p.link.Received(); ok {
			p.peeked = buf
			p.peekedTA = ta
			p.hasPeeked = true
		}
	}
	if r := p.link.RecvResult(); r != isotp.ResultOK {
		status |= transport.StatusErr
		return status, r
	}

	return status, nil
}

func (p *Port) Send(buf []byte, n int, sdu transport.SDU) (int, error) {
	if p.link.Busy() {
		return 0, transport.ErrInProgress
	}
	if n > len(p.sendBuf) {
		return 0, transport.ErrOverflow
	}
	if sdu.TAType == transport.Functional && n > isotp.MaxSFPayload {
		return 0, transport.ErrOverflow
	}
	p.entityTag = sdu.EntityTag
	if err := p.link.Send(buf, n, sdu.TAType); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Port) Peek() ([]byte, int, transport.SDU, error) {
	if !p.hasPeeked {
		return nil, 0, transport.SDU{}, nil
	}
	sdu := transport.SDU{
		MessageType: transport.Diagnostic,
		TAType:      p.peekedTA,
		Source:      p.target,
		Target:      p.source,
		EntityTag:   p.entityTag,
	}
	return p.peeked, len(p.peeked), sdu, nil
}

func (p *Port) AckRecv() {
	p.peeked = nil
	p.hasPeeked = false
}

func (p *Port) GetSendBuf() ([]byte, error) {
	if p.link.Busy() {
		return nil, transport.ErrInProgress
	}
	return p.sendBuf, nil
}

var _ transport.Port = (*Port)(nil)
