// Package udsclient implements the UDS tester-side session state machine
// of spec.md §4.2: per-service request builders, response validation,
// RCRRP keep-alive handling and P2/P2* timing, driven by a non-blocking
// Poll() in the style of the legacy tick-driven CANopen SDO client this
// module grew out of.
package udsclient

import (
	log "github.com/sirupsen/logrus"

	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/uds"
)

// State is the client's request state machine (spec.md §4.2).
type State uint8

const (
	StateIdle State = iota
	StateSending
	StateAwaitSendComplete
	StateAwaitResponse
	StateProcessResponse
)

// Option is a per-request flag, snapshotted into optionsCopy at send-start.
type Option uint8

const (
	OptSuppressPosResp Option = 1 << 0
	OptFunctional      Option = 1 << 1
	OptIgnoreSrvTimings Option = 1 << 2
)

// Event is the payload of a client event notification; Kind selects which
// fields are meaningful (spec.md §9 "variant/enum of event messages").
type Event struct {
	Kind uds.EventKind
	SID  uds.SID
	Data []byte
	Err  error
}

// EventHandler receives client lifecycle notifications.
type EventHandler func(Event)

const defaultP2Ms = 50
const defaultP2StarMs = 5000

// Client is the UDS tester session bound to one transport.Port.
type Client struct {
	port   transport.Port
	logger *log.Entry
	handler EventHandler

	state State

	sendBuf []byte
	sendLen int

	p2Ms       uint32
	p2StarMs   uint32
	p2Deadline uint32

	options     Option
	optionsCopy Option

	target      uint32
	entityTag   uint32
	reqSID      uds.SID
	reqSubByte  uint8
	reqDIDs     []uint16
	decodeDID   func(did uint16, value []byte) (int, error)

	lastErr error
}

// New binds a client to port. target is the server's physical address
// used to populate outbound SDUs.
func New(port transport.Port, target uint32) *Client {
	return &Client{
		port:     port,
		logger:   log.WithField("component", "udsclient"),
		state:    StateIdle,
		p2Ms:     defaultP2Ms,
		p2StarMs: defaultP2StarMs,
		target:   target,
	}
}

// SetEventHandler installs the application callback.
func (c *Client) SetEventHandler(h EventHandler) { c.handler = h }

// SetOptions replaces the persistent option flags applied to future sends.
func (c *Client) SetOptions(opt Option) { c.options = opt }

// State reports the current request state.
func (c *Client) State() State { return c.state }

// Busy reports whether a request is in flight.
func (c *Client) Busy() bool { return c.state != StateIdle }

func (c *Client) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *Client) fail(code uds.Code) error {
	err := uds.NewErr(code)
	c.lastErr = err
	c.state = StateIdle
	c.emit(Event{Kind: uds.EventErr, SID: c.reqSID, Err: err})
	return err
}

// start reserves the send buffer, writes payload[:n] into it and kicks
// off the SENDING state. subFuncIdx, if >= 0, is the byte index carrying
// the sub-function the suppress bit is OR-ed into.
func (c *Client) start(sid uds.SID, payload []byte, subFuncIdx int) error {
	if c.state != StateIdle {
		return uds.NewErr(uds.ErrBusy)
	}

	buf, err := c.port.GetSendBuf()
	if err != nil {
		return err
	}
	if len(payload) > len(buf) {
		return uds.NewErr(uds.ErrBufSiz)
	}
	copy(buf, payload)

	c.optionsCopy = c.options
	if c.optionsCopy&OptSuppressPosResp != 0 && subFuncIdx >= 0 && subFuncIdx < len(payload) {
		buf[subFuncIdx] |= uds.SuppressPosRspMsgIndicationBit
	}

	ta := transport.Physical
	if c.optionsCopy&OptFunctional != 0 {
		ta = transport.Functional
	}

	c.reqSID = sid
	c.sendLen = len(payload)
	c.state = StateSending

	sdu := transport.SDU{
		MessageType: transport.Diagnostic,
		TAType:      ta,
		Target:      c.target,
		EntityTag:   c.entityTag,
	}
	n, err := c.port.Send(buf[:len(payload)], len(payload), sdu)
	if err != nil {
		c.state = StateIdle
		c.lastErr = err
		c.emit(Event{Kind: uds.EventErr, SID: sid, Err: err})
		return err
	}
	c.sendLen = n
	c.state = StateAwaitSendComplete
	return nil
}

// Poll advances the client's state machine by one tick. now is the
// current monotonic millisecond clock.
func (c *Client) Poll(now uint32) {
	status, err := c.port.Poll(now)
	if err != nil {
		c.fail(uds.ErrTransport)
		return
	}

	switch c.state {
	case StateIdle:
		c.emit(Event{Kind: uds.EventPoll})
		return

	case StateAwaitSendComplete:
		if status&transport.StatusSendInProgress != 0 {
			return
		}
		if c.optionsCopy&(OptSuppressPosResp|OptFunctional) != 0 {
			c.state = StateIdle
			c.emit(Event{Kind: uds.EventSendComplete, SID: c.reqSID})
			return
		}
		c.p2Deadline = clock.Add(now, c.p2Ms)
		c.state = StateAwaitResponse
		c.emit(Event{Kind: uds.EventSendComplete, SID: c.reqSID})

	case StateAwaitResponse:
		buf, n, sdu, perr := c.port.Peek()
		if perr != nil {
			c.fail(uds.ErrTransport)
			return
		}
		if n == 0 {
			if clock.After(now, c.p2Deadline) {
				c.fail(uds.ErrTimeout)
			}
			return
		}
		if sdu.TAType == transport.Functional {
			// Responses to functional requests are unreliable; drop.
			c.port.AckRecv()
			return
		}
		c.processResponse(now, buf[:n])
	}

	c.emit(Event{Kind: uds.EventPoll})
}
