package udsclient

import (
	"encoding/binary"

	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/uds"
)

// processResponse validates an incoming response against spec.md §4.2's
// rules and, on success, dispatches to the per-service decoder before
// returning the client to IDLE (or AWAIT_RESPONSE on RCRRP).
func (c *Client) processResponse(now uint32, resp []byte) {
	c.state = StateProcessResponse

	if len(resp) < 1 {
		c.port.AckRecv()
		c.fail(uds.ErrRespTooShort)
		return
	}

	if resp[0] == uds.NegativeResponseSID {
		c.handleNegative(now, resp)
		return
	}

	if resp[0] != c.reqSID.PositiveResponse() {
		c.port.AckRecv()
		c.fail(uds.ErrSIDMismatch)
		return
	}

	if c.reqSID == uds.SIDECUReset {
		if len(resp) < 2 || resp[1] != c.reqSubByte {
			c.port.AckRecv()
			c.fail(uds.ErrSubFunctionMismatch)
			return
		}
	}

	if c.reqSID == uds.SIDDiagnosticSessionControl && c.optionsCopy&OptIgnoreSrvTimings == 0 {
		if len(resp) >= 6 {
			c.p2Ms = uint32(binary.BigEndian.Uint16(resp[2:4]))
			c.p2StarMs = uint32(binary.BigEndian.Uint16(resp[4:6])) * 10
		}
	}

	if c.reqSID == uds.SIDReadDataByIdentifier && c.decodeDID != nil {
		if err := c.unpackRDBI(resp); err != nil {
			c.port.AckRecv()
			c.state = StateIdle
			c.lastErr = err
			c.emit(Event{Kind: uds.EventErr, SID: c.reqSID, Err: err})
			return
		}
	}

	c.port.AckRecv()
	c.state = StateIdle
	c.emit(Event{Kind: uds.EventResponseReceived, SID: c.reqSID, Data: resp})
}

func (c *Client) handleNegative(now uint32, resp []byte) {
	if len(resp) < 2 {
		c.port.AckRecv()
		c.fail(uds.ErrRespTooShort)
		return
	}
	if resp[1] != uint8(c.reqSID) {
		c.port.AckRecv()
		c.fail(uds.ErrSIDMismatch)
		return
	}
	if len(resp) < 3 {
		c.port.AckRecv()
		c.fail(uds.ErrRespTooShort)
		return
	}
	nrc := uds.NRC(resp[2])

	if nrc.IsResponsePending() {
		c.p2Deadline = clock.Add(now, c.p2StarMs)
		c.port.AckRecv()
		c.state = StateAwaitResponse
		return
	}

	c.port.AckRecv()
	c.state = StateIdle
	c.lastErr = nrc
	c.emit(Event{Kind: uds.EventErr, SID: c.reqSID, Err: nrc})
}

// unpackRDBI walks a positive RDBI response starting at offset 1 (after
// the echoed SID), expecting DID_hi DID_lo value[len]... tuples in
// request order; decodeDID reports how many value bytes it consumed so
// the walk can continue to the next DID (spec.md §4.2).
func (c *Client) unpackRDBI(resp []byte) error {
	off := 1
	for _, did := range c.reqDIDs {
		if off+2 > len(resp) {
			return uds.NewErr(uds.ErrRespTooShort)
		}
		gotDID := uint16(resp[off])<<8 | uint16(resp[off+1])
		if gotDID != did {
			return uds.NewErr(uds.ErrDIDMismatch)
		}
		off += 2

		n, err := c.decodeDID(did, resp[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}
