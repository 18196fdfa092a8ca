package transport

import "github.com/diagstack/govuds/pkg/uds"

// Status is the bitmask returned by Poll.
type Status uint8

const (
	StatusIdle           Status = 0
	StatusSendInProgress Status = 1 << 0
	StatusErr            Status = 1 << 1
)

// Port is the transport port contract of spec.md §6: five operations an
// implementer must provide. None of them block; Peek returns 0 when
// nothing is ready and Send hands off to the lower layer immediately.
type Port interface {
	// Poll advances engine timers and I/O.
	Poll(nowMs uint32) (Status, error)

	// Send enqueues buf[:n] for transmission under sdu's addressing.
	// Returns bytes accepted, or a negative count is never used: errors
	// are returned instead. For Functional TA-type, rejects n > 7.
	Send(buf []byte, n int, sdu SDU) (int, error)

	// Peek performs a non-destructive lookahead at the next received SDU.
	// Returns 0, zero-SDU, nil when nothing is pending.
	Peek() (buf []byte, n int, sdu SDU, err error)

	// AckRecv releases the current peeked SDU, freeing the receive slot.
	AckRecv()

	// GetSendBuf borrows the outgoing buffer to be filled before Send.
	GetSendBuf() ([]byte, error)
}

// ErrOverflow is returned by Send when n exceeds the port's buffer size,
// or by Send on a Functional SDU when n > 7.
var ErrOverflow = uds.NewErr(uds.ErrBufSiz)

// ErrInProgress is returned by Send when a prior send on the same link has
// not finished.
var ErrInProgress = uds.NewErr(uds.ErrBusy)
