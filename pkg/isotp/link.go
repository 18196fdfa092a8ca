package isotp

import (
	log "github.com/sirupsen/logrus"

	"github.com/diagstack/govuds/internal/fifo"
	"github.com/diagstack/govuds/pkg/can"
	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/uds"
)

type SendState uint8

const (
	SendIdle SendState = iota
	SendInProgress
	SendError
)

type RecvState uint8

const (
	RecvIdle RecvState = iota
	RecvInProgress
	RecvFull
)

// Result is the last protocol outcome recorded on a link, surfaced to the
// caller alongside a transition back to Idle.
type Result uint8

const (
	ResultOK Result = iota
	ResultUnexpectedPDU
	ResultWrongSN
	ResultTimeoutBS
	ResultTimeoutCR
	ResultOverflow
)

func (r Result) Error() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultUnexpectedPDU:
		return "unexpected PDU"
	case ResultWrongSN:
		return "wrong sequence number"
	case ResultTimeoutBS:
		return "N_Bs timeout"
	case ResultTimeoutCR:
		return "N_Cr timeout"
	case ResultOverflow:
		return "overflow"
	default:
		return "unknown isotp result"
	}
}

// Config tunes the parts of the engine that are a matter of local policy
// rather than protocol (spec.md §4.1 "Timers and policy").
type Config struct {
	// DefaultResponseTimeoutMs is the N_Bs/bs-timeout deadline, nominally
	// 1000ms.
	DefaultResponseTimeoutMs uint32
	// BlockSize is the BS we advertise in our own Flow Control frames; 0
	// means unlimited.
	BlockSize uint8
	// STminUs is the separation time we advertise in our own Flow
	// Control frames, in microseconds.
	STminUs uint32
	// MaxWaitFrames bounds how many FS=Wait flow control frames we
	// tolerate before giving up a send.
	MaxWaitFrames int
	// MTU is the maximum diagnostic message size the link's buffers hold.
	MTU int
}

// DefaultConfig matches the values the teacher's reference scenarios and
// ISO 15765-2's common defaults use.
func DefaultConfig() Config {
	return Config{
		DefaultResponseTimeoutMs: 1000,
		BlockSize:                0,
		STminUs:                  0,
		MaxWaitFrames:            8,
		MTU:                      4095,
	}
}

// Link is a per-direction pair of ISO-TP state machines bound to one
// physical CAN ID pair (and, on the server side, an additional functional
// request ID). It implements can.FrameListener so a can.Bus can push
// received frames into it directly.
type Link struct {
	bus    can.Bus
	logger *log.Entry
	cfg    Config

	txID           uint32
	rxID           uint32
	rxFunctionalID uint32
	hasFunctional  bool

	// send state. sendBuf is a circular fifo.Fifo (adapted from the
	// teacher's SDO block-transfer buffer) holding the bytes not yet
	// consumed into a Consecutive Frame.
	sendState     SendState
	sendBuf       *fifo.Fifo
	sendSize      int
	sendSN        uint8
	bsRemain      int32
	awaitingFC    bool
	stMinUs       uint32
	sepDeadlineMs uint32
	bsTimeoutMs   uint32
	waitFrames    int
	sendTAType    transport.AddressType
	lastSendResult Result

	// receive state. recvBuf accumulates FF+CF payload bytes; recvSize is
	// the total length declared by the First Frame.
	recvState     RecvState
	recvBuf       *fifo.Fifo
	recvSize      int
	expectedSN    uint8
	bsCount       uint8
	crTimeoutMs   uint32
	recvTAType    transport.AddressType
	lastRecvResult Result
}

// NewLink creates a link that sends under txID and accepts incoming
// frames addressed to rxID. rxFunctionalID, if non-zero, is an additional
// functional request ID to accept on (server use).
func NewLink(bus can.Bus, txID, rxID uint32, rxFunctionalID uint32, cfg Config) *Link {
	l := &Link{
		bus:            bus,
		logger:         log.WithField("component", "isotp"),
		cfg:            cfg,
		txID:           txID,
		rxID:           rxID,
		rxFunctionalID: rxFunctionalID,
		hasFunctional:  rxFunctionalID != 0,
		sendBuf:        fifo.NewFifo(cfg.MTU + 1),
		recvBuf:        fifo.NewFifo(cfg.MTU + 1),
		bsRemain:       InvalidBS,
	}
	return l
}

func (l *Link) sendFrame(data []byte) error {
	frame := can.NewFrame(l.txID, 0, uint8(len(data)))
	copy(frame.Data[:], data)
	return l.bus.Send(frame)
}

// Busy reports whether a send is currently in progress.
func (l *Link) Busy() bool {
	return l.sendState == SendInProgress
}

// RecvResult returns and clears the last receive-path protocol result.
func (l *Link) RecvResult() Result {
	r := l.lastRecvResult
	l.lastRecvResult = ResultOK
	return r
}

// SendResult returns and clears the last send-path protocol result.
func (l *Link) SendResult() Result {
	r := l.lastSendResult
	l.lastSendResult = ResultOK
	return r
}

var errOverflow = uds.NewErr(uds.ErrBufSiz)
var errBusy = uds.NewErr(uds.ErrBusy)
