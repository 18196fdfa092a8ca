package isotp

import (
	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/can"
	"github.com/diagstack/govuds/pkg/transport"
)

// Handle implements can.FrameListener. It is the receive-path entry point
// of spec.md §4.1: dispatch on the PCI nibble, reassembling FF+CF runs
// into recvBuf and emitting Flow Control frames as needed.
func (l *Link) Handle(frame can.Frame) {
	if frame.ID != l.rxID && frame.ID != l.rxFunctionalID {
		return
	}
	if frame.DLC == 0 {
		return
	}
	functional := l.hasFunctional && frame.ID == l.rxFunctionalID

	data := frame.Data[:frame.DLC]
	pci := PCI(data[0] >> 4)

	switch pci {
	case PCISingleFrame:
		l.handleSF(data, functional)
	case PCIFirstFrame:
		l.handleFF(data, functional)
	case PCIConsecutive:
		l.handleCF(data)
	case PCIFlowControl:
		l.handleFlowControl(data)
	}
}

func (l *Link) handleSF(data []byte, functional bool) {
	n := int(data[0] & 0x0F)
	if n == 0 || n > MaxSFPayload || n > len(data)-1 {
		return
	}
	if functional && l.recvState == RecvInProgress {
		// Functional requests never interrupt an in-progress physical
		// reassembly (spec.md §4.1).
		return
	}
	if l.recvState == RecvInProgress {
		l.lastRecvResult = ResultUnexpectedPDU
	}
	l.recvBuf.Reset()
	l.recvBuf.Write(data[1 : 1+n])
	l.recvSize = n
	l.recvState = RecvFull
	if functional {
		l.recvTAType = transport.Functional
	} else {
		l.recvTAType = transport.Physical
	}
}

func (l *Link) handleFF(data []byte, functional bool) {
	if functional {
		// Functional addressing is constrained to single-frame payloads.
		return
	}
	if len(data) < 8 {
		return
	}
	dl := int(data[0]&0x0F)<<8 | int(data[1])
	if dl < 8 {
		return
	}
	if dl > l.recvBuf.Cap()-1 {
		l.sendFlowControl(FlowOverflow)
		l.lastRecvResult = ResultOverflow
		return
	}
	if l.recvState == RecvInProgress {
		l.lastRecvResult = ResultUnexpectedPDU
	}

	l.recvBuf.Reset()
	l.recvBuf.Write(data[2:8])
	l.recvSize = dl
	l.expectedSN = 1
	l.bsCount = 0
	l.recvState = RecvInProgress
	l.recvTAType = transport.Physical
	l.crTimeoutMs = clock.Add(clock.Millis(), l.cfg.DefaultResponseTimeoutMs)
	l.sendFlowControl(FlowContinue)
}

func (l *Link) handleCF(data []byte) {
	if l.recvState != RecvInProgress {
		l.lastRecvResult = ResultUnexpectedPDU
		return
	}
	sn := data[0] & 0x0F
	if sn != l.expectedSN {
		l.lastRecvResult = ResultWrongSN
		l.recvState = RecvIdle
		return
	}

	remain := l.recvSize - l.recvBuf.GetOccupied()
	n := len(data) - 1
	if n > remain {
		n = remain
	}
	l.recvBuf.Write(data[1 : 1+n])
	l.expectedSN = (l.expectedSN + 1) & 0x0F

	if l.recvBuf.GetOccupied() >= l.recvSize {
		l.recvState = RecvFull
		return
	}

	l.crTimeoutMs = clock.Add(clock.Millis(), l.cfg.DefaultResponseTimeoutMs)
	if l.cfg.BlockSize != 0 {
		l.bsCount++
		if l.bsCount >= l.cfg.BlockSize {
			l.bsCount = 0
			l.sendFlowControl(FlowContinue)
		}
	}
}

func (l *Link) sendFlowControl(fs FlowStatus) {
	fc := make([]byte, 3)
	fc[0] = byte(PCIFlowControl)<<4 | byte(fs)
	fc[1] = l.cfg.BlockSize
	fc[2] = encodeSTmin(l.cfg.STminUs)
	_ = l.sendFrame(fc)
}

// pollRecv advances the receive-path's N_Cr timeout.
func (l *Link) pollRecv(now uint32) {
	if l.recvState != RecvInProgress {
		return
	}
	if clock.After(now, l.crTimeoutMs) {
		l.recvState = RecvIdle
		l.lastRecvResult = ResultTimeoutCR
	}
}

// Received reports whether a full message is waiting in recvBuf, and
// returns it. Calling this clears the slot back to Idle.
func (l *Link) Received() (buf []byte, ta transport.AddressType, ok bool) {
	if l.recvState != RecvFull {
		return nil, transport.Physical, false
	}
	out := make([]byte, l.recvBuf.GetOccupied())
	l.recvBuf.Read(out)
	l.recvState = RecvIdle
	return out, l.recvTAType, true
}
