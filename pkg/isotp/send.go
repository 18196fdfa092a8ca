package isotp

import (
	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/transport"
)

// Send starts transmitting buf[:size] over the link (spec.md §4.1). It
// fails with errBusy if a prior send has not finished, or errOverflow if
// size exceeds the send buffer. Single frames go out immediately; larger
// payloads arm the First Frame + Consecutive Frame state machine driven
// from Poll.
func (l *Link) Send(buf []byte, size int, ta transport.AddressType) error {
	if l.sendState == SendInProgress {
		return errBusy
	}
	if size > l.sendBuf.Cap()-1 || size <= 0 {
		return errOverflow
	}
	if ta == transport.Functional && size > MaxSFPayload {
		return errOverflow
	}

	l.sendBuf.Reset()
	l.sendBuf.Write(buf[:size])
	l.sendSize = size
	l.sendTAType = ta

	if size <= MaxSFPayload {
		frame := make([]byte, size+1)
		frame[0] = byte(PCISingleFrame)<<4 | byte(size)
		l.sendBuf.Read(frame[1:])
		l.sendState = SendIdle
		return l.sendFrame(frame)
	}

	ff := make([]byte, 8)
	ff[0] = byte(PCIFirstFrame)<<4 | byte((size>>8)&0xF)
	ff[1] = byte(size & 0xFF)
	l.sendBuf.Read(ff[2:])

	l.sendSN = 1
	l.bsRemain = InvalidBS
	l.awaitingFC = true
	l.stMinUs = 0
	l.sepDeadlineMs = 0
	l.waitFrames = 0
	l.sendState = SendInProgress
	l.bsTimeoutMs = clock.Add(clock.Millis(), l.cfg.DefaultResponseTimeoutMs)
	return l.sendFrame(ff)
}

// pollSend advances the send-path state machine. now is the current
// monotonic millisecond clock.
func (l *Link) pollSend(now uint32) {
	if l.sendState != SendInProgress {
		return
	}

	if l.awaitingFC || l.bsRemain == 0 {
		// Waiting on a Flow Control; bsTimeoutMs is our N_Bs deadline.
		if clock.After(now, l.bsTimeoutMs) {
			l.sendState = SendError
			l.lastSendResult = ResultTimeoutBS
		}
		return
	}

	if !clock.After(now, l.sepDeadlineMs) {
		return
	}

	n := l.sendBuf.GetOccupied()
	if n > MaxCFPayload {
		n = MaxCFPayload
	}

	cf := make([]byte, n+1)
	cf[0] = byte(PCIConsecutive)<<4 | (l.sendSN & 0x0F)
	l.sendBuf.Read(cf[1:])
	if err := l.sendFrame(cf); err != nil {
		l.sendState = SendError
		l.lastSendResult = ResultOverflow
		return
	}

	l.sendSN = (l.sendSN + 1) & 0x0F
	if l.bsRemain != InvalidBS {
		l.bsRemain--
	}

	if l.sendBuf.GetOccupied() == 0 {
		l.sendState = SendIdle
		return
	}

	if l.bsRemain == 0 {
		l.awaitingFC = true
		l.bsTimeoutMs = clock.Add(now, l.cfg.DefaultResponseTimeoutMs)
		return
	}

	l.sepDeadlineMs = clock.Add(now, l.stMinUs/1000)
}

func (l *Link) handleFlowControl(data []byte) {
	if l.sendState != SendInProgress {
		return
	}
	fs := FlowStatus(data[0] & 0x0F)
	switch fs {
	case FlowContinue:
		bs := data[1]
		if bs == 0 {
			l.bsRemain = InvalidBS
		} else {
			l.bsRemain = int32(bs)
		}
		l.stMinUs = decodeSTmin(data[2])
		l.sepDeadlineMs = clock.Millis()
		l.waitFrames = 0
		l.awaitingFC = false
	case FlowWait:
		l.waitFrames++
		if l.waitFrames > l.cfg.MaxWaitFrames {
			l.sendState = SendError
			l.lastSendResult = ResultTimeoutBS
			return
		}
		l.bsTimeoutMs = clock.Add(clock.Millis(), l.cfg.DefaultResponseTimeoutMs)
	case FlowOverflow:
		l.sendState = SendError
		l.lastSendResult = ResultOverflow
	}
}
