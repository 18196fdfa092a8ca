// Package udsserver implements the ECU-side UDS dispatch and timing core
// of spec.md §4.3: per-poll-tick session/S3/reset-scheduling bookkeeping,
// a SID-keyed service dispatch table, sub-function suppression, security
// brute-force mitigation and the (0x34|0x35)->0x36*->0x37 transfer state
// machine, driven from a non-blocking Poll() in the style of the legacy
// tick-driven CANopen SDO server this module grew out of.
package udsserver

import (
	log "github.com/sirupsen/logrus"

	"github.com/diagstack/govuds/internal/clock"
	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/uds"
)

const (
	defaultP2Ms           = 50
	defaultP2StarMs       = 5000
	defaultS3Ms           = 5000
	defaultPowerDownMs    = 2000
	defaultSecurityBootMs = 0
	defaultAuthFailMs     = 10000
)

// Config carries the timing parameters an application may tune away from
// spec.md's defaults.
type Config struct {
	P2Ms               uint32
	P2StarMs           uint32
	S3Ms               uint32
	PowerDownMs        uint32
	SecurityBootMs     uint32
	SecurityAuthFailMs uint32
	MTU                int
}

func DefaultConfig() Config {
	return Config{
		P2Ms:               defaultP2Ms,
		P2StarMs:           defaultP2StarMs,
		S3Ms:               defaultS3Ms,
		PowerDownMs:        defaultPowerDownMs,
		SecurityBootMs:     defaultSecurityBootMs,
		SecurityAuthFailMs: defaultAuthFailMs,
		MTU:                4095,
	}
}

// transferState is the (0x34|0x35)->0x36*->0x37 bookkeeping of spec.md §9.
type transferState struct {
	active       bool
	blockCounter uint8
	byteCounter  uint64
	totalBytes   uint64
	maxBlockLen  uint32
}

// Server is the UDS ECU session bound to one transport.Port.
type Server struct {
	port    transport.Port
	logger  *log.Entry
	cfg     Config
	handler EventHandler

	session       uds.SessionType
	securityLevel uint8

	p2Timer           uint32
	s3Deadline        uint32
	rcrrp             bool
	requestInProgress bool

	ecuResetScheduled uds.ResetType
	ecuResetTimer     uint32

	securityBootDeadline     uint32
	securityAuthFailDeadline uint32

	transfer transferState

	reqSID  uds.SID
	reqBuf  []byte
	reqLen  int
	reqSDU  transport.SDU
	respBuf []byte
	respLen int
}

// New binds a server to port.
func New(port transport.Port, cfg Config) *Server {
	return &Server{
		port:    port,
		logger:  log.WithField("component", "udsserver"),
		cfg:     cfg,
		session: uds.SessionDefault,
		p2Timer: cfg.P2Ms,
		reqBuf:  make([]byte, cfg.MTU),
		respBuf: make([]byte, cfg.MTU),

		// Deadlines share the clock's epoch, so the boot delay runs from 0.
		securityBootDeadline: cfg.SecurityBootMs,
	}
}

// SetEventHandler installs the application handler.
func (s *Server) SetEventHandler(h EventHandler) { s.handler = h }

// Session reports the currently active diagnostic session.
func (s *Server) Session() uds.SessionType { return s.session }

// SecurityLevel reports the currently unlocked security level (0 = locked).
func (s *Server) SecurityLevel() uint8 { return s.securityLevel }

// Poll advances the server by one tick (spec.md §4.3's request lifecycle).
func (s *Server) Poll(now uint32) {
	if _, err := s.port.Poll(now); err != nil {
		s.logger.WithError(err).Debug("transport poll error")
	}

	if s.session != uds.SessionDefault && clock.After(now, s.s3Deadline) {
		if s.handler != nil {
			s.handler.OnSessionTimeout(s)
		}
		s.session = uds.SessionDefault
		s.securityLevel = 0
	}

	if s.ecuResetScheduled != 0 && clock.After(now, s.ecuResetTimer) {
		rt := s.ecuResetScheduled
		s.ecuResetScheduled = 0
		if s.handler != nil {
			s.handler.OnDoScheduledReset(s, rt)
		}
	}

	if !s.requestInProgress {
		s.tryDispatchNext(now)
	} else if s.rcrrp {
		// Re-run the handler every tick; keep-alives are paced by p2Timer.
		if nrc := s.invokeHandler(now); !nrc.IsResponsePending() {
			s.rcrrp = false
			s.finish(now, nrc)
		}
	}

	if s.requestInProgress && clock.After(now, s.p2Timer) {
		s.transmitPending(now)
	}
}

func (s *Server) tryDispatchNext(now uint32) {
	buf, n, sdu, err := s.port.Peek()
	if err != nil || n == 0 {
		return
	}
	if len(buf) < 1 {
		s.port.AckRecv()
		return
	}

	s.reqSID = uds.SID(buf[0])
	s.reqLen = n
	copy(s.reqBuf, buf[:n])
	s.reqSDU = sdu
	s.requestInProgress = true
	s.port.AckRecv()

	nrc := s.invokeHandler(now)
	if nrc.IsResponsePending() {
		s.rcrrp = true
		s.p2Timer = now
		return
	}
	s.finish(now, nrc)
}

// finish records the dispatch outcome, applying the suppression rules of
// spec.md §4.3, and sets the P2 timer to now so the transmit check at the
// end of the same Poll call sends (or silently discards) the response.
func (s *Server) finish(now uint32, nrc uds.NRC) {
	switch {
	case s.shouldSuppressResponse(nrc):
		s.respLen = 0
	case !nrc.IsPositive():
		s.respBuf[0] = uds.NegativeResponseSID
		s.respBuf[1] = uint8(s.reqSID)
		s.respBuf[2] = uint8(nrc)
		s.respLen = 3
	}
	s.p2Timer = now
}

func (s *Server) transmitPending(now uint32) {
	keepAlive := s.rcrrp
	defer func() {
		if keepAlive {
			// The request stays open; the next keep-alive is due 0.3 x P2* later.
			s.p2Timer = clock.Add(now, uint32(float64(s.cfg.P2StarMs)*0.3))
			return
		}
		s.requestInProgress = false
		s.rcrrp = false
		s.p2Timer = clock.Add(now, s.cfg.P2Ms)
	}()

	if keepAlive {
		s.respBuf[0] = uds.NegativeResponseSID
		s.respBuf[1] = uint8(s.reqSID)
		s.respBuf[2] = uint8(uds.RequestCorrectlyReceived_ResponsePending)
		s.respLen = 3
	}
	if s.respLen == 0 {
		return
	}
	sendBuf, err := s.port.GetSendBuf()
	if err != nil {
		return
	}
	n := s.respLen
	if n > len(sendBuf) {
		n = len(sendBuf)
	}
	copy(sendBuf, s.respBuf[:n])

	respSDU := transport.SDU{
		MessageType: transport.Diagnostic,
		TAType:      transport.Physical,
		Target:      s.reqSDU.Source,
		EntityTag:   s.reqSDU.EntityTag,
	}
	_, _ = s.port.Send(sendBuf[:n], n, respSDU)
}

// shouldSuppressResponse implements spec.md §4.3's two silence rules: the
// sub-function suppress bit on services that support it, and negative
// responses to functionally-addressed requests that would otherwise spam
// the bus.
func (s *Server) shouldSuppressResponse(nrc uds.NRC) bool {
	if nrc.IsPositive() && uds.SupportsSuppressedResponse(s.reqSID) && s.reqLen >= 2 {
		if uds.SuppressesPositiveResponse(s.reqBuf[1]) {
			return true
		}
	}
	if s.reqSDU.TAType == transport.Functional && isSilencedOnFunctional(nrc) {
		return true
	}
	return false
}

func isSilencedOnFunctional(nrc uds.NRC) bool {
	switch nrc {
	case uds.ServiceNotSupported, uds.SubFunctionNotSupported,
		uds.ServiceNotSupportedInActiveSession, uds.SubFunctionNotSupportedInActiveSession,
		uds.RequestOutOfRange:
		return true
	}
	return false
}
