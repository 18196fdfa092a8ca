package udsserver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/transport/mock"
	"github.com/diagstack/govuds/pkg/uds"
)

const testerID = 1
const ecuID = 2

// stubHandler implements EventHandler with the minimum needed to drive
// each test; fields let individual tests override specific behaviors.
type stubHandler struct {
	rdbi           map[uint16][]byte
	rdbiPending    map[uint16]int // DIDs that answer RCRRP this many times before responding
	seed           []byte
	validKey       []byte
	sessionTimeout int
	resetReason    uds.ResetType
}

func newStubHandler() *stubHandler {
	return &stubHandler{rdbi: map[uint16][]byte{}, rdbiPending: map[uint16]int{}}
}

func (h *stubHandler) OnDiagnosticSessionControl(s *Server, session uds.SessionType) (uint32, uint32, uds.NRC) {
	return 0, 0, uds.PositiveResponse
}
func (h *stubHandler) OnECUReset(s *Server, reset uds.ResetType) (uint8, uds.NRC) {
	return 0, uds.PositiveResponse
}
func (h *stubHandler) OnReadDataByIdentifier(s *Server, did uint16, copy CopyFunc) uds.NRC {
	if n, ok := h.rdbiPending[did]; ok && n > 0 {
		h.rdbiPending[did]--
		return uds.RequestCorrectlyReceived_ResponsePending
	}
	v, ok := h.rdbi[did]
	if !ok {
		return uds.RequestOutOfRange
	}
	return copy(v)
}
func (h *stubHandler) OnReadMemoryByAddress(s *Server, addr, size uint64, copy CopyFunc) uds.NRC {
	return uds.RequestOutOfRange
}
func (h *stubHandler) OnCommunicationControl(s *Server, ctrl, commType uint8) uds.NRC {
	return uds.PositiveResponse
}
func (h *stubHandler) OnSecurityAccessRequestSeed(s *Server, level uint8, copy CopyFunc) uds.NRC {
	return copy(h.seed)
}
func (h *stubHandler) OnSecurityAccessValidateKey(s *Server, level uint8, key []byte) uds.NRC {
	if string(key) == string(h.validKey) {
		return uds.PositiveResponse
	}
	return uds.InvalidKey
}
func (h *stubHandler) OnWriteDataByIdentifier(s *Server, did uint16, data []byte) uds.NRC {
	return uds.PositiveResponse
}
func (h *stubHandler) OnRoutineControl(s *Server, sub uds.RoutineControlType, routineID uint16, data []byte, copy CopyFunc) uds.NRC {
	return uds.PositiveResponse
}
func (h *stubHandler) OnRequestDownload(s *Server, dataFormatID uint8, addr, size uint64) (uint32, uds.NRC) {
	return 0x0104, uds.PositiveResponse
}
func (h *stubHandler) OnRequestUpload(s *Server, dataFormatID uint8, addr, size uint64) (uint32, uds.NRC) {
	return 0x0104, uds.PositiveResponse
}
func (h *stubHandler) OnTransferData(s *Server, blockSequenceCounter uint8, data []byte, copy CopyFunc) uds.NRC {
	return uds.PositiveResponse
}
func (h *stubHandler) OnRequestTransferExit(s *Server) uds.NRC { return uds.PositiveResponse }
func (h *stubHandler) OnRequestFileTransfer(s *Server, mode uint8, path string, dfi *uint8, sizeUncompressed, sizeCompressed uint64) (uint32, uds.NRC) {
	return 0x0104, uds.PositiveResponse
}
func (h *stubHandler) OnCustom(s *Server, sid uds.SID, data []byte, copy CopyFunc) uds.NRC {
	return uds.ServiceNotSupported
}
func (h *stubHandler) OnSessionTimeout(s *Server) { h.sessionTimeout++ }
func (h *stubHandler) OnDoScheduledReset(s *Server, reset uds.ResetType) { h.resetReason = reset }

var _ EventHandler = (*stubHandler)(nil)

func newServerUnderTest(cfg Config) (*Server, *stubHandler, *mock.Port) {
	bus := mock.NewBus(1)
	ecuPort := mock.NewPort(bus, ecuID, 4096)
	testerPort := mock.NewPort(bus, testerID, 4096)
	h := newStubHandler()
	srv := New(ecuPort, cfg)
	srv.SetEventHandler(h)
	return srv, h, testerPort
}

func sendFromTester(t *testing.T, testerPort *mock.Port, now uint32, req []byte, ta transport.AddressType) {
	t.Helper()
	_, _ = testerPort.Poll(now)
	sendBuf, err := testerPort.GetSendBuf()
	require.NoError(t, err)
	copy(sendBuf, req)
	_, err = testerPort.Send(sendBuf[:len(req)], len(req), transport.SDU{TAType: ta, Target: ecuID})
	require.NoError(t, err)
}

func recvAtTester(testerPort *mock.Port, now uint32) ([]byte, bool) {
	_, _ = testerPort.Poll(now)
	buf, n, _, _ := testerPort.Peek()
	if n == 0 {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	testerPort.AckRecv()
	return out, true
}

func TestDiagnosticSessionControlPositive(t *testing.T) {
	srv, _, testerPort := newServerUnderTest(DefaultConfig())

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x10, 0x01}, transport.Physical)

	var reply []byte
	for i := 0; i < 20 && reply == nil; i++ {
		now++
		srv.Poll(now)
		reply, _ = recvAtTester(testerPort, now)
	}

	require.Equal(t, []byte{0x50, 0x01, 0x00, 0x32, 0x01, 0xF4}, reply)
}

func TestRCRRPThenPositiveRDBI(t *testing.T) {
	srv, h, testerPort := newServerUnderTest(DefaultConfig())
	h.rdbi[0xF190] = []byte("VIN12345678901234")
	h.rdbiPending[0xF190] = 1

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x22, 0xF1, 0x90}, transport.Physical)

	var first []byte
	for i := 0; i < 20 && first == nil; i++ {
		now++
		srv.Poll(now)
		first, _ = recvAtTester(testerPort, now)
	}
	require.Equal(t, []byte{0x7F, 0x22, 0x78}, first, "expected RCRRP keep-alive")

	var final []byte
	for i := 0; i < 2000 && final == nil; i++ {
		now++
		srv.Poll(now)
		final, _ = recvAtTester(testerPort, now)
	}
	require.NotNil(t, final)
	require.Equal(t, uint8(0x62), final[0])
	require.Equal(t, []byte("VIN12345678901234"), final[3:])
}

func TestTransferDownloadSequence(t *testing.T) {
	srv, _, testerPort := newServerUnderTest(DefaultConfig())

	now := uint32(0)
	// RequestDownload: DFI=0x00, ALFI=0x44 (4-byte addr, 4-byte size), addr=0x08000000, size=2048
	req := []byte{0x34, 0x00, 0x44, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00}
	sendFromTester(t, testerPort, now, req, transport.Physical)

	var resp []byte
	for i := 0; i < 20 && resp == nil; i++ {
		now++
		srv.Poll(now)
		resp, _ = recvAtTester(testerPort, now)
	}
	require.NotNil(t, resp)
	require.Equal(t, uint8(0x74), resp[0])
	require.True(t, srv.transfer.active)
	require.Equal(t, uint32(0x0104), srv.transfer.maxBlockLen)

	for block := uint8(1); block <= 8; block++ {
		data := make([]byte, 254)
		td := append([]byte{0x36, block}, data...)
		sendFromTester(t, testerPort, now, td, transport.Physical)

		resp = nil
		for i := 0; i < 20 && resp == nil; i++ {
			now++
			srv.Poll(now)
			resp, _ = recvAtTester(testerPort, now)
		}
		require.NotNil(t, resp, "block %d", block)
		require.Equal(t, []byte{0x76, block}, resp)
	}

	// 9th block replays BSC=1: must be rejected as a sequence error and
	// must drop the transfer.
	sendFromTester(t, testerPort, now, []byte{0x36, 0x01, 0x00}, transport.Physical)
	resp = nil
	for i := 0; i < 20 && resp == nil; i++ {
		now++
		srv.Poll(now)
		resp, _ = recvAtTester(testerPort, now)
	}
	require.Equal(t, []byte{0x7F, 0x36, byte(uds.RequestSequenceError)}, resp)
	require.False(t, srv.transfer.active)
}

func TestRequestTransferExitRejectsWithoutActiveTransfer(t *testing.T) {
	srv, _, testerPort := newServerUnderTest(DefaultConfig())

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x37}, transport.Physical)

	var resp []byte
	for i := 0; i < 20 && resp == nil; i++ {
		now++
		srv.Poll(now)
		resp, _ = recvAtTester(testerPort, now)
	}
	require.Equal(t, []byte{0x7F, 0x37, byte(uds.UploadDownloadNotAccepted)}, resp)
}

func TestFunctionalTesterPresentSuppressed(t *testing.T) {
	srv, _, testerPort := newServerUnderTest(DefaultConfig())

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x3E, 0x80}, transport.Functional)

	for i := 0; i < 20; i++ {
		now++
		srv.Poll(now)
		if resp, ok := recvAtTester(testerPort, now); ok {
			t.Fatalf("expected no response to suppressed functional TesterPresent, got % x", resp)
		}
	}
}

func TestSecurityAccessBruteForceMitigation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityAuthFailMs = 1000
	srv, h, testerPort := newServerUnderTest(cfg)
	h.validKey = []byte{0xCA, 0xFE}

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x27, 0x02, 0x00, 0x00}, transport.Physical)

	var resp []byte
	for i := 0; i < 20 && resp == nil; i++ {
		now++
		srv.Poll(now)
		resp, _ = recvAtTester(testerPort, now)
	}
	require.Equal(t, []byte{0x7F, 0x27, byte(uds.InvalidKey)}, resp)

	// Immediately retrying must be rejected by the auth-fail delay timer.
	sendFromTester(t, testerPort, now, []byte{0x27, 0x02, 0xCA, 0xFE}, transport.Physical)
	resp = nil
	for i := 0; i < 20 && resp == nil; i++ {
		now++
		srv.Poll(now)
		resp, _ = recvAtTester(testerPort, now)
	}
	require.Equal(t, []byte{0x7F, 0x27, byte(uds.ExceedNumberOfAttempts)}, resp)
}

func TestSessionTimeoutFiresOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.S3Ms = 50
	srv, h, testerPort := newServerUnderTest(cfg)

	now := uint32(0)
	sendFromTester(t, testerPort, now, []byte{0x10, 0x03}, transport.Physical)
	for i := 0; i < 20; i++ {
		now++
		srv.Poll(now)
		if _, ok := recvAtTester(testerPort, now); ok {
			break
		}
	}
	require.Equal(t, uds.SessionExtendedDiagnostic, srv.Session())

	for i := 0; i < 200; i++ {
		now++
		srv.Poll(now)
	}
	require.Equal(t, 1, h.sessionTimeout)
	require.Equal(t, uds.SessionDefault, srv.Session())

	for i := 0; i < 200; i++ {
		now++
		srv.Poll(now)
	}
	require.Equal(t, 1, h.sessionTimeout, "must not re-fire once back in the default session")
}
