package udsclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diagstack/govuds/pkg/transport"
	"github.com/diagstack/govuds/pkg/transport/mock"
	"github.com/diagstack/govuds/pkg/uds"
)

const testerID = 1
const ecuID = 2

func newClientUnderTest() (*Client, *mock.Port) {
	bus := mock.NewBus(1)
	testerPort := mock.NewPort(bus, testerID, 256)
	ecuPort := mock.NewPort(bus, ecuID, 256)
	return New(testerPort, ecuID), ecuPort
}

// respondWhenSeen drives the fake ECU side: once a request appears on
// ecuPort it acks it and sends reply in response, on the same tick.
func respondWhenSeen(t *testing.T, ecuPort *mock.Port, now uint32, reply []byte) bool {
	t.Helper()
	_, _ = ecuPort.Poll(now)
	buf, n, sdu, err := ecuPort.Peek()
	require.NoError(t, err)
	if n == 0 {
		return false
	}
	_ = buf
	ecuPort.AckRecv()
	sendBuf, err := ecuPort.GetSendBuf()
	require.NoError(t, err)
	copy(sendBuf, reply)
	_, err = ecuPort.Send(sendBuf[:len(reply)], len(reply), transport.SDU{TAType: sdu.TAType, Target: sdu.Source})
	require.NoError(t, err)
	return true
}

func TestDiagnosticSessionControlPositive(t *testing.T) {
	client, ecuPort := newClientUnderTest()
	var events []Event
	client.SetEventHandler(func(e Event) { events = append(events, e) })

	require.NoError(t, client.DiagnosticSessionControl(uds.SessionDefault))

	now := uint32(0)
	responded := false
	for i := 0; i < 20 && client.Busy(); i++ {
		now++
		client.Poll(now)
		if !responded {
			responded = respondWhenSeen(t, ecuPort, now, []byte{0x50, 0x01, 0x00, 0x32, 0x01, 0xF4})
		}
	}

	require.False(t, client.Busy())
	require.Equal(t, uint32(50), client.p2Ms)
	require.Equal(t, uint32(5000), client.p2StarMs)

	var gotResponse bool
	for _, e := range events {
		if e.Kind == uds.EventResponseReceived {
			gotResponse = true
		}
	}
	require.True(t, gotResponse)
}

func TestSecurityAccessInvalidKeyNegative(t *testing.T) {
	client, ecuPort := newClientUnderTest()
	var lastErr error
	client.SetEventHandler(func(e Event) {
		if e.Kind == uds.EventErr {
			lastErr = e.Err
		}
	})

	require.NoError(t, client.SecurityAccess(0x02, []byte{0xDE, 0xAD, 0xBE, 0xEF}))

	now := uint32(0)
	responded := false
	for i := 0; i < 20 && client.Busy(); i++ {
		now++
		client.Poll(now)
		if !responded {
			responded = respondWhenSeen(t, ecuPort, now, []byte{0x7F, 0x27, byte(uds.InvalidKey)})
		}
	}

	require.False(t, client.Busy())
	require.Equal(t, uds.InvalidKey, lastErr)
}

func TestSecurityAccessRejectsReservedLevel(t *testing.T) {
	client, _ := newClientUnderTest()
	err := client.SecurityAccess(0x00, nil)
	require.ErrorIs(t, err, uds.NewErr(uds.ErrInvalidArg))
	require.False(t, client.Busy())
}

func TestRCRRPExtendsP2ThenPositive(t *testing.T) {
	client, ecuPort := newClientUnderTest()
	var events []Event
	client.SetEventHandler(func(e Event) { events = append(events, e) })

	decoded := ""
	require.NoError(t, client.ReadDataByIdentifier([]uint16{0xF190}, func(did uint16, value []byte) (int, error) {
		decoded = string(value)
		return len(value), nil
	}))

	now := uint32(0)
	sentRCRRP := false
	for i := 0; i < 20 && !sentRCRRP; i++ {
		now++
		client.Poll(now)
		sentRCRRP = respondWhenSeen(t, ecuPort, now, []byte{0x7F, 0x22, 0x78})
	}
	require.True(t, sentRCRRP)
	require.Equal(t, StateAwaitResponse, client.State())

	for i := 0; i < 20 && client.Busy(); i++ {
		now++
		client.Poll(now)
	}
	require.Equal(t, StateAwaitResponse, client.State(), "client must still be waiting, not timed out, after RCRRP")

	_, _ = ecuPort.Poll(now)
	sendBuf, err := ecuPort.GetSendBuf()
	require.NoError(t, err)
	reply := append([]byte{0x62, 0xF1, 0x90}, []byte("VIN")...)
	copy(sendBuf, reply)
	_, err = ecuPort.Send(sendBuf[:len(reply)], len(reply), transport.SDU{TAType: transport.Physical, Target: testerID})
	require.NoError(t, err)

	for i := 0; i < 20 && client.Busy(); i++ {
		now++
		client.Poll(now)
	}

	require.False(t, client.Busy())
	require.Equal(t, "VIN", decoded)
}
