package mock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diagstack/govuds/pkg/transport"
)

func TestSendDeliversAfterLatency(t *testing.T) {
	bus := NewBus(5)
	client := NewPort(bus, 1, 256)
	server := NewPort(bus, 2, 256)

	_, _ = client.Poll(0)
	n, err := client.Send([]byte{0x10, 0x01}, 2, transport.SDU{TAType: transport.Physical, Target: 2})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = server.Poll(0)
	require.NoError(t, err)
	_, _, _, err = server.Peek()
	require.NoError(t, err)
	buf, _, _, _ := server.Peek()
	require.Nil(t, buf)

	_, err = server.Poll(5)
	require.NoError(t, err)
	buf, n, sdu, err := server.Peek()
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x01}, buf[:n])
	require.Equal(t, uint32(1), sdu.Source)

	server.AckRecv()
	buf, _, _, _ = server.Peek()
	require.Nil(t, buf)
}

func TestSendRejectsOversizedFunctional(t *testing.T) {
	bus := NewBus(0)
	client := NewPort(bus, 1, 256)

	_, err := client.Send(make([]byte, 8), 8, transport.SDU{TAType: transport.Functional, Target: 2})
	require.ErrorIs(t, err, transport.ErrOverflow)
}

func TestSendRejectsWhileBusy(t *testing.T) {
	bus := NewBus(100)
	client := NewPort(bus, 1, 256)

	_, err := client.Send([]byte{0x01}, 1, transport.SDU{TAType: transport.Physical, Target: 2})
	require.NoError(t, err)

	_, err = client.Send([]byte{0x02}, 1, transport.SDU{TAType: transport.Physical, Target: 2})
	require.ErrorIs(t, err, transport.ErrInProgress)
}
