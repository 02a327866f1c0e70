package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaapp/marstek-go/pkg/protocol"
)

func openLoopback(t *testing.T, lb *Loopback) Link {
	t.Helper()
	link, err := lb.Open(context.Background(), "loopback")
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return link
}

func awaitFrame(t *testing.T, link Link) []byte {
	t.Helper()
	select {
	case frame, ok := <-link.Frames():
		require.True(t, ok, "frame stream closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestLoopbackReadResponse(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	lb.SetBattery(85, 52.15, -2.5)
	link := openLoopback(t, lb)

	frame, err := protocol.Encode(protocol.OpBMSData, nil)
	require.NoError(t, err)
	require.NoError(t, link.Send(frame))

	op, payload, err := protocol.Decode(awaitFrame(t, link))
	require.NoError(t, err)
	assert.Equal(t, protocol.OpBMSData, op)

	v, err := protocol.DecodePayload(op, payload)
	require.NoError(t, err)
	bms := v.(protocol.BMSData)
	assert.Equal(t, 85.0, bms.SOC)
	assert.InDelta(t, 52.15, bms.Voltage, 0.01)
	assert.InDelta(t, -2.5, bms.Current, 0.01)
}

func TestLoopbackWriteApplied(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	link := openLoopback(t, lb)

	frame, err := protocol.Encode(protocol.OpOutputControl, []byte{0x00})
	require.NoError(t, err)
	require.NoError(t, link.Send(frame))

	// Writes are fire-and-forget: no response, state changes.
	assert.False(t, lb.Out1Active())

	frame, _ = protocol.Encode(protocol.OpChargeMode, []byte{0x02})
	require.NoError(t, link.Send(frame))
	assert.Equal(t, byte(0x02), lb.ChargeMode())

	// The dual-purpose opcode must not answer a write with system data.
	select {
	case resp := <-link.Frames():
		t.Fatalf("unexpected response to charge mode write: % x", resp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopbackOffline(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	lb.SetOffline(true)

	_, err := lb.Open(context.Background(), "loopback")
	var connErr *ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "loopback", connErr.Target)
}

func TestLoopbackDropLinks(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	link := openLoopback(t, lb)

	lb.DropLinks()

	select {
	case _, ok := <-link.Frames():
		assert.False(t, ok, "stream should be closed after drop")
	case <-time.After(time.Second):
		t.Fatal("stream not closed after drop")
	}
	assert.ErrorIs(t, link.Send([]byte{0x73}), ErrLinkClosed)
}

func TestLoopbackMutedOpcode(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	lb.MuteOpcode(protocol.OpRuntimeInfo, true)
	link := openLoopback(t, lb)

	frame, _ := protocol.Encode(protocol.OpRuntimeInfo, nil)
	require.NoError(t, link.Send(frame))

	select {
	case <-link.Frames():
		t.Fatal("muted opcode should not answer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopbackIgnoresGarbage(t *testing.T) {
	lb := NewLoopback("MST_ACCP_TEST")
	link := openLoopback(t, lb)

	require.NoError(t, link.Send([]byte{0xDE, 0xAD, 0xBE, 0xEF}))

	select {
	case <-link.Frames():
		t.Fatal("garbage should be ignored")
	case <-time.After(50 * time.Millisecond):
	}
}
