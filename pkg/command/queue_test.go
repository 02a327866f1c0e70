package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaapp/marstek-go/pkg/protocol"
)

// sentOp is one observed transmission.
type sentOp struct {
	op      protocol.Opcode
	payload []byte
}

// newRecordingSend returns a SendFunc that records every transmission on the
// returned channel.
func newRecordingSend(buf int) (SendFunc, chan sentOp) {
	ch := make(chan sentOp, buf)
	return func(op protocol.Opcode, payload []byte) error {
		ch <- sentOp{op: op, payload: payload}
		return nil
	}, ch
}

func awaitResult(t *testing.T, p *Pending) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.Await(ctx)
	require.NoError(t, err, "command %s did not resolve", p.Command().Opcode)
	return res
}

func TestQueueWriteIsFireAndForget(t *testing.T) {
	send, sent := newRecordingSend(1)
	q := New(nil)
	q.Bind(send)

	p := q.Enqueue(Write(protocol.OpBuzzer, []byte{0x01}))
	res := awaitResult(t, p)

	require.NoError(t, res.Err)
	assert.Equal(t, protocol.OpBuzzer, res.Opcode)
	got := <-sent
	assert.Equal(t, protocol.OpBuzzer, got.op)
	assert.Equal(t, []byte{0x01}, got.payload)
	assert.False(t, q.InFlight())
}

func TestQueueReadResolvesOnMatchingResponse(t *testing.T) {
	send, sent := newRecordingSend(1)
	q := New(nil)
	q.Bind(send)

	p := q.Enqueue(Read(protocol.OpWiFiSSID, nil))
	<-sent

	// A response for a different opcode is out of band and must not touch
	// the in-flight command.
	assert.False(t, q.HandleResponse(protocol.OpRuntimeInfo, nil, nil))
	assert.True(t, q.InFlight())

	ssid := protocol.WiFiSSID{SSID: "hamenet"}
	assert.True(t, q.HandleResponse(protocol.OpWiFiSSID, ssid, []byte("hamenet")))

	res := awaitResult(t, p)
	require.NoError(t, res.Err)
	assert.Equal(t, ssid, res.Value)
	assert.False(t, q.InFlight())
}

func TestQueueWritePriority(t *testing.T) {
	send, sent := newRecordingSend(8)
	q := New(nil)

	// Enqueue while unbound so dispatch order is decided in one pump.
	read := q.Enqueue(Read(protocol.OpWiFiSSID, nil))
	write := q.Enqueue(Write(protocol.OpBuzzer, []byte{0x00}))

	q.Bind(send)

	first := <-sent
	assert.Equal(t, protocol.OpBuzzer, first.op, "write must jump ahead of the queued read")
	awaitResult(t, write)

	second := <-sent
	assert.Equal(t, protocol.OpWiFiSSID, second.op)
	q.HandleResponse(protocol.OpWiFiSSID, nil, nil)
	awaitResult(t, read)
}

func TestQueueReadOverflowEvictsOldest(t *testing.T) {
	q := New(nil) // unbound: everything stays queued

	ops := []protocol.Opcode{
		protocol.OpRuntimeInfo,
		protocol.OpBMSData,
		protocol.OpSystemData,
		protocol.OpWiFiSSID,
	}
	pending := make([]*Pending, 0, len(ops))
	for _, op := range ops {
		pending = append(pending, q.Enqueue(Read(op, nil)))
	}

	// Fifth read exceeds the bound; only the oldest may be evicted.
	extra := q.Enqueue(Read(protocol.OpNetworkInfo, nil))

	res := awaitResult(t, pending[0])
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrSuperseded)

	for _, p := range pending[1:] {
		select {
		case <-p.Done():
			t.Fatalf("read %s resolved early", p.Command().Opcode)
		default:
		}
	}
	select {
	case <-extra.Done():
		t.Fatal("newest read resolved early")
	default:
	}

	assert.Equal(t, 1, q.Stats().Evicted)
}

func TestQueueWritesAreUnbounded(t *testing.T) {
	q := New(nil)
	for i := 0; i < 50; i++ {
		q.Enqueue(Write(protocol.OpBuzzer, []byte{byte(i % 2)}))
	}
	assert.Equal(t, 50, q.Depth())
	assert.Equal(t, 0, q.Stats().Evicted)
}

func TestQueueTimeout(t *testing.T) {
	send, sent := newRecordingSend(4)
	q := New(nil)
	q.Bind(send)

	cmd := Read(protocol.OpRuntimeInfo, nil)
	cmd.Timeout = 20 * time.Millisecond
	cmd.Retries = -1 // no retries

	p := q.Enqueue(cmd)
	<-sent

	res := awaitResult(t, p)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTimeout)

	var cmdErr *Error
	require.ErrorAs(t, res.Err, &cmdErr)
	assert.Equal(t, FailureTimeout, cmdErr.Kind)
	assert.Equal(t, protocol.OpRuntimeInfo, cmdErr.Opcode)
	assert.False(t, q.InFlight())
}

func TestQueueRetryThenSuccess(t *testing.T) {
	send, sent := newRecordingSend(4)
	q := New(nil)
	q.Bind(send)

	cmd := Read(protocol.OpBMSData, nil)
	cmd.Timeout = 20 * time.Millisecond
	cmd.Retries = 2

	p := q.Enqueue(cmd)

	// First attempt goes unanswered; answer the second.
	<-sent
	<-sent
	require.True(t, q.HandleResponse(protocol.OpBMSData, protocol.BMSData{SOC: 80}, nil))

	res := awaitResult(t, p)
	require.NoError(t, res.Err)
	assert.Equal(t, protocol.BMSData{SOC: 80}, res.Value)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Retried)
}

func TestQueueRetriesExhausted(t *testing.T) {
	send, sent := newRecordingSend(8)
	q := New(nil)
	q.Bind(send)

	cmd := Read(protocol.OpConfigData, nil)
	cmd.Timeout = 10 * time.Millisecond
	cmd.Retries = 2

	p := q.Enqueue(cmd)
	res := awaitResult(t, p)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTimeout)

	// Initial attempt plus two retries.
	assert.Len(t, sent, 3)
	assert.Equal(t, 3, q.Stats().Sent)
}

func TestQueueMalformedResponse(t *testing.T) {
	send, sent := newRecordingSend(1)
	q := New(nil)
	q.Bind(send)

	p := q.Enqueue(Read(protocol.OpBMSData, nil))
	<-sent

	cause := errors.New("payload too short")
	assert.True(t, q.HandleMalformed(protocol.OpBMSData, cause))

	res := awaitResult(t, p)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrMalformed)
	assert.ErrorIs(t, res.Err, cause)
}

func TestQueueTransportFailure(t *testing.T) {
	q := New(nil)
	q.Bind(func(protocol.Opcode, []byte) error {
		return errors.New("link closed")
	})

	p := q.Enqueue(Read(protocol.OpRuntimeInfo, nil))
	res := awaitResult(t, p)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTransport)
}

func TestQueueSupersedeAll(t *testing.T) {
	send, sent := newRecordingSend(1)
	q := New(nil)
	q.Bind(send)

	inflight := q.Enqueue(Read(protocol.OpRuntimeInfo, nil))
	<-sent
	queuedRead := q.Enqueue(Read(protocol.OpBMSData, nil))
	queuedWrite := q.Enqueue(Write(protocol.OpBuzzer, []byte{0x01}))

	// The write cannot dispatch: the read is still in flight.
	assert.Equal(t, 2, q.Depth())

	q.SupersedeAll()

	for _, p := range []*Pending{inflight, queuedRead, queuedWrite} {
		res := awaitResult(t, p)
		assert.ErrorIs(t, res.Err, ErrSuperseded, "command %s", p.Command().Opcode)
	}
	assert.Equal(t, 0, q.Depth())
	assert.False(t, q.InFlight())
}

func TestQueueUnboundHoldsCommands(t *testing.T) {
	send, sent := newRecordingSend(1)
	q := New(nil)

	p := q.Enqueue(Write(protocol.OpBuzzer, []byte{0x01}))
	select {
	case <-p.Done():
		t.Fatal("command resolved without a bound link")
	case <-time.After(50 * time.Millisecond):
	}

	q.Bind(send)
	awaitResult(t, p)
	<-sent
}

// TestQueueSingleInFlight hammers the queue from many goroutines and checks
// that a read never overlaps another transmission, and that every write
// eventually resolves.
func TestQueueSingleInFlight(t *testing.T) {
	const writers, writesEach = 4, 25

	q := New(nil)

	var outstanding atomic.Bool
	var overlaps atomic.Int32
	responses := make(chan protocol.Opcode, 16)

	send := func(op protocol.Opcode, payload []byte) error {
		if outstanding.Load() {
			overlaps.Add(1)
		}
		if op == protocol.OpRuntimeInfo {
			outstanding.Store(true)
			responses <- op
		}
		return nil
	}

	// Device side: answer each read after clearing the outstanding flag.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for op := range responses {
			outstanding.Store(false)
			q.HandleResponse(op, protocol.RuntimeInfo{}, nil)
		}
	}()

	q.Bind(send)

	var wg sync.WaitGroup
	writeResults := make(chan *Pending, writers*writesEach)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writesEach; i++ {
				writeResults <- q.Enqueue(Write(protocol.OpBuzzer, []byte{0x01}))
			}
		}()
	}
	// Reads race the writes; overflow evictions are expected and fine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 40; i++ {
			q.Enqueue(Read(protocol.OpRuntimeInfo, nil))
		}
	}()

	wg.Wait()
	close(writeResults)

	for p := range writeResults {
		res := awaitResult(t, p)
		assert.NoError(t, res.Err)
	}

	// Drain any read still in flight so the responder can exit.
	deadline := time.After(2 * time.Second)
	for q.InFlight() || q.Depth() > 0 {
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(responses)
	<-done

	assert.Zero(t, overlaps.Load(), "transmissions overlapped an outstanding read")
}

func TestFailureKindString(t *testing.T) {
	for kind, want := range map[FailureKind]string{
		FailureTimeout:    "TIMEOUT",
		FailureTransport:  "TRANSPORT",
		FailureMalformed:  "MALFORMED",
		FailureSuperseded: "SUPERSEDED",
	} {
		assert.Equal(t, want, kind.String())
	}
	assert.Equal(t, "UNKNOWN", FailureKind(99).String())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: FailureTimeout, Opcode: protocol.OpBMSData}
	assert.Equal(t, fmt.Sprintf("command %s failed: TIMEOUT", protocol.OpBMSData), err.Error())
}
