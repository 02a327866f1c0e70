package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaapp/marstek-go/pkg/protocol"
)

// Loopback is an in-memory transport backed by a simulated Venus battery.
// It answers read commands with synthetic but layout-correct frames and
// applies write commands to its internal state, so the full stack above the
// link boundary can run without hardware.
//
// Tests use SetOffline and DropLinks to exercise connect failures and
// reconnect paths.
type Loopback struct {
	mu sync.Mutex

	// Simulated battery state.
	deviceType string
	deviceID   string
	mac        string
	firmware   string
	ssid       string

	soc        float64 // percent
	voltage    float64 // volts
	current    float64 // amps
	designWh   float64
	out1Power  float64
	out1Active bool
	chargeMode byte
	ctRate     byte
	epsMode    bool
	buzzer     bool

	// Fault injection.
	offline     bool
	responseLag time.Duration
	muteOpcodes map[protocol.Opcode]bool
	corruptNext bool
	rebootCount int
	activeLinks map[*loopbackLink]struct{}
}

// NewLoopback creates a simulated device with plausible initial telemetry.
func NewLoopback(name string) *Loopback {
	return &Loopback{
		deviceType:  "HMG-50",
		deviceID:    name,
		mac:         "AA:BB:CC:DD:EE:FF",
		firmware:    "151.1",
		ssid:        "LoopbackNet",
		soc:         73,
		voltage:     52.10,
		current:     2.5,
		designWh:    5120,
		out1Power:   130,
		out1Active:  true,
		chargeMode:  0x01,
		ctRate:      1,
		responseLag: time.Millisecond,
		muteOpcodes: make(map[protocol.Opcode]bool),
		activeLinks: make(map[*loopbackLink]struct{}),
	}
}

// Open implements Dialer. It fails with a ConnectError while the simulated
// device is offline.
func (lb *Loopback) Open(ctx context.Context, target string) (Link, error) {
	select {
	case <-ctx.Done():
		return nil, &ConnectError{Target: target, Err: ctx.Err()}
	default:
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.offline {
		return nil, &ConnectError{Target: target, Err: errors.New("device not reachable")}
	}

	link := &loopbackLink{
		device: lb,
		frames: make(chan []byte, 16),
	}
	lb.activeLinks[link] = struct{}{}
	return link, nil
}

// SetOffline controls whether future Open calls succeed.
func (lb *Loopback) SetOffline(offline bool) {
	lb.mu.Lock()
	lb.offline = offline
	lb.mu.Unlock()
}

// DropLinks severs every active link, as a radio dropout would.
func (lb *Loopback) DropLinks() {
	lb.mu.Lock()
	links := make([]*loopbackLink, 0, len(lb.activeLinks))
	for l := range lb.activeLinks {
		links = append(links, l)
	}
	lb.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

// SetResponseLag adjusts the simulated device's reply latency.
func (lb *Loopback) SetResponseLag(d time.Duration) {
	lb.mu.Lock()
	lb.responseLag = d
	lb.mu.Unlock()
}

// MuteOpcode makes the device swallow requests for one opcode, so command
// timeouts can be exercised.
func (lb *Loopback) MuteOpcode(op protocol.Opcode, muted bool) {
	lb.mu.Lock()
	lb.muteOpcodes[op] = muted
	lb.mu.Unlock()
}

// CorruptNextResponse flips a payload byte in the next response frame.
func (lb *Loopback) CorruptNextResponse() {
	lb.mu.Lock()
	lb.corruptNext = true
	lb.mu.Unlock()
}

// SetBattery overrides the simulated BMS readings.
func (lb *Loopback) SetBattery(soc, voltage, current float64) {
	lb.mu.Lock()
	lb.soc = soc
	lb.voltage = voltage
	lb.current = current
	lb.mu.Unlock()
}

// RebootCount reports how many reboot commands the device has accepted.
func (lb *Loopback) RebootCount() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rebootCount
}

// Out1Active reports the simulated output switch state.
func (lb *Loopback) Out1Active() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.out1Active
}

// ChargeMode reports the simulated charge mode.
func (lb *Loopback) ChargeMode() byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.chargeMode
}

// handleFrame processes one inbound command frame and queues any response
// on the link. Runs on the sender's goroutine up to the response delay.
func (lb *Loopback) handleFrame(link *loopbackLink, data []byte) {
	op, payload, err := protocol.Decode(data)
	if err != nil {
		// A real device ignores garbage.
		return
	}

	lb.mu.Lock()
	lag := lb.responseLag
	muted := lb.muteOpcodes[op]

	// OpChargeMode serves double duty: an empty payload is the system data
	// read, a payload selects the charging strategy.
	isRead := op.IsRead()
	if op == protocol.OpChargeMode && len(payload) > 0 {
		isRead = false
	}

	var response []byte
	if isRead {
		if !muted {
			response = lb.lockedResponseFor(op)
		}
	} else {
		lb.lockedApplyWrite(op, payload)
	}
	if response != nil && lb.corruptNext {
		lb.corruptNext = false
		response[len(response)/2] ^= 0xFF
	}
	lb.mu.Unlock()

	if response == nil {
		return
	}

	time.AfterFunc(lag, func() {
		link.deliver(response)
	})
}

// lockedResponseFor builds a layout-correct response frame. Caller holds mu.
func (lb *Loopback) lockedResponseFor(op protocol.Opcode) []byte {
	var payload []byte

	switch op {
	case protocol.OpRuntimeInfo:
		p := make([]byte, 109)
		p[15] = 0x01 // wifi connected
		if lb.out1Active {
			p[16] = 0x01
		}
		binary.LittleEndian.PutUint16(p[20:22], uint16(lb.out1Power))
		binary.LittleEndian.PutUint16(p[33:35], uint16(int16(182))) // 18.2 C
		binary.LittleEndian.PutUint16(p[35:37], uint16(int16(315))) // 31.5 C
		payload = p

	case protocol.OpDeviceInfo:
		payload = []byte(fmt.Sprintf("type=%s,id=%s,mac=%s,dev_ver=%s",
			lb.deviceType, lb.deviceID, lb.mac, lb.firmware))

	case protocol.OpWiFiSSID:
		payload = []byte(lb.ssid)

	case protocol.OpSystemData:
		p := make([]byte, 11)
		p[0] = 0x02
		binary.LittleEndian.PutUint16(p[1:3], 1000)
		payload = p

	case protocol.OpTimerInfo:
		p := make([]byte, 45)
		p[0] = 0x01
		p[37] = 0x01
		binary.LittleEndian.PutUint16(p[38:40], 240)
		payload = p

	case protocol.OpBMSData:
		p := make([]byte, 82)
		binary.LittleEndian.PutUint16(p[8:10], uint16(lb.soc))
		binary.LittleEndian.PutUint16(p[10:12], 99)
		binary.LittleEndian.PutUint16(p[12:14], uint16(lb.designWh))
		binary.LittleEndian.PutUint16(p[14:16], uint16(lb.voltage*100))
		binary.LittleEndian.PutUint16(p[16:18], uint16(int16(lb.current*10)))
		binary.LittleEndian.PutUint16(p[40:42], 23)
		for i := 0; i < protocol.MaxCells; i++ {
			binary.LittleEndian.PutUint16(p[48+i*2:50+i*2], uint16(3200+10*i))
		}
		payload = p

	case protocol.OpConfigData:
		p := make([]byte, 17)
		p[0] = lb.chargeMode
		payload = p

	case protocol.OpMeterIP:
		payload = []byte("10.0.0.42")

	case protocol.OpCTPollingRate:
		payload = []byte{lb.ctRate}

	case protocol.OpNetworkInfo:
		payload = []byte("ip=10.0.0.9,rssi=-58")

	case protocol.OpLocalAPIStatus:
		payload = []byte{0x01, 0x1F, 0x90}

	case protocol.OpLogs:
		payload = []byte("boot ok")

	default:
		return nil
	}

	frame, err := protocol.Encode(op, payload)
	if err != nil {
		return nil
	}
	return frame
}

// lockedApplyWrite applies a fire-and-forget write. Caller holds mu.
func (lb *Loopback) lockedApplyWrite(op protocol.Opcode, payload []byte) {
	arg := byte(0)
	if len(payload) > 0 {
		arg = payload[0]
	}

	switch op {
	case protocol.OpOutputControl:
		lb.out1Active = arg != 0
	case protocol.OpEPSMode:
		lb.epsMode = arg != 0
	case protocol.OpBuzzer:
		lb.buzzer = arg != 0
	case protocol.OpChargeMode:
		lb.chargeMode = arg
	case protocol.OpCTPollingRateWrite:
		lb.ctRate = arg
	case protocol.OpReboot:
		lb.rebootCount++
	}
}

func (lb *Loopback) removeLink(link *loopbackLink) {
	lb.mu.Lock()
	delete(lb.activeLinks, link)
	lb.mu.Unlock()
}

// loopbackLink is one live connection to the simulated device.
type loopbackLink struct {
	device *Loopback
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func (l *loopbackLink) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.mu.Unlock()

	// Copy: the caller may reuse the buffer.
	frame := make([]byte, len(data))
	copy(frame, data)
	l.device.handleFrame(l, frame)
	return nil
}

func (l *loopbackLink) Frames() <-chan []byte {
	return l.frames
}

func (l *loopbackLink) deliver(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.frames <- frame:
	default:
		// Receiver stalled; a radio would drop the notification too.
	}
}

func (l *loopbackLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.frames)
	l.mu.Unlock()

	l.device.removeLink(l)
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = (*Loopback)(nil)
	_ Link   = (*loopbackLink)(nil)
)
