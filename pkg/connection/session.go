package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaapp/marstek-go/pkg/command"
	"github.com/jaapp/marstek-go/pkg/protocol"
	"github.com/jaapp/marstek-go/pkg/transport"
)

// Session errors.
var (
	ErrSessionClosed    = errors.New("session closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 10 * time.Second

// State represents the session state.
type State uint8

const (
	// StateDisconnected indicates no active link.
	StateDisconnected State = iota

	// StateConnecting indicates a dial attempt is in progress.
	StateConnecting

	// StateConnected indicates a live link.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the session has been shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a session.
type Config struct {
	// Target identifies the device to the dialer (address or name).
	Target string

	// Dialer opens links to the target.
	Dialer transport.Dialer

	// Queue is the command queue this session feeds. Required.
	Queue *command.Queue

	// ConnectTimeout bounds a single dial attempt. Zero means the default.
	ConnectTimeout time.Duration

	// Backoff overrides the reconnect backoff parameters. Zero values keep
	// the defaults.
	Backoff BackoffConfig

	// AutoReconnect keeps the session retrying after link loss.
	AutoReconnect bool

	// Logger for operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// Session owns the link to one device: it dials, tracks connection state,
// pumps inbound frames into the command queue, and reconnects with backoff
// when the link drops.
type Session struct {
	mu sync.RWMutex

	target  string
	dialer  transport.Dialer
	queue   *command.Queue
	backoff *Backoff
	log     *slog.Logger

	state          State
	link           transport.Link
	linkID         string // uuid, new per established link
	connectTimeout time.Duration
	autoReconnect  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectCh chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func(linkID string)
	onDisconnected func(linkID string)
	onReconnecting func(attempt int, delay time.Duration)
	onTraffic      func(outbound bool, frame []byte)
}

// NewSession creates a session. The reconnect loop starts with Start.
func NewSession(cfg Config) *Session {
	if cfg.Queue == nil {
		panic("connection: Config.Queue is required")
	}
	if cfg.Dialer == nil {
		panic("connection: Config.Dialer is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		target:         cfg.Target,
		dialer:         cfg.Dialer,
		queue:          cfg.Queue,
		backoff:        NewBackoffWithConfig(cfg.Backoff),
		log:            log.With("target", cfg.Target),
		state:          StateDisconnected,
		connectTimeout: timeout,
		autoReconnect:  cfg.AutoReconnect,
		ctx:            ctx,
		cancel:         cancel,
		reconnectCh:    make(chan struct{}, 1),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected returns true while the link is live.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// LinkID returns the identifier of the current link, or "" when down.
func (s *Session) LinkID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return ""
	}
	return s.linkID
}

// Target returns the configured device target.
func (s *Session) Target() string { return s.target }

// BackoffAttempts returns the reconnect attempts since the last success.
func (s *Session) BackoffAttempts() int { return s.backoff.Attempts() }

// Start launches the reconnect loop and makes the first dial attempt.
// The initial attempt's error is returned; when auto-reconnect is on the
// session keeps retrying in the background regardless.
func (s *Session) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.reconnectLoop()

	err := s.Connect(ctx)
	if err != nil && s.autoReconnect {
		s.toReconnecting(StateDisconnected)
	}
	return err
}

// Connect makes a single dial attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	}
	old := s.state
	s.state = StateConnecting
	s.mu.Unlock()
	s.notifyStateChange(old, StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	link, err := s.dialer.Open(dialCtx, s.target)
	cancel()
	if err != nil {
		// Fall back to where we came from: a redial stays in the
		// reconnecting state, a manual attempt goes back to disconnected.
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = old
		}
		fell := s.state
		s.mu.Unlock()
		s.notifyStateChange(StateConnecting, fell)
		s.log.Debug("dial failed", "error", err)
		return err
	}

	id := uuid.New().String()

	s.mu.Lock()
	if s.state == StateClosed {
		// Closed while dialing.
		s.mu.Unlock()
		link.Close()
		return ErrSessionClosed
	}
	s.link = link
	s.linkID = id
	s.state = StateConnected
	s.backoff.Reset()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(link, id)

	s.queue.Bind(func(op protocol.Opcode, payload []byte) error {
		return s.sendFrame(link, op, payload)
	})

	s.notifyStateChange(StateConnecting, StateConnected)
	s.mu.RLock()
	cb := s.onConnected
	s.mu.RUnlock()
	if cb != nil {
		cb(id)
	}
	s.log.Info("connected", "link_id", id)
	return nil
}

// Send transmits one command frame outside the queue. Most callers go
// through the queue; this exists for diagnostics.
func (s *Session) Send(op protocol.Opcode, payload []byte) error {
	s.mu.RLock()
	link := s.link
	connected := s.state == StateConnected
	s.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}
	return s.sendFrame(link, op, payload)
}

// Close shuts the session down and blocks until the reader goroutine has
// exited. Because callbacks run on that goroutine, calling Close from a
// session callback deadlocks; tear down from a separate goroutine instead.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	old := s.state
	s.state = StateClosed
	link := s.link
	s.link = nil
	s.mu.Unlock()

	s.cancel()
	if link != nil {
		link.Close()
	}
	s.queue.SupersedeAll()
	s.notifyStateChange(old, StateClosed)
	s.wg.Wait()
	return nil
}

// OnStateChange sets a callback for state transitions.
func (s *Session) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnConnected sets a callback invoked after each successful dial.
func (s *Session) OnConnected(fn func(linkID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = fn
}

// OnDisconnected sets a callback invoked on link loss.
func (s *Session) OnDisconnected(fn func(linkID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (s *Session) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

// OnTraffic sets a callback observing raw frames in both directions.
func (s *Session) OnTraffic(fn func(outbound bool, frame []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTraffic = fn
}

// sendFrame encodes and transmits one frame on the given link.
func (s *Session) sendFrame(link transport.Link, op protocol.Opcode, payload []byte) error {
	frame, err := protocol.Encode(op, payload)
	if err != nil {
		return err
	}
	s.notifyTraffic(true, frame)
	return link.Send(frame)
}

// readLoop drains inbound frames until the link's stream closes, then
// reports the loss. One per established link.
func (s *Session) readLoop(link transport.Link, id string) {
	defer s.wg.Done()

	for frame := range link.Frames() {
		s.notifyTraffic(false, frame)
		s.dispatch(frame)
	}
	s.handleLinkLoss(link, id)
}

// dispatch routes one inbound frame to the queue. Frames that do not parse,
// and responses nothing is waiting for, are dropped.
func (s *Session) dispatch(frame []byte) {
	op, payload, err := protocol.Decode(frame)
	if err != nil {
		s.log.Debug("discarding unparseable frame", "error", err, "len", len(frame))
		return
	}

	value, err := protocol.DecodePayload(op, payload)
	if err != nil {
		if !s.queue.HandleMalformed(op, err) {
			s.log.Debug("discarding malformed unsolicited frame",
				"opcode", op.String(), "error", err)
		}
		return
	}
	if !s.queue.HandleResponse(op, value, frame) {
		s.log.Debug("discarding unsolicited frame", "opcode", op.String())
	}
}

// handleLinkLoss runs when a link's frame stream closes underneath us.
func (s *Session) handleLinkLoss(link transport.Link, id string) {
	s.mu.Lock()
	if s.state == StateClosed || s.link != link {
		// Deliberate Close, or an older link's reader finishing late.
		s.mu.Unlock()
		return
	}
	s.link = nil
	old := s.state
	if s.autoReconnect {
		s.state = StateReconnecting
	} else {
		s.state = StateDisconnected
	}
	newState := s.state
	s.mu.Unlock()

	link.Close()
	s.queue.SupersedeAll()
	s.log.Warn("link lost", "link_id", id)

	s.notifyStateChange(old, newState)
	s.mu.RLock()
	cb := s.onDisconnected
	s.mu.RUnlock()
	if cb != nil {
		cb(id)
	}

	if s.autoReconnect {
		s.triggerReconnect()
	}
}

// toReconnecting moves into the reconnecting state and kicks the loop.
func (s *Session) toReconnecting(from State) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.mu.Unlock()
	s.notifyStateChange(from, StateReconnecting)
	s.triggerReconnect()
}

// triggerReconnect signals the loop; a pending signal is enough.
func (s *Session) triggerReconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnectLoop waits for loss signals and redials with backoff.
func (s *Session) reconnectLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.reconnectCh:
			s.redial()
		}
	}
}

// redial retries until connected or closed, backing off between attempts.
func (s *Session) redial() {
	for {
		switch s.State() {
		case StateClosed, StateConnected:
			return
		}

		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()

		s.mu.RLock()
		cb := s.onReconnecting
		s.mu.RUnlock()
		if cb != nil {
			cb(attempt, delay)
		}
		s.log.Debug("reconnect attempt scheduled", "attempt", attempt, "delay", delay)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		switch s.State() {
		case StateClosed, StateConnected:
			return
		}

		if err := s.Connect(s.ctx); err == nil {
			return
		}
	}
}

func (s *Session) notifyStateChange(old, newState State) {
	s.mu.RLock()
	cb := s.onStateChange
	s.mu.RUnlock()
	if cb != nil && old != newState {
		cb(old, newState)
	}
}

func (s *Session) notifyTraffic(outbound bool, frame []byte) {
	s.mu.RLock()
	cb := s.onTraffic
	s.mu.RUnlock()
	if cb != nil {
		cb(outbound, frame)
	}
}
