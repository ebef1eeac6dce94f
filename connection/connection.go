// Package connection implements per-client connection state: the receive
// buffer owner, cipher binding, last-activity clock, and the send/close
// primitives the Listener/Dispatcher drives.
package connection

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehub/pulsecore/cipher"
	"github.com/pulsehub/pulsecore/corerr"
	"github.com/pulsehub/pulsecore/protocol"
)

// State is a Connection's lifecycle stage. It is monotone: Open → Closing →
// Closed, never backwards.
type State int32

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind discriminates the events a Connection emits to its Listener.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventPacketReceived
	EventProtocolViolation
)

// Event is one lifecycle notification. Reason carries the disconnect cause
// or violation kind as a human-readable string; Packet is set only for
// EventPacketReceived.
type Event struct {
	Kind   EventKind
	Reason string
	Packet *protocol.Packet
}

// Config carries the tx queue backpressure thresholds and idle timeout for a
// Connection. The Connection itself only sizes its tx queue from
// TxHighWater; pausing reads and the idle timeout are enforced by the
// Listener.
type Config struct {
	TxHighWater int
	TxLowWater  int
	IdleTimeout time.Duration
}

// DefaultConfig returns sensible backpressure/idle defaults.
func DefaultConfig() Config {
	return Config{TxHighWater: 256, TxLowWater: 64, IdleTimeout: 90 * time.Second}
}

// Connection is owned exclusively by the Listener for its lifetime; handlers
// borrow it for the duration of a single dispatch call and must not retain
// it past that call.
type Connection struct {
	ID           uuid.UUID
	RemoteAddr   string
	conn         net.Conn
	codec        *protocol.Codec
	cipher       cipher.Cipher
	cfg          Config
	state        atomic.Int32
	lastActivity atomic.Int64

	// closeMu serializes Send against Close's transition to Closing and its
	// close(txCh): Send holds it for reading while it checks state and sends,
	// Close takes it exclusively before closing the channel, so a Send in
	// flight always finishes (or is excluded) before the channel closes.
	// Without this, a state check followed by a send racing a concurrent
	// Close can send on a closed channel and panic.
	closeMu   sync.RWMutex
	txCh      chan *protocol.Packet
	drained   chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once
	closeErr  error

	onEvent func(Event)
}

// New builds a Connection in the Open state. onEvent, if non-nil, receives
// every lifecycle event; it must not block.
func New(c net.Conn, codec *protocol.Codec, ciph cipher.Cipher, cfg Config, onEvent func(Event)) *Connection {
	conn := &Connection{
		ID:         uuid.New(),
		RemoteAddr: c.RemoteAddr().String(),
		conn:       c,
		codec:      codec,
		cipher:     ciph,
		cfg:        cfg,
		txCh:       make(chan *protocol.Packet, cfg.TxHighWater),
		drained:    make(chan struct{}),
		onEvent:    onEvent,
	}
	conn.state.Store(int32(Open))
	conn.touch()
	conn.emit(Event{Kind: EventConnected})
	return conn
}

func (c *Connection) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

// LastActivity returns the wall-clock time of the most recent decoded packet
// passed to OnReceive, or of construction before any. Bytes of a frame that
// is still incomplete do not count as activity.
func (c *Connection) LastActivity() time.Time {
	return time.UnixMilli(c.lastActivity.Load())
}

// IdleFor reports how long it has been since LastActivity.
func (c *Connection) IdleFor() time.Duration {
	return time.Since(c.LastActivity())
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) transitionTo(s State) {
	for {
		cur := State(c.state.Load())
		if cur >= s {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(s)) {
			return
		}
	}
}

// OnReceive marks activity and emits a packet-received event; callers
// should call this once per decoded frame before dispatch.
func (c *Connection) OnReceive(p *protocol.Packet) {
	c.touch()
	c.emit(Event{Kind: EventPacketReceived, Packet: p})
}

// OnViolation emits a protocol-violation event without altering state;
// the caller decides separately whether the violation is fatal.
func (c *Connection) OnViolation(kind string) {
	c.emit(Event{Kind: EventProtocolViolation, Reason: kind})
}

// Send enqueues packet on the tx queue; the writer task encodes it later via
// Encode. It fails with corerr.Backpressure if the queue is at capacity, and
// with a plain (non-corerr) error once the connection has left Open, since
// "closed" is not itself a wire-facing error kind.
func (c *Connection) Send(packet *protocol.Packet) error {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.State() != Open {
		return errors.New("connection: send on non-open connection")
	}
	select {
	case c.txCh <- packet:
		return nil
	default:
		return corerr.New(corerr.Backpressure, "tx queue at high-water mark")
	}
}

// TxDepth reports how many packets are currently queued for transmission.
func (c *Connection) TxDepth() int {
	return len(c.txCh)
}

// ShouldPauseReads reports whether the tx queue is at or above the
// high-water mark, signalling the dispatcher to pause this connection's
// read task until ShouldResumeReads.
func (c *Connection) ShouldPauseReads() bool {
	return c.TxDepth() >= c.cfg.TxHighWater
}

// ShouldResumeReads reports whether the tx queue has drained to the
// low-water mark.
func (c *Connection) ShouldResumeReads() bool {
	return c.TxDepth() <= c.cfg.TxLowWater
}

// Drain pulls the next queued packet for the connection's writer task, or
// reports ok=false once the queue is empty and the connection is past Open.
// It never blocks; callers that want a blocking writer loop should use
// Outbound instead.
func (c *Connection) Drain() (*protocol.Packet, bool) {
	select {
	case p, ok := <-c.txCh:
		return p, ok
	default:
		return nil, c.State() == Open
	}
}

// Outbound returns the connection's tx channel for a writer task to range
// over. Close closes it as soon as teardown begins; a writer ranging over it
// still receives the packets queued before that.
func (c *Connection) Outbound() <-chan *protocol.Packet {
	return c.txCh
}

// WriteWireBytes writes already-encoded frame bytes to the underlying
// net.Conn. It is the writer task's single point of contact with the
// socket, kept separate from Send so tests can drive the tx queue without a
// live connection.
func (c *Connection) WriteWireBytes(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// Encode is a convenience wrapper running packet through the connection's
// codec (and, when bound, its cipher) for the writer task.
func (c *Connection) Encode(p *protocol.Packet) ([]byte, error) {
	if c.cipher != nil {
		enc, err := c.cipher.Encrypt(p.Payload)
		if err != nil {
			return nil, err
		}
		p.Payload = enc
		p.Flags = protocol.SetFlag(p.Flags, protocol.FlagEncrypted)
	}
	return c.codec.Encode(p)
}

// Decrypt reverses a bound cipher's Encrypt for a decoded packet whose
// Flags carry FlagEncrypted.
func (c *Connection) Decrypt(p *protocol.Packet) error {
	if !protocol.HasFlag(p.Flags, protocol.FlagEncrypted) {
		return nil
	}
	if c.cipher == nil {
		return corerr.New(corerr.Forbidden, "encrypted packet on connection with no bound cipher")
	}
	dec, err := c.cipher.Decrypt(p.Payload)
	if err != nil {
		return err
	}
	p.Payload = dec
	return nil
}

// SignalDrained tells the connection its writer task has finished draining
// Outbound() after the channel closed. A Connection with no writer task
// consuming Outbound() relies solely on Close's drainDeadline instead.
func (c *Connection) SignalDrained() {
	c.drainOnce.Do(func() { close(c.drained) })
}

// Close idempotently begins teardown: Closing immediately, Closed once the
// tx queue has drained (signalled via SignalDrained) or the deadline
// elapses. It returns the first close error encountered, if any.
func (c *Connection) Close(reason string, drainDeadline time.Duration) error {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.transitionTo(Closing)
		close(c.txCh)
		c.closeMu.Unlock()

		select {
		case <-c.drained:
		case <-time.After(drainDeadline):
		}

		c.transitionTo(Closed)
		c.closeErr = c.conn.Close()
		c.emit(Event{Kind: EventDisconnected, Reason: reason})
	})
	return c.closeErr
}

// RemoteAddrString returns the cached remote address string captured at
// construction, surviving past Close (net.Conn.RemoteAddr is unsafe to call
// on a closed connection for some implementations).
func (c *Connection) RemoteAddrString() string {
	return c.RemoteAddr
}
