// Package listener implements the Listener/Dispatcher: it binds a local
// endpoint, accepts peer connections, enforces admission, and routes
// decoded packets to registered opcode handlers.
package listener

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pulsehub/pulsecore/admission"
	"github.com/pulsehub/pulsecore/arena"
	"github.com/pulsehub/pulsecore/cipher"
	"github.com/pulsehub/pulsecore/connection"
	"github.com/pulsehub/pulsecore/corelog"
	"github.com/pulsehub/pulsecore/corerr"
	"github.com/pulsehub/pulsecore/protocol"
	"github.com/pulsehub/pulsecore/stream"
)

// ActionKind discriminates what a handler wants done with its return value.
type ActionKind int

const (
	ActionNoReply ActionKind = iota
	ActionReply
	ActionClose
)

// Action is a handler's verdict on one dispatched packet.
type Action struct {
	Kind   ActionKind
	Reply  *protocol.Packet
	Reason string
}

// NoReply is the zero Action: send nothing, keep the connection open.
func NoReply() Action { return Action{Kind: ActionNoReply} }

// Reply builds an Action that enqueues packet on the connection's tx queue.
func Reply(packet *protocol.Packet) Action { return Action{Kind: ActionReply, Reply: packet} }

// Close builds an Action that tears the connection down after dispatch.
func Close(reason string) Action { return Action{Kind: ActionClose, Reason: reason} }

// HandlerFunc handles one decoded packet for a connection and returns the
// action the dispatcher should take.
type HandlerFunc func(conn *connection.Connection, packet *protocol.Packet) Action

// Config bundles the listener's bind address, connection limits, and the
// sub-configurations it hands down to the codec and each Connection.
type Config struct {
	Bind             string
	MaxConnections   int
	MaxPacketSize    int
	HeapThreshold    int
	ConnConfig       connection.Config
	ShutdownDeadline time.Duration
	CipherFactory    func(remoteAddr string) cipher.Cipher

	// BackpressureDrainDeadline bounds how long the read task stays paused
	// waiting for a connection's tx queue to drain back to its low-water
	// mark before the connection is closed with a Backpressure reason.
	BackpressureDrainDeadline time.Duration
}

// Listener accepts connections on Config.Bind, runs admission on each, and
// dispatches decoded packets by opcode.
type Listener struct {
	cfg       Config
	admission *admission.Store
	log       *corelog.Logger

	mu       sync.Mutex
	handlers map[uint16]HandlerFunc
	conns    map[string]*connection.Connection
	netL     net.Listener
	wg       sync.WaitGroup
}

// New builds a Listener. admissionStore may be nil, in which case every
// accepted connection is admitted unconditionally.
func New(cfg Config, admissionStore *admission.Store, log *corelog.Logger) *Listener {
	if cfg.ShutdownDeadline <= 0 {
		cfg.ShutdownDeadline = 5 * time.Second
	}
	if cfg.BackpressureDrainDeadline <= 0 {
		cfg.BackpressureDrainDeadline = 10 * time.Second
	}
	return &Listener{
		cfg:       cfg,
		admission: admissionStore,
		log:       log,
		handlers:  make(map[uint16]HandlerFunc),
		conns:     make(map[string]*connection.Connection),
	}
}

func (l *Listener) newCodec() *protocol.Codec {
	return protocol.NewCodec(l.cfg.MaxPacketSize, arena.New(l.cfg.HeapThreshold))
}

// Register installs handler for opcode. At most one handler per opcode;
// registering twice replaces the previous handler.
func (l *Listener) Register(opcode uint16, handler HandlerFunc) {
	l.mu.Lock()
	l.handlers[opcode] = handler
	l.mu.Unlock()
}

// Serve binds the configured address and runs the accept loop until ctx is
// cancelled or the listener is closed. It blocks until every spawned
// connection task has exited.
func (l *Listener) Serve(ctx context.Context) error {
	netL, err := net.Listen("tcp", l.cfg.Bind)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.netL = netL
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		netL.Close()
	}()

	l.log.Info("listener started", 0, corelog.String("bind", l.cfg.Bind))

	for {
		conn, err := netL.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				break
			}
			l.log.Warn("accept failed", 0, corelog.AddError(err))
			continue
		}
		l.mu.Lock()
		atCapacity := l.cfg.MaxConnections > 0 && len(l.conns) >= l.cfg.MaxConnections
		l.mu.Unlock()
		if atCapacity {
			conn.Close()
			continue
		}
		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}

	l.wg.Wait()
	return nil
}

// Shutdown forces every live connection closed and waits for their tasks to
// exit, for callers that want to stop outside of context cancellation.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	conns := make([]*connection.Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	netL := l.netL
	l.mu.Unlock()

	if netL != nil {
		netL.Close()
	}
	for _, c := range conns {
		c.Close("listener shutdown", l.cfg.ShutdownDeadline)
	}
	l.wg.Wait()
}

func (l *Listener) handleConnection(ctx context.Context, netConn net.Conn) {
	defer l.wg.Done()

	remoteIP := hostOf(netConn.RemoteAddr())
	if l.admission != nil {
		if err := l.admission.Check(remoteIP); err != nil {
			l.log.Debug("admission rejected", 0, corelog.String("remote", remoteIP), corelog.AddError(err))
			netConn.Close()
			return
		}
	}

	var ciph cipher.Cipher
	if l.cfg.CipherFactory != nil {
		ciph = l.cfg.CipherFactory(remoteIP)
	}

	codec := l.newCodec()
	conn := connection.New(netConn, codec, ciph, l.cfg.ConnConfig, l.onEvent)

	l.mu.Lock()
	l.conns[conn.ID.String()] = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn.ID.String())
		l.mu.Unlock()
	}()

	writerDone := make(chan struct{})
	go l.writerLoop(conn, writerDone)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.idleWatchdog(readCtx, conn)
	// Closing the connection on cancellation unblocks a Read in progress, so
	// the read loop below ends instead of waiting for the peer.
	go func() {
		<-readCtx.Done()
		conn.Close("listener shutdown", l.cfg.ShutdownDeadline)
	}()

	reader := stream.NewReader(codec)
	reader.ReadLoop(readCtx, netConn, func(p *protocol.Packet) {
		l.dispatch(conn, p)
		if conn.ShouldPauseReads() {
			l.pauseUntilResumed(readCtx, conn)
		}
	}, func(violation error) {
		conn.OnViolation(violation.Error())
		if corerr.Is(violation, corerr.Oversize) || corerr.Is(violation, corerr.ShortFrame) {
			conn.Close("framing fault: "+violation.Error(), l.cfg.ShutdownDeadline)
		}
	})

	conn.Close("read loop ended", l.cfg.ShutdownDeadline)
	<-writerDone
}

func (l *Listener) onEvent(ev connection.Event) {
	switch ev.Kind {
	case connection.EventConnected:
		l.log.Debug("connection opened", 0)
	case connection.EventDisconnected:
		l.log.Debug("connection closed", 0, corelog.String("reason", ev.Reason))
	case connection.EventProtocolViolation:
		l.log.Warn("protocol violation", 0, corelog.String("kind", ev.Reason))
	}
}

func (l *Listener) writerLoop(conn *connection.Connection, done chan struct{}) {
	defer close(done)
	defer conn.SignalDrained()
	for p := range conn.Outbound() {
		wire, err := conn.Encode(p)
		if err != nil {
			l.log.Warn("encode failed on writer loop", 0, corelog.AddError(err))
			continue
		}
		if err := conn.WriteWireBytes(wire); err != nil {
			return
		}
	}
}

func (l *Listener) idleWatchdog(ctx context.Context, conn *connection.Connection) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if conn.State() != connection.Open {
				return
			}
			if conn.IdleFor() > l.idleTimeout() {
				conn.Close("idle timeout", l.cfg.ShutdownDeadline)
				return
			}
		}
	}
}

func (l *Listener) idleTimeout() time.Duration {
	if l.cfg.ConnConfig.IdleTimeout <= 0 {
		return connection.DefaultConfig().IdleTimeout
	}
	return l.cfg.ConnConfig.IdleTimeout
}

// pauseUntilResumed blocks the calling read task while conn's tx queue sits
// at or above its high-water mark, polling for the low-water mark the same
// way idleWatchdog polls for idleness. If the queue hasn't drained by
// BackpressureDrainDeadline, the connection is closed with a Backpressure
// reason rather than left to spin forever against a peer that never reads.
func (l *Listener) pauseUntilResumed(ctx context.Context, conn *connection.Connection) {
	deadline := time.Now().Add(l.cfg.BackpressureDrainDeadline)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if conn.ShouldResumeReads() || conn.State() != connection.Open {
			return
		}
		if time.Now().After(deadline) {
			conn.Close("backpressure: tx queue did not drain", l.cfg.ShutdownDeadline)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (l *Listener) dispatch(conn *connection.Connection, p *protocol.Packet) {
	conn.OnReceive(p)
	if err := conn.Decrypt(p); err != nil {
		conn.OnViolation("decrypt_failed")
		return
	}

	l.mu.Lock()
	handler, ok := l.handlers[p.OpCode]
	l.mu.Unlock()
	if !ok {
		conn.OnViolation("unknown_opcode")
		return
	}

	action := handler(conn, p)
	switch action.Kind {
	case ActionReply:
		if err := conn.Send(action.Reply); err != nil {
			conn.OnViolation("backpressure")
			conn.Close("backpressure: "+err.Error(), l.cfg.ShutdownDeadline)
		}
	case ActionClose:
		conn.Close(action.Reason, l.cfg.ShutdownDeadline)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
