package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pulsehub/pulsecore/admission"
	"github.com/pulsehub/pulsecore/connection"
	"github.com/pulsehub/pulsecore/corelog"
	"github.com/pulsehub/pulsecore/protocol"
)

func freeBindAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving a free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func newTestListener(t *testing.T, admissionStore *admission.Store) (*Listener, string) {
	t.Helper()
	bind := freeBindAddr(t)
	cfg := Config{
		Bind:             bind,
		MaxPacketSize:    protocol.DefaultMaxPacketSize,
		ConnConfig:       connection.Config{TxHighWater: 16, TxLowWater: 4, IdleTimeout: time.Minute},
		ShutdownDeadline: time.Second,
	}
	return New(cfg, admissionStore, corelog.New(corelog.Config{Level: corelog.ERROR})), bind
}

func TestEchoHandlerRoundTrip(t *testing.T) {
	l, bind := newTestListener(t, nil)
	received := make(chan *protocol.Packet, 1)
	l.Register(42, func(conn *connection.Connection, p *protocol.Packet) Action {
		received <- p
		return Reply(protocol.New(43, 0, 0, 0, []byte("ack")))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	waitForListening(t, bind)

	clientConn, err := net.Dial("tcp", bind)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	codec := protocol.NewCodec(protocol.DefaultMaxPacketSize, nil)
	wire, err := codec.Encode(protocol.New(42, 0, 0, 0, []byte("ping")))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := clientConn.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case p := <-received:
		if string(p.Payload) != "ping" {
			t.Fatalf("unexpected payload: %q", p.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler to receive the packet")
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.HeaderSize+3)
	n, err := readFull(clientConn, buf)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	reply, err := codec.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.OpCode != 43 || string(reply.Payload) != "ack" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	cancel()
	<-done
}

func TestAdmissionRejectionClosesImmediately(t *testing.T) {
	store := admission.New(time.Minute)
	_ = store.AddCriterion(rejectAll{})
	l, bind := newTestListener(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Serve(ctx)
		close(done)
	}()
	waitForListening(t, bind)

	clientConn, err := net.Dial("tcp", bind)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = clientConn.Read(buf)
	if err == nil {
		t.Fatal("expected the rejected connection to be closed by the server")
	}

	cancel()
	<-done
}

func TestDispatchClosesConnectionWhenReplyQueueIsFull(t *testing.T) {
	bind := freeBindAddr(t)
	l := New(Config{
		Bind:                      bind,
		MaxPacketSize:             protocol.DefaultMaxPacketSize,
		ConnConfig:                connection.Config{TxHighWater: 1, TxLowWater: 0, IdleTimeout: time.Minute},
		ShutdownDeadline:          50 * time.Millisecond,
		BackpressureDrainDeadline: 50 * time.Millisecond,
	}, nil, corelog.New(corelog.Config{Level: corelog.ERROR}))
	l.Register(1, func(conn *connection.Connection, p *protocol.Packet) Action {
		return Reply(protocol.New(2, 0, 0, 0, nil))
	})

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	codec := protocol.NewCodec(protocol.DefaultMaxPacketSize, nil)
	conn := connection.New(serverSide, codec, nil, l.cfg.ConnConfig, nil)

	// No writer task drains conn's tx queue, so the first reply fills the
	// single-slot queue and the second must observe it full.
	l.dispatch(conn, protocol.New(1, 0, 0, 0, nil))
	if conn.State() != connection.Open {
		t.Fatalf("expected connection to remain open after the first reply, got %v", conn.State())
	}

	l.dispatch(conn, protocol.New(1, 0, 0, 0, nil))
	if conn.State() != connection.Closed {
		t.Fatalf("expected the connection to close once the reply queue was full, got %v", conn.State())
	}
}

func TestPauseUntilResumedClosesOnDrainDeadline(t *testing.T) {
	bind := freeBindAddr(t)
	l := New(Config{
		Bind:                      bind,
		ConnConfig:                connection.Config{TxHighWater: 1, TxLowWater: 0, IdleTimeout: time.Minute},
		ShutdownDeadline:          50 * time.Millisecond,
		BackpressureDrainDeadline: 120 * time.Millisecond,
	}, nil, corelog.New(corelog.Config{Level: corelog.ERROR}))

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	codec := protocol.NewCodec(protocol.DefaultMaxPacketSize, nil)
	conn := connection.New(serverSide, codec, nil, l.cfg.ConnConfig, nil)
	if err := conn.Send(protocol.New(2, 0, 0, 0, nil)); err != nil {
		t.Fatalf("filling the queue: %v", err)
	}

	l.pauseUntilResumed(context.Background(), conn)
	if conn.State() != connection.Closed {
		t.Fatalf("expected pauseUntilResumed to close a connection that never drains, got %v", conn.State())
	}
}

type rejectAll struct{}

func (rejectAll) Validate(address string) (bool, error) { return true, nil }
func (rejectAll) Clear(address string)                  {}
func (rejectAll) PurgeStale()                            {}

func waitForListening(t *testing.T, bind string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", bind, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("listener never became reachable on %s", bind)
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
