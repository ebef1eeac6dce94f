package connection

import (
	"net"
	"testing"
	"time"

	"github.com/pulsehub/pulsecore/arena"
	"github.com/pulsehub/pulsecore/protocol"
)

func newTestConnection(t *testing.T, cfg Config, onEvent func(Event)) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })
	codec := protocol.NewCodec(protocol.DefaultMaxPacketSize, arena.New(0))
	return New(serverSide, codec, nil, cfg, onEvent), clientSide
}

func TestNewConnectionStartsOpenAndEmitsConnected(t *testing.T) {
	var events []Event
	conn, _ := newTestConnection(t, DefaultConfig(), func(ev Event) { events = append(events, ev) })
	if conn.State() != Open {
		t.Fatalf("expected Open, got %v", conn.State())
	}
	if len(events) != 1 || events[0].Kind != EventConnected {
		t.Fatalf("expected a single EventConnected, got %+v", events)
	}
}

func TestSendEnqueuesUntilHighWater(t *testing.T) {
	cfg := Config{TxHighWater: 2, TxLowWater: 1, IdleTimeout: time.Minute}
	conn, _ := newTestConnection(t, cfg, nil)

	if err := conn.Send(protocol.New(1, 0, 0, 0, nil)); err != nil {
		t.Fatalf("send 1: %v", err)
	}
	if err := conn.Send(protocol.New(2, 0, 0, 0, nil)); err != nil {
		t.Fatalf("send 2: %v", err)
	}
	if err := conn.Send(protocol.New(3, 0, 0, 0, nil)); err == nil {
		t.Fatal("expected third send to fail with backpressure")
	}
	if !conn.ShouldPauseReads() {
		t.Fatal("expected ShouldPauseReads once at high-water mark")
	}
}

func TestDrainThenResumeReads(t *testing.T) {
	cfg := Config{TxHighWater: 2, TxLowWater: 1, IdleTimeout: time.Minute}
	conn, _ := newTestConnection(t, cfg, nil)
	_ = conn.Send(protocol.New(1, 0, 0, 0, nil))
	_ = conn.Send(protocol.New(2, 0, 0, 0, nil))

	if conn.ShouldResumeReads() {
		t.Fatal("should not resume while at high-water mark")
	}
	p, ok := conn.Drain()
	if !ok || p.OpCode != 1 {
		t.Fatalf("expected first enqueued packet, got %+v ok=%v", p, ok)
	}
	if !conn.ShouldResumeReads() {
		t.Fatal("expected ShouldResumeReads once drained to low-water mark")
	}
}

func TestCloseIsIdempotentAndTransitionsMonotonically(t *testing.T) {
	var events []Event
	conn, _ := newTestConnection(t, DefaultConfig(), func(ev Event) { events = append(events, ev) })

	if err := conn.Close("peer reset", 50*time.Millisecond); err != nil {
		t.Fatalf("close: %v", err)
	}
	if conn.State() != Closed {
		t.Fatalf("expected Closed, got %v", conn.State())
	}
	if err := conn.Close("second reason", 50*time.Millisecond); err != nil {
		t.Fatalf("second close: %v", err)
	}

	sawDisconnected := false
	for _, ev := range events {
		if ev.Kind == EventDisconnected {
			sawDisconnected = true
			if ev.Reason != "peer reset" {
				t.Fatalf("expected first close reason to win, got %q", ev.Reason)
			}
		}
	}
	if !sawDisconnected {
		t.Fatal("expected an EventDisconnected")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	conn, _ := newTestConnection(t, DefaultConfig(), nil)
	_ = conn.Close("done", 10*time.Millisecond)
	if err := conn.Send(protocol.New(1, 0, 0, 0, nil)); err == nil {
		t.Fatal("expected send on a closed connection to fail")
	}
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	conn, _ := newTestConnection(t, DefaultConfig(), nil)
	before := conn.LastActivity()
	time.Sleep(2 * time.Millisecond)
	conn.OnReceive(protocol.New(1, 0, 0, 0, nil))
	if !conn.LastActivity().After(before) {
		t.Fatal("expected OnReceive to advance last-activity")
	}
}
