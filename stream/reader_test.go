package stream

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/pulsehub/pulsecore/arena"
	"github.com/pulsehub/pulsecore/corerr"
	"github.com/pulsehub/pulsecore/protocol"
)

func newTestCodec() *protocol.Codec {
	return protocol.NewCodec(protocol.DefaultMaxPacketSize, arena.New(0))
}

func encodeOrFatal(t *testing.T, codec *protocol.Codec, p *protocol.Packet) []byte {
	t.Helper()
	buf, err := codec.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf
}

func TestReaderYieldsSingleFrameFedWhole(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	wire := encodeOrFatal(t, codec, protocol.New(7, 1, 0, 0, []byte("hello")))

	r.Feed(wire)
	p, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OpCode != 7 || string(p.Payload) != "hello" {
		t.Fatalf("unexpected packet: %+v", p)
	}
	if _, err := r.Next(); err != ErrNeedMore {
		t.Fatalf("expected ErrNeedMore on empty buffer, got %v", err)
	}
}

func TestReaderAssemblesFrameAcrossFragments(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	wire := encodeOrFatal(t, codec, protocol.New(1, 0, 0, 0, []byte("fragmented payload")))

	for i := 0; i < len(wire); i++ {
		r.Feed(wire[i : i+1])
		p, err := r.Next()
		if err == ErrNeedMore {
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(p.Payload) != "fragmented payload" {
			t.Fatalf("unexpected payload: %q", p.Payload)
		}
		return
	}
	t.Fatal("reader never yielded a complete frame")
}

func TestReaderYieldsTwoFramesBackToBack(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	first := encodeOrFatal(t, codec, protocol.New(1, 0, 0, 0, []byte("a")))
	second := encodeOrFatal(t, codec, protocol.New(2, 0, 0, 0, []byte("bb")))

	r.Feed(append(append([]byte{}, first...), second...))

	p1, err := r.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if p1.OpCode != 1 {
		t.Fatalf("expected opcode 1, got %d", p1.OpCode)
	}

	p2, err := r.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if p2.OpCode != 2 {
		t.Fatalf("expected opcode 2, got %d", p2.OpCode)
	}

	if _, err := r.Next(); err != ErrNeedMore {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
}

func TestReaderOversizeDeclaredLength(t *testing.T) {
	codec := protocol.NewCodec(32, arena.New(0))
	r := NewReader(codec)

	frame := make([]byte, protocol.HeaderSize)
	frame[0] = 0xFF
	frame[1] = 0xFF // declared Length far exceeds MaxPacketSize
	r.Feed(frame)

	_, err := r.Next()
	if !corerr.Is(err, corerr.Oversize) {
		t.Fatalf("expected Oversize error, got %v", err)
	}
}

func TestReaderSubHeaderDeclaredLength(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)

	r.Feed([]byte{0x05, 0x00}) // declared Length (5) is below HeaderSize

	_, err := r.Next()
	if !corerr.Is(err, corerr.ShortFrame) {
		t.Fatalf("expected ShortFrame error, got %v", err)
	}
	if r.Pending() != 2 {
		t.Fatalf("expected the buffer to remain untouched, got %d pending bytes", r.Pending())
	}
}

func TestReadLoopClosesOnSubHeaderDeclaredLength(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)

	var violations []error
	err := r.ReadLoop(context.Background(), bytes.NewReader([]byte{0x05, 0x00}), func(*protocol.Packet) {
		t.Fatal("expected no packet to be delivered")
	}, func(v error) {
		violations = append(violations, v)
	})

	if !corerr.Is(err, corerr.ShortFrame) {
		t.Fatalf("expected ReadLoop to terminate with ShortFrame, got %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation, got %d", len(violations))
	}
}

func TestReaderCorruptChecksumDiscardsFrameAndResyncs(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	good := encodeOrFatal(t, codec, protocol.New(1, 0, 0, 0, []byte("intact")))
	corrupt := encodeOrFatal(t, codec, protocol.New(2, 0, 0, 0, []byte("corrupted")))
	corrupt[len(corrupt)-1] ^= 0xFF // flip last payload byte without updating checksum

	r.Feed(corrupt)
	r.Feed(good)

	_, err := r.Next()
	if !corerr.Is(err, corerr.Integrity) {
		t.Fatalf("expected Integrity error, got %v", err)
	}

	p, err := r.Next()
	if err != nil {
		t.Fatalf("expected the following frame to decode cleanly, got %v", err)
	}
	if p.OpCode != 1 {
		t.Fatalf("expected resynced opcode 1, got %d", p.OpCode)
	}
}

func TestReadLoopDeliversFramesAndStopsOnEOF(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	wire := encodeOrFatal(t, codec, protocol.New(9, 0, 0, 0, []byte("loop")))

	var delivered []*protocol.Packet
	err := r.ReadLoop(context.Background(), bytes.NewReader(wire), func(p *protocol.Packet) {
		delivered = append(delivered, p)
	}, func(error) {})

	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(delivered) != 1 || delivered[0].OpCode != 9 {
		t.Fatalf("unexpected delivered packets: %+v", delivered)
	}
}

func TestReadLoopStopsOnCancellation(t *testing.T) {
	codec := newTestCodec()
	r := NewReader(codec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.ReadLoop(ctx, bytes.NewReader(nil), func(*protocol.Packet) {}, func(error) {})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
