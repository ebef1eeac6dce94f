// Package stream implements the Packet Stream Reader: it consumes a byte
// source that yields arbitrarily fragmented chunks and produces a sequence
// of complete, codec-validated frames.
package stream

import (
	"context"
	"io"

	"github.com/pulsehub/pulsecore/corerr"
	"github.com/pulsehub/pulsecore/protocol"
)

// DefaultInitialBufferSize is the starting capacity of a Reader's growable
// buffer; it expands as larger frames demand it.
const DefaultInitialBufferSize = 4096

// Source is the byte source a Reader pulls fragments from. A net.Conn
// satisfies it directly.
type Source interface {
	Read(p []byte) (n int, err error)
}

// Reader holds one connection's receive buffer and turns the chunks handed
// to it via Feed into complete packets via Next. State lives entirely in the
// buffer, so the reader is restartable across suspensions: a caller can call
// Next, get ErrNeedMore, go read more bytes from the network, Feed them in,
// and call Next again.
type Reader struct {
	codec *protocol.Codec
	buf   []byte
}

// NewReader builds a Reader bound to codec. codec determines MaxPacketSize
// and the arena payloads are decoded into.
func NewReader(codec *protocol.Codec) *Reader {
	return &Reader{
		codec: codec,
		buf:   make([]byte, 0, DefaultInitialBufferSize),
	}
}

// Feed appends freshly-read bytes to the reader's buffer.
func (r *Reader) Feed(chunk []byte) {
	r.buf = append(r.buf, chunk...)
}

// ErrNeedMore is returned by Next when the buffer doesn't yet hold a
// complete frame; the caller should read more bytes from its source, Feed
// them in, and call Next again.
var ErrNeedMore = corerr.New(corerr.ShortFrame, "need more bytes")

// Next attempts to decode one complete frame from the buffer (steps 2-6 of
// the stream algorithm). It returns ErrNeedMore when the buffer is too short
// to tell, a *corerr.Error of kind Oversize when the declared Length exceeds
// MaxPacketSize, or of kind ShortFrame when the declared Length is below
// HeaderSize, or the decoded Packet on success. Both the Oversize and
// sub-header-Length cases leave the buffer untouched and must close the
// connection (per step 3) rather than be retried. On any other decode
// failure the frame is discarded up to its own declared Length before the
// error is returned, so the stream resyncs instead of byte-scanning.
func (r *Reader) Next() (*protocol.Packet, error) {
	if len(r.buf) < 2 {
		return nil, ErrNeedMore
	}

	length := int(r.buf[0]) | int(r.buf[1])<<8
	if length < protocol.HeaderSize {
		// A declared Length this short can never grow into a valid frame no
		// matter how many more bytes arrive, so there is nothing to advance
		// past: the caller must close the connection rather than retry Next.
		return nil, corerr.New(corerr.ShortFrame, "declared length below header size")
	}
	if length > r.codec.MaxPacketSize {
		return nil, corerr.New(corerr.Oversize, "declared length exceeds MaxPacketSize")
	}
	if len(r.buf) < length {
		return nil, ErrNeedMore
	}

	frame := r.buf[:length]
	p, err := r.codec.Decode(frame)
	r.advance(length)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reader) advance(n int) {
	remaining := len(r.buf) - n
	copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
}

// Pending reports how many unconsumed bytes sit in the buffer.
func (r *Reader) Pending() int {
	return len(r.buf)
}

// ReadLoop pulls chunks from src until ctx is cancelled, src returns an
// error (including io.EOF on peer disconnect), or a framing fault (oversize
// or sub-header declared Length) occurs; an integrity failure is reported
// and the loop goes on with the next frame. It invokes onPacket for every complete frame and onViolation for every
// protocol error (oversize, integrity, short-frame-after-data). It returns
// the terminating error; io.EOF signals a clean peer close.
//
// Cancellation unwinds the loop without flushing any partial frame still
// sitting in the buffer, matching the reader's documented discard-on-cancel
// behavior.
func (r *Reader) ReadLoop(ctx context.Context, src Source, onPacket func(*protocol.Packet), onViolation func(error)) error {
	chunk := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(chunk)
		if n > 0 {
			r.Feed(chunk[:n])
			for {
				p, derr := r.Next()
				if derr == ErrNeedMore {
					break
				}
				if derr != nil {
					// Oversize and a declared Length below HeaderSize are both
					// terminal: neither advances the buffer, so retrying Next
					// against the same bytes would repeat the same error
					// forever. Every other decode failure has already
					// advanced past its own frame via advance(length), so the
					// loop can safely resync instead of closing.
					if corerr.Is(derr, corerr.Oversize) || corerr.Is(derr, corerr.ShortFrame) {
						onViolation(derr)
						return derr
					}
					onViolation(derr)
					continue
				}
				onPacket(p)
			}
		}
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
	}
}
