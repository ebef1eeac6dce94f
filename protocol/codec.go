package protocol

import (
	"encoding/binary"
	"time"

	"github.com/pulsehub/pulsecore/arena"
	"github.com/pulsehub/pulsecore/corerr"
)

// Codec encodes and decodes packets against the fixed 22-byte header. It
// holds the two pieces of policy the wire format depends on: the maximum
// frame size and the arena payloads are acquired from.
type Codec struct {
	MaxPacketSize int
	Arena         *arena.Arena
}

// NewCodec builds a Codec. maxPacketSize <= 0 selects DefaultMaxPacketSize.
func NewCodec(maxPacketSize int, a *arena.Arena) *Codec {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	if a == nil {
		a = arena.New(0)
	}
	return &Codec{MaxPacketSize: maxPacketSize, Arena: a}
}

// Encode writes the 22-byte header followed by the payload, always
// recomputing Length and Checksum from the packet's current payload rather
// than trusting whatever the caller left in those fields.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	p.applyDefaults()

	total := HeaderSize + len(p.Payload)
	if total > c.MaxPacketSize {
		return nil, corerr.New(corerr.Oversize, "encoded frame exceeds MaxPacketSize")
	}
	p.Length = uint16(total)
	p.Checksum = Checksum(p.Payload)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], p.Length)
	binary.LittleEndian.PutUint16(buf[2:4], p.OpCode)
	buf[4] = p.Number
	buf[5] = p.Type
	buf[6] = byte(p.Flags)
	buf[7] = p.Priority
	binary.LittleEndian.PutUint32(buf[8:12], p.Checksum)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(p.Timestamp))
	// buf[20:22] is the reserved tail of the header; left zero.
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Decode parses one complete frame out of data (len(data) must be at least
// HeaderSize and at least data's own declared Length). The CRC is always
// recomputed from the payload bytes and compared to the header's Checksum;
// it is never trusted from the wire for routing decisions.
func (c *Codec) Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, corerr.New(corerr.ShortFrame, "frame shorter than header")
	}

	length := binary.LittleEndian.Uint16(data[0:2])
	if int(length) < HeaderSize {
		return nil, corerr.New(corerr.ShortFrame, "declared length below header size")
	}
	if len(data) < int(length) {
		return nil, corerr.New(corerr.ShortFrame, "buffer shorter than declared length")
	}
	if int(length) > c.MaxPacketSize {
		return nil, corerr.New(corerr.Oversize, "declared length exceeds MaxPacketSize")
	}

	p := &Packet{
		Length:   length,
		OpCode:   binary.LittleEndian.Uint16(data[2:4]),
		Number:   data[4],
		Type:     data[5],
		Flags:    Flag(data[6]),
		Priority: data[7],
		Checksum: binary.LittleEndian.Uint32(data[8:12]),
	}
	p.Timestamp = int64(binary.LittleEndian.Uint64(data[12:20]))

	payloadSrc := data[HeaderSize:length]
	if len(payloadSrc) == 0 {
		p.Payload = nil
	} else {
		p.Payload = c.Arena.Acquire(len(payloadSrc))
		copy(p.Payload, payloadSrc)
	}

	if Checksum(p.Payload) != p.Checksum {
		c.Arena.Release(p.Payload)
		return nil, corerr.New(corerr.Integrity, "crc32 mismatch")
	}

	// Step 4 of the decode algorithm: a zero Number or Timestamp on the wire
	// is substituted the same way a freshly-constructed Packet would be.
	if p.Number == 0 {
		p.Number = uint8(p.Timestamp % 256)
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
		if p.Number == 0 {
			p.Number = uint8(p.Timestamp % 256)
		}
	}

	return p, nil
}

// Release returns a decoded packet's payload buffer to the arena. Callers
// that keep a Packet alive past its handler (e.g. to queue a reply) must not
// call Release until they are done with Payload.
func (c *Codec) Release(p *Packet) {
	if p == nil {
		return
	}
	c.Arena.Release(p.Payload)
}
