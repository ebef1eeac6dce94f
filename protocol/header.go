package protocol

import "time"

// Packet is a discrete message exchanged on the wire: the fixed 22-byte
// header plus an arbitrary payload bounded by the codec's MaxPacketSize.
//
// The named fields occupy the first 20 bytes; the remaining 2 bytes of the
// header are reserved (always zero on encode, ignored on decode) to hold
// the wire layout at its fixed 22-byte size.
//
// A Packet read from bytes satisfies CRC equality before it is ever handed
// to a dispatcher; one that doesn't is never constructed, only reported as
// a *corerr.Error of kind Integrity.
type Packet struct {
	Length    uint16 // total frame bytes incl. header; HeaderSize + len(Payload)
	OpCode    uint16 // application routing key
	Number    uint8  // sequence tag; timestamp mod 256 when zero at construction
	Type      uint8  // payload schema family, opaque to the core
	Flags     Flag   // bitfield (compressed, encrypted, ...)
	Priority  uint8  // scheduling hint
	Checksum  uint32 // CRC32 of payload bytes
	Timestamp int64  // unix milliseconds at construction
	Payload   []byte
}

// New builds a Packet, applying the documented zero-value substitutions:
// a zero Number becomes timestamp-mod-256, a zero Timestamp becomes the
// current wall clock. Length and Checksum are always (re)computed on Encode,
// never trusted from the caller.
func New(opCode uint16, typ, flags, priority uint8, payload []byte) *Packet {
	p := &Packet{
		OpCode:   opCode,
		Type:     typ,
		Flags:    Flag(flags),
		Priority: priority,
		Payload:  payload,
	}
	p.applyDefaults()
	return p
}

func (p *Packet) applyDefaults() {
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}
	if p.Number == 0 {
		p.Number = uint8(p.Timestamp % 256)
	}
}
