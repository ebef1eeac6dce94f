package formatter

import (
	"bytes"
	"encoding/binary"
)

// Writer accumulates little-endian encoded field bytes. It never fails; any
// allocation failure from the underlying bytes.Buffer panics, matching the
// rest of the core's "out-of-memory is fatal" policy.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter builds an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// WriteRaw appends b verbatim.
func (w *Writer) WriteRaw(b []byte) { w.buf.Write(b) }

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

// WriteUint16 appends v little-endian.
func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint32 appends v little-endian.
func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint64 appends v little-endian.
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Reader consumes little-endian encoded field bytes from a fixed slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader builds a Reader over data.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Remaining reports how many unread bytes are left.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// ErrShortRead is returned by any Read* call that runs past the end of data.
var ErrShortRead = errShortRead{}

type errShortRead struct{}

func (errShortRead) Error() string { return "formatter: short read" }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrShortRead
	}
	return nil
}

// ReadRaw returns the next n bytes verbatim.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}
