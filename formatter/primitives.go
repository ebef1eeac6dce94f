package formatter

import "math"

func registerPrimitives(reg *Registry) {
	Register(reg, Codec[bool]{
		Serialize: func(w *Writer, v bool) error {
			if v {
				w.WriteUint8(1)
			} else {
				w.WriteUint8(0)
			}
			return nil
		},
		Deserialize: func(r *Reader) (bool, error) {
			v, err := r.ReadUint8()
			return v != 0, err
		},
	})

	Register(reg, Codec[int8]{
		Serialize:   func(w *Writer, v int8) error { w.WriteUint8(uint8(v)); return nil },
		Deserialize: func(r *Reader) (int8, error) { v, err := r.ReadUint8(); return int8(v), err },
	})
	Register(reg, Codec[uint8]{
		Serialize:   func(w *Writer, v uint8) error { w.WriteUint8(v); return nil },
		Deserialize: func(r *Reader) (uint8, error) { return r.ReadUint8() },
	})

	Register(reg, Codec[int16]{
		Serialize:   func(w *Writer, v int16) error { w.WriteUint16(uint16(v)); return nil },
		Deserialize: func(r *Reader) (int16, error) { v, err := r.ReadUint16(); return int16(v), err },
	})
	Register(reg, Codec[uint16]{
		Serialize:   func(w *Writer, v uint16) error { w.WriteUint16(v); return nil },
		Deserialize: func(r *Reader) (uint16, error) { return r.ReadUint16() },
	})

	Register(reg, Codec[int32]{
		Serialize:   func(w *Writer, v int32) error { w.WriteUint32(uint32(v)); return nil },
		Deserialize: func(r *Reader) (int32, error) { v, err := r.ReadUint32(); return int32(v), err },
	})
	Register(reg, Codec[uint32]{
		Serialize:   func(w *Writer, v uint32) error { w.WriteUint32(v); return nil },
		Deserialize: func(r *Reader) (uint32, error) { return r.ReadUint32() },
	})

	Register(reg, Codec[int64]{
		Serialize:   func(w *Writer, v int64) error { w.WriteUint64(uint64(v)); return nil },
		Deserialize: func(r *Reader) (int64, error) { v, err := r.ReadUint64(); return int64(v), err },
	})
	Register(reg, Codec[uint64]{
		Serialize:   func(w *Writer, v uint64) error { w.WriteUint64(v); return nil },
		Deserialize: func(r *Reader) (uint64, error) { return r.ReadUint64() },
	})

	Register(reg, Codec[float32]{
		Serialize: func(w *Writer, v float32) error { w.WriteUint32(math.Float32bits(v)); return nil },
		Deserialize: func(r *Reader) (float32, error) {
			v, err := r.ReadUint32()
			return math.Float32frombits(v), err
		},
	})
	Register(reg, Codec[float64]{
		Serialize: func(w *Writer, v float64) error { w.WriteUint64(math.Float64bits(v)); return nil },
		Deserialize: func(r *Reader) (float64, error) {
			v, err := r.ReadUint64()
			return math.Float64frombits(v), err
		},
	})
}
