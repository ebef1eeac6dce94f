package formatter

import "github.com/pulsehub/pulsecore/corerr"

// Nullable wraps a value type with present/absent semantics, distinct from
// the string formatter's own sentinel-based nullability.
type Nullable[T any] struct {
	Value   T
	Present bool
}

// Some builds a present Nullable.
func Some[T any](v T) Nullable[T] { return Nullable[T]{Value: v, Present: true} }

// None builds an absent Nullable of T.
func None[T any]() Nullable[T] { return Nullable[T]{} }

const (
	nullableAbsent  = 0
	nullablePresent = 1
)

// NullableCodec builds a Codec[Nullable[T]] from an inner Codec[T]: byte 0
// for absent, byte 1 followed by the inner encoding for present. Any other
// flag byte on decode fails with corerr.InvalidNullable.
func NullableCodec[T any](inner Codec[T]) Codec[Nullable[T]] {
	return Codec[Nullable[T]]{
		Serialize: func(w *Writer, v Nullable[T]) error {
			if !v.Present {
				w.WriteUint8(nullableAbsent)
				return nil
			}
			w.WriteUint8(nullablePresent)
			return inner.Serialize(w, v.Value)
		},
		Deserialize: func(r *Reader) (Nullable[T], error) {
			flag, err := r.ReadUint8()
			if err != nil {
				return Nullable[T]{}, err
			}
			switch flag {
			case nullableAbsent:
				return Nullable[T]{}, nil
			case nullablePresent:
				v, err := inner.Deserialize(r)
				if err != nil {
					return Nullable[T]{}, err
				}
				return Nullable[T]{Value: v, Present: true}, nil
			default:
				return Nullable[T]{}, corerr.New(corerr.InvalidNullable, "unrecognized nullable flag byte")
			}
		},
	}
}

// RegisterNullable installs Codec[Nullable[T]] built from T's already
// registered Codec.
func RegisterNullable[T any](reg *Registry) error {
	inner, err := Get[T](reg)
	if err != nil {
		return err
	}
	Register(reg, NullableCodec(inner))
	return nil
}
