package formatter

import (
	"reflect"

	"github.com/pulsehub/pulsecore/corerr"
)

// Codec is the (serialize, deserialize) pair the registry stores for one
// type. It is boxed as `any` inside the registry and recovered with a type
// assertion by the generic Get/Register wrappers below, since a Go map
// cannot be keyed by a type parameter directly.
type Codec[T any] struct {
	Serialize   func(w *Writer, v T) error
	Deserialize func(r *Reader) (T, error)
}

// Registry resolves a Codec for a type at serialization time with O(1)
// lookup, keyed by reflect.Type. A zero Registry has no entry map, so
// Register on it panics; NewRegistry allocates the map and pre-registers
// every primitive formatter.
type Registry struct {
	entries map[reflect.Type]any
}

// NewRegistry builds a Registry with every primitive formatter already
// registered (integers signed and unsigned at every width, both float
// widths, and bool).
func NewRegistry() *Registry {
	reg := &Registry{entries: make(map[reflect.Type]any)}
	registerPrimitives(reg)
	return reg
}

// Register installs the Codec for T. Registering the same type twice
// replaces the previous entry; the registry itself carries no lock
// discipline of its own, unlike the admission store's criterion chain.
func Register[T any](reg *Registry, codec Codec[T]) {
	var zero T
	reg.entries[reflect.TypeOf(zero)] = codec
}

// RegisterNamed installs the Codec for T keyed by an explicit reflect.Type.
// Get resolves entries by reflect.TypeOf of T's zero value, so an entry
// installed here is found by Get[T] only when typ equals that type.
func RegisterNamed[T any](reg *Registry, typ reflect.Type, codec Codec[T]) {
	reg.entries[typ] = codec
}

// Get resolves the Codec for T, failing with corerr.UnregisteredType if T
// was never registered.
func Get[T any](reg *Registry) (Codec[T], error) {
	var zero T
	raw, ok := reg.entries[reflect.TypeOf(zero)]
	if !ok {
		return Codec[T]{}, corerr.New(corerr.UnregisteredType, reflect.TypeOf(zero).String())
	}
	codec, ok := raw.(Codec[T])
	if !ok {
		return Codec[T]{}, corerr.New(corerr.UnregisteredType, reflect.TypeOf(zero).String())
	}
	return codec, nil
}

// SerializeValue resolves T's Codec and serializes v in one call.
func SerializeValue[T any](reg *Registry, w *Writer, v T) error {
	codec, err := Get[T](reg)
	if err != nil {
		return err
	}
	return codec.Serialize(w, v)
}

// DeserializeValue resolves T's Codec and deserializes one value of T.
func DeserializeValue[T any](reg *Registry, r *Reader) (T, error) {
	codec, err := Get[T](reg)
	if err != nil {
		var zero T
		return zero, err
	}
	return codec.Deserialize(r)
}
