package formatter

import (
	"github.com/pulsehub/pulsecore/corerr"
)

// NullStringSentinel is the 16-bit length value that denotes a null string
// instead of a real byte count.
const NullStringSentinel = 0xFFFF

// DefaultMaxString is the default ceiling on an encoded string's UTF-8 byte
// length. Lengths at or above NullStringSentinel are never valid regardless
// of this ceiling, since that value is reserved for null.
const DefaultMaxString = 65534

// StringCodec builds a string Codec enforcing maxLen (<=0 selects
// DefaultMaxString). A Go string can't represent SQL-null, so this codec
// decodes the sentinel to "", the same value as an empty string; it does not
// distinguish null from empty.
func StringCodec(maxLen int) Codec[string] {
	if maxLen <= 0 {
		maxLen = DefaultMaxString
	}
	return Codec[string]{
		Serialize: func(w *Writer, v string) error {
			return writeString(w, v, maxLen)
		},
		Deserialize: func(r *Reader) (string, error) {
			s, _, err := readString(r, maxLen)
			return s, err
		},
	}
}

func writeString(w *Writer, v string, maxLen int) error {
	b := []byte(v)
	if len(b) >= NullStringSentinel {
		return corerr.New(corerr.SerializationLimit, "string exceeds sentinel-reserved length")
	}
	if len(b) > maxLen {
		return corerr.New(corerr.SerializationLimit, "string exceeds configured MaxString")
	}
	w.WriteUint16(uint16(len(b)))
	w.WriteRaw(b)
	return nil
}

// readString returns the decoded string, whether it was present (false for
// the null sentinel), and any error.
func readString(r *Reader, maxLen int) (string, bool, error) {
	n, err := r.ReadUint16()
	if err != nil {
		return "", false, err
	}
	if n == NullStringSentinel {
		return "", false, nil
	}
	if int(n) > maxLen {
		return "", false, corerr.New(corerr.SerializationLimit, "decoded string exceeds configured MaxString")
	}
	b, err := r.ReadRaw(int(n))
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

// RegisterStrings installs the string formatter with the given MaxString
// ceiling (<=0 selects DefaultMaxString).
func RegisterStrings(reg *Registry, maxLen int) {
	Register(reg, StringCodec(maxLen))
}
