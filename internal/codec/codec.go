// Package codec converts samples to and from their wire representation.
//
// A sample travels as a single IEEE-754 float32 in little-endian byte order.
// A segment is nothing more than a run of encoded samples, so its byte length
// must always be a multiple of Width.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

// Width is the encoded size of one sample in bytes.
const Width = 4

// ErrMalformedSegment is returned when a byte run is not aligned to Width.
var ErrMalformedSegment = eris.New("malformed segment")

// Encode returns the wire representation of a single sample.
func Encode(sample float64) [Width]byte {
	var b [Width]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(sample)))
	return b
}

// Decode converts exactly Width bytes into a sample.
func Decode(b []byte) (float64, error) {
	if len(b) != Width {
		return 0, eris.Wrapf(ErrMalformedSegment, "sample needs %d bytes, got %d", Width, len(b))
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
}

// EncodeSegment appends the encoded samples to dst and returns the extended slice.
func EncodeSegment(dst []byte, samples []float64) []byte {
	if cap(dst)-len(dst) < len(samples)*Width {
		grown := make([]byte, len(dst), len(dst)+len(samples)*Width)
		copy(grown, dst)
		dst = grown
	}
	for _, s := range samples {
		b := Encode(s)
		dst = append(dst, b[:]...)
	}
	return dst
}

// DecodeSegment converts a byte run into samples. The input is not retained.
func DecodeSegment(b []byte) ([]float64, error) {
	if len(b)%Width != 0 {
		return nil, eris.Wrapf(ErrMalformedSegment, "%d bytes is not a multiple of %d", len(b), Width)
	}

	out := make([]float64, len(b)/Width)
	for i := range out {
		off := i * Width
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+Width])))
	}
	return out, nil
}
