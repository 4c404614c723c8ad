package dsp

import (
	"gonum.org/v1/gonum/floats"
)

// DefaultFactor is the number of raw samples collapsed into one max/min pair.
const DefaultFactor = 20

// Decimate reduces x to alternating max, min values, one pair per
// non-overlapping window of ds samples. The output has length 2*(len(x)/ds).
// A trailing partial window is dropped. x is not modified.
func Decimate(x []float64, ds int) []float64 {
	if ds <= 0 {
		return []float64{}
	}
	n := len(x) / ds
	out := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		win := x[i*ds : (i+1)*ds]
		out[2*i] = floats.Max(win)
		out[2*i+1] = floats.Min(win)
	}
	return out
}

// Decimator wraps Decimate with an optional carry-over of the partial window
// between calls. With CarryRemainder unset it behaves exactly like Decimate.
type Decimator struct {
	Factor         int
	CarryRemainder bool

	tail []float64
}

// NewDecimator returns a Decimator for the given window size.
func NewDecimator(factor int, carry bool) *Decimator {
	if factor <= 0 {
		factor = DefaultFactor
	}
	return &Decimator{Factor: factor, CarryRemainder: carry}
}

// Process decimates x, prefixed by any remainder kept from the previous call.
func (d *Decimator) Process(x []float64) []float64 {
	if !d.CarryRemainder {
		return Decimate(x, d.Factor)
	}

	joined := x
	if len(d.tail) > 0 {
		joined = make([]float64, 0, len(d.tail)+len(x))
		joined = append(joined, d.tail...)
		joined = append(joined, x...)
	}

	out := Decimate(joined, d.Factor)
	rem := len(joined) % d.Factor
	d.tail = append(d.tail[:0], joined[len(joined)-rem:]...)
	return out
}
