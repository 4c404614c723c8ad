package dsp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ChannelStats summarizes a window of samples for telemetry.
type ChannelStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	RMS  float64 `json:"rms"`
}

// Stats computes summary statistics. An empty input yields the zero value.
func Stats(x []float64) ChannelStats {
	if len(x) == 0 {
		return ChannelStats{}
	}
	return ChannelStats{
		Min:  floats.Min(x),
		Max:  floats.Max(x),
		Mean: stat.Mean(x, nil),
		RMS:  math.Sqrt(floats.Dot(x, x) / float64(len(x))),
	}
}
