package telemetry

import (
	"time"

	"github.com/rjboer/meaviz/internal/mea"
	"github.com/rjboer/meaviz/internal/watchdog"
)

// Reporter receives display refreshes and lag notices from the consumer pipeline.
type Reporter interface {
	ReportFrame(frame Frame)
	ReportLag(ev watchdog.LagEvent)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// ReportFrame forwards the frame to each configured reporter.
func (m MultiReporter) ReportFrame(frame Frame) {
	for _, r := range m {
		if r != nil {
			r.ReportFrame(frame)
		}
	}
}

// ReportLag forwards the lag event to each configured reporter.
func (m MultiReporter) ReportLag(ev watchdog.LagEvent) {
	for _, r := range m {
		if r != nil {
			r.ReportLag(ev)
		}
	}
}

// ChannelSeries is one channel's decimated window, placed on the electrode grid.
type ChannelSeries struct {
	Channel int       `json:"channel"`
	Label   string    `json:"label"`
	Row     int       `json:"row"`
	Col     int       `json:"col"`
	Y       []float64 `json:"y"`
}

// Frame is one display refresh: the shared x axis plus every channel's window.
type Frame struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"sequence"`
	XAxis     []int           `json:"xAxis"`
	Channels  []ChannelSeries `json:"channels"`
}

// NewFrame builds a frame from per-channel snapshots. The x axis spans the
// longest snapshot. Channels outside the electrode grid carry no label.
func NewFrame(seq uint64, snapshots [][]float64) Frame {
	n := 0
	for _, s := range snapshots {
		n = max(n, len(s))
	}
	x := make([]int, n)
	for i := range x {
		x[i] = i
	}

	series := make([]ChannelSeries, len(snapshots))
	for ch, s := range snapshots {
		row, col, _ := mea.Position(ch)
		series[ch] = ChannelSeries{
			Channel: ch,
			Label:   mea.Label(ch),
			Row:     row,
			Col:     col,
			Y:       s,
		}
	}
	return Frame{
		Timestamp: time.Now(),
		Sequence:  seq,
		XAxis:     x,
		Channels:  series,
	}
}
