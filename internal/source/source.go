// Package source provides the recorded data a playback server replays.
package source

import (
	"github.com/rotisserie/eris"
)

// ErrRange is returned for a channel or sample range outside the recording.
var ErrRange = eris.New("range outside recording")

// Source is a fixed recording of per-channel sample arrays.
type Source interface {
	SampleRate() float64
	Channels() int
	// Len is the number of samples per channel.
	Len() int
	// ChannelRange returns samples [start, end) of one channel. The result
	// may be retained by the caller and must not alias internal storage.
	ChannelRange(ch, start, end int) ([]float64, error)
}

func checkRange(s Source, ch, start, end int) error {
	if ch < 0 || ch >= s.Channels() {
		return eris.Wrapf(ErrRange, "channel %d of %d", ch, s.Channels())
	}
	if start < 0 || end < start || end > s.Len() {
		return eris.Wrapf(ErrRange, "samples [%d, %d) of %d", start, end, s.Len())
	}
	return nil
}

// Memory is a Source backed by in-memory arrays.
type Memory struct {
	rate float64
	data [][]float64
}

// NewMemory wraps per-channel arrays. Every channel must have the same length.
func NewMemory(sampleRate float64, data [][]float64) (*Memory, error) {
	if sampleRate <= 0 {
		return nil, eris.Errorf("sample rate must be positive, got %v", sampleRate)
	}
	for i := range data {
		if len(data[i]) != len(data[0]) {
			return nil, eris.Errorf("channel %d has %d samples, channel 0 has %d", i, len(data[i]), len(data[0]))
		}
	}
	return &Memory{rate: sampleRate, data: data}, nil
}

func (m *Memory) SampleRate() float64 { return m.rate }
func (m *Memory) Channels() int       { return len(m.data) }

func (m *Memory) Len() int {
	if len(m.data) == 0 {
		return 0
	}
	return len(m.data[0])
}

func (m *Memory) ChannelRange(ch, start, end int) ([]float64, error) {
	if err := checkRange(m, ch, start, end); err != nil {
		return nil, err
	}
	out := make([]float64, end-start)
	copy(out, m.data[ch][start:end])
	return out, nil
}
