package source

import (
	"os"

	"github.com/go-audio/wav"
	"github.com/rotisserie/eris"
)

// OpenWAV loads a multi-channel PCM WAV recording. Integer samples are
// normalized to [-1, 1) and then multiplied by scale, so a recording stored
// in ADC counts can be replayed in volts. A zero scale means 1.
func OpenWAV(path string, scale float64) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, eris.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, eris.Errorf("%s has no channels", path)
	}

	if scale == 0 {
		scale = 1
	}
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = int(dec.BitDepth)
	}
	if depth <= 0 || depth > 32 {
		return nil, eris.Errorf("%s: unsupported bit depth %d", path, depth)
	}
	norm := scale / float64(int64(1)<<(depth-1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	data := make([][]float64, channels)
	for ch := range data {
		data[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			data[ch][i] = float64(buf.Data[i*channels+ch]) * norm
		}
	}

	return NewMemory(float64(buf.Format.SampleRate), data)
}
