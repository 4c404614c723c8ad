package source

import (
	"math"
	"time"
)

// SyntheticConfig shapes the generated signal.
type SyntheticConfig struct {
	SampleRate float64
	Channels   int
	Duration   time.Duration
	Amplitude  float64 // peak of the carrier, in volts
	Noise      float64 // peak of the uniform noise, in volts
	Seed       uint64
}

// Synthetic generates a deterministic test signal per channel: a slow sine
// whose frequency depends on the channel, plus noise and a periodic spike.
// Samples are computed on demand, so any range is cheap and repeatable.
type Synthetic struct {
	cfg SyntheticConfig
	n   int
}

// NewSynthetic builds a generator; zero fields get MEA-like defaults.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 10000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 60
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 60 * time.Second
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 5e-5
	}
	if cfg.Noise == 0 {
		cfg.Noise = 1e-5
	}
	return &Synthetic{
		cfg: cfg,
		n:   int(cfg.Duration.Seconds() * cfg.SampleRate),
	}
}

func (s *Synthetic) SampleRate() float64 { return s.cfg.SampleRate }
func (s *Synthetic) Channels() int       { return s.cfg.Channels }
func (s *Synthetic) Len() int            { return s.n }

func (s *Synthetic) ChannelRange(ch, start, end int) ([]float64, error) {
	if err := checkRange(s, ch, start, end); err != nil {
		return nil, err
	}
	out := make([]float64, end-start)
	for i := range out {
		out[i] = s.sample(ch, start+i)
	}
	return out, nil
}

func (s *Synthetic) sample(ch, i int) float64 {
	t := float64(i) / s.cfg.SampleRate
	freq := 1 + 0.25*float64(ch)
	v := s.cfg.Amplitude * math.Sin(2*math.Pi*freq*t)

	noise := float64(splitmix(s.cfg.Seed^uint64(ch)<<40^uint64(i))>>11) / (1 << 53)
	v += s.cfg.Noise * (2*noise - 1)

	// One short negative spike per channel per second, staggered by channel.
	period := int(s.cfg.SampleRate)
	if period > 0 && (i+ch*period/s.cfg.Channels)%period < 10 {
		v -= 3 * s.cfg.Amplitude
	}
	return v
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
