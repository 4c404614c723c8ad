package connectionmgr

import (
	"errors"
	"io"
	"net"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/codec"
	"github.com/rjboer/meaviz/internal/dsp"
)

// Sink receives the decimated values of one completed segment.
type Sink interface {
	Push(channel int, values []float64)
}

// SegmentConfig is the out-of-band agreement between producer and consumer.
type SegmentConfig struct {
	SegmentLength  int  // samples per channel per segment
	Channels       int  // segments per super-segment
	Decimation     int  // raw samples per max/min pair
	CarryRemainder bool // keep a partial decimation window for the next segment
}

// SegmentBytes is the wire size of one channel's segment.
func (c SegmentConfig) SegmentBytes() int { return c.SegmentLength * codec.Width }

// Validate rejects non-positive sizes.
func (c SegmentConfig) Validate() error {
	if c.SegmentLength <= 0 {
		return eris.Errorf("segment length must be positive, got %d", c.SegmentLength)
	}
	if c.Channels <= 0 {
		return eris.Errorf("channel count must be positive, got %d", c.Channels)
	}
	if c.Decimation <= 0 {
		return eris.Errorf("decimation factor must be positive, got %d", c.Decimation)
	}
	return nil
}

// Reassembler rebuilds fixed-length per-channel segments from a byte stream.
//
// The stream carries no framing. Segment boundaries follow from the agreed
// segment length and channel count: channel 0 first, then 1, up to
// Channels-1, then channel 0 again. A short read only moves the byte cursor
// inside the current segment; the channel cursor advances only once a
// segment is complete, so bytes never leak across channels.
type Reassembler struct {
	r   io.Reader
	cfg SegmentConfig

	buf      []byte // one segment, reused
	received int
	channel  int

	decimators []*dsp.Decimator

	segments      uint64
	superSegments uint64
}

// NewReassembler builds a Reassembler reading from r.
func NewReassembler(r io.Reader, cfg SegmentConfig) (*Reassembler, error) {
	if r == nil {
		return nil, eris.New("reassembler needs a reader")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	decimators := make([]*dsp.Decimator, cfg.Channels)
	for i := range decimators {
		decimators[i] = dsp.NewDecimator(cfg.Decimation, cfg.CarryRemainder)
	}
	return &Reassembler{
		r:          r,
		cfg:        cfg,
		buf:        make([]byte, cfg.SegmentBytes()),
		decimators: decimators,
	}, nil
}

// ReadSuperSegment reads until every channel has received one complete
// segment, pushing each channel's decimated values to sink as soon as its
// segment completes.
//
// A closed connection yields ErrConnectionClosed. Other read errors are
// returned as-is and leave the cursor untouched, so a caller that treats a
// timeout as transient can call again and resume mid-segment.
func (ra *Reassembler) ReadSuperSegment(sink Sink) error {
	expected := len(ra.buf)
	for {
		for ra.received < expected {
			n, err := ra.r.Read(ra.buf[ra.received:expected])
			ra.received += n
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed) {
					if ra.received == expected {
						break
					}
					return eris.Wrapf(ErrConnectionClosed, "channel %d: %d of %d bytes", ra.channel, ra.received, expected)
				}
				return err
			}
			if n == 0 {
				return eris.Wrapf(ErrConnectionClosed, "channel %d: empty read", ra.channel)
			}
		}

		ch := ra.channel
		samples, err := codec.DecodeSegment(ra.buf[:expected])
		ra.advance()
		if err != nil {
			return eris.Wrapf(err, "decode channel %d", ch)
		}
		sink.Push(ch, ra.decimators[ch].Process(samples))

		if ra.channel == 0 {
			ra.superSegments++
			return nil
		}
	}
}

// advance resets the byte cursor and moves on to the next channel.
func (ra *Reassembler) advance() {
	ra.received = 0
	ra.segments++
	ra.channel++
	if ra.channel == ra.cfg.Channels {
		ra.channel = 0
	}
}

// Position reports the channel being filled and how many of its bytes have arrived.
func (ra *Reassembler) Position() (channel, received int) {
	return ra.channel, ra.received
}

// Segments is the number of completed per-channel segments.
func (ra *Reassembler) Segments() uint64 { return ra.segments }

// SuperSegments is the number of completed full channel cycles.
func (ra *Reassembler) SuperSegments() uint64 { return ra.superSegments }

// Config returns the segment layout in use.
func (ra *Reassembler) Config() SegmentConfig { return ra.cfg }
