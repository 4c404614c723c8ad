package app

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/connectionmgr"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/ringbuf"
	"github.com/rjboer/meaviz/internal/telemetry"
	"github.com/rjboer/meaviz/internal/watchdog"
)

// Config captures the consumer pipeline configuration. Producer and consumer
// must agree on SampleRate, SegmentLength and Channels out of band.
type Config struct {
	SampleRate       int
	SegmentLength    int
	Channels         int
	Decimation       int
	WindowSeconds    float64
	RefreshEvery     int // super-segments between display refreshes
	WatchdogInterval time.Duration
	LagSeconds       float64
	CarryRemainder   bool
}

// DataInWindow is the retained point count per channel.
func (c Config) DataInWindow() int {
	return int(math.Round(float64(c.SampleRate) * c.WindowSeconds / 10))
}

func (c Config) withDefaults() Config {
	if c.RefreshEvery <= 0 && c.SegmentLength > 0 {
		c.RefreshEvery = max(1, 1000/c.SegmentLength)
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = watchdog.DefaultInterval
	}
	if c.LagSeconds <= 0 {
		c.LagSeconds = watchdog.DefaultLagSeconds
	}
	return c
}

func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return eris.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.DataInWindow() <= 0 {
		return eris.Errorf("window of %gs at %d Hz holds no data", c.WindowSeconds, c.SampleRate)
	}
	return c.segmentConfig().Validate()
}

func (c Config) segmentConfig() connectionmgr.SegmentConfig {
	return connectionmgr.SegmentConfig{
		SegmentLength:  c.SegmentLength,
		Channels:       c.Channels,
		Decimation:     c.Decimation,
		CarryRemainder: c.CarryRemainder,
	}
}

// Viewer is the consumer pipeline: it reads super-segments from a producer,
// keeps a rolling decimated window per channel and periodically hands a
// frame to the reporter. A watchdog runs alongside and reports lag.
type Viewer struct {
	cfg      Config
	conn     *connectionmgr.Manager
	reporter telemetry.Reporter
	logger   logging.Logger
	bufs     *ringbuf.Buffers

	superSegments atomic.Uint64
	frames        atomic.Uint64
}

// NewViewer builds a viewer reading from conn. A nil reporter discards output.
func NewViewer(conn *connectionmgr.Manager, reporter telemetry.Reporter, logger logging.Logger, cfg Config) (*Viewer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	if reporter == nil {
		reporter = telemetry.MultiReporter{}
	}
	return &Viewer{
		cfg:      cfg,
		conn:     conn,
		reporter: reporter,
		logger:   logger.With(logging.Field{Key: "subsystem", Value: "viewer"}),
		bufs:     ringbuf.New(cfg.Channels, cfg.DataInWindow()),
	}, nil
}

// Run connects to the producer and ingests until the connection closes or
// ctx is canceled. A producer going away yields ErrConnectionClosed.
func (v *Viewer) Run(ctx context.Context) error {
	if v.conn == nil {
		return connectionmgr.ErrNotConnected
	}
	if v.conn.Conn() == nil {
		if err := v.conn.Connect(ctx); err != nil {
			return err
		}
		// A new connection replays from the start; the old window is stale.
		v.bufs.Reset()
	}
	defer v.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Closing the socket is the only way to unblock a pending Read.
	stop := context.AfterFunc(ctx, func() { _ = v.conn.Close() })
	defer stop()

	wd, err := watchdog.New(v.conn, watchdog.Config{
		Interval:   v.cfg.WatchdogInterval,
		SampleRate: float64(v.cfg.SampleRate),
		LagSeconds: v.cfg.LagSeconds,
	}, v.logger)
	if err != nil {
		return err
	}
	wd.OnLag = v.reporter.ReportLag
	done := make(chan struct{})
	go func() {
		defer close(done)
		wd.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	err = v.Ingest(v.conn)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Ingest runs the pipeline over any byte stream until it ends. Read timeouts
// are transient and resume mid-segment.
func (v *Viewer) Ingest(r io.Reader) error {
	ra, err := connectionmgr.NewReassembler(r, v.cfg.segmentConfig())
	if err != nil {
		return err
	}
	v.logger.Info("ingest started",
		logging.Field{Key: "segment_length", Value: v.cfg.SegmentLength},
		logging.Field{Key: "channels", Value: v.cfg.Channels},
		logging.Field{Key: "window_points", Value: v.bufs.Capacity()},
		logging.Field{Key: "refresh_every", Value: v.cfg.RefreshEvery},
	)

	for {
		if err := ra.ReadSuperSegment(v.bufs); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				v.logger.Debug("read timeout, resuming", logging.Field{Key: "err", Value: err})
				continue
			}
			if errors.Is(err, connectionmgr.ErrConnectionClosed) {
				v.logger.Info("producer closed the connection",
					logging.Field{Key: "super_segments", Value: ra.SuperSegments()},
				)
			}
			return err
		}

		n := v.superSegments.Add(1)
		if n%uint64(v.cfg.RefreshEvery) == 0 {
			v.publish()
		}
	}
}

func (v *Viewer) publish() {
	seq := v.frames.Add(1)
	v.reporter.ReportFrame(telemetry.NewFrame(seq, v.bufs.SnapshotAll()))
}

// Buffers exposes the per-channel windows.
func (v *Viewer) Buffers() *ringbuf.Buffers { return v.bufs }

// SuperSegments is the number of super-segments ingested so far.
func (v *Viewer) SuperSegments() uint64 { return v.superSegments.Load() }

// Frames is the number of frames handed to the reporter.
func (v *Viewer) Frames() uint64 { return v.frames.Load() }

// Config returns the effective configuration.
func (v *Viewer) Config() Config { return v.cfg }
