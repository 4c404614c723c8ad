// Package watchdog detects a consumer that cannot keep pace with its producer.
//
// The kernel keeps received but unread bytes in the socket buffer. A consumer
// that keeps up leaves almost nothing there; one that falls behind sees the
// count grow. The watchdog samples that count on a fixed interval and never
// touches the data stream itself.
package watchdog

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/codec"
	"github.com/rjboer/meaviz/internal/connectionmgr"
	"github.com/rjboer/meaviz/internal/logging"
)

// PendingCounter reports unread bytes on a connection without reading them.
type PendingCounter interface {
	PendingBytes() (int, error)
}

// Config controls the check cadence and threshold.
type Config struct {
	Interval   time.Duration
	SampleRate float64
	LagSeconds float64
}

const (
	DefaultInterval   = time.Second
	DefaultLagSeconds = 20
)

// LagEvent is an advisory signal: the consumer is behind by at least the
// threshold. It is never an error.
type LagEvent struct {
	Time             time.Time `json:"time"`
	PendingBytes     int       `json:"pendingBytes"`
	PendingSamples   int       `json:"pendingSamples"`
	ThresholdSamples int       `json:"thresholdSamples"`
}

// Watchdog periodically checks a PendingCounter.
type Watchdog struct {
	counter   PendingCounter
	cfg       Config
	threshold int
	logger    logging.Logger

	// OnLag, when set, receives every LagEvent. It runs on the watchdog
	// goroutine and must not block.
	OnLag func(LagEvent)
}

// ErrInvalidConfig is returned by New for a config that cannot yield a threshold.
var ErrInvalidConfig = eris.New("invalid watchdog config")

// New builds a Watchdog. Zero Interval and LagSeconds take their defaults;
// SampleRate is required.
func New(counter PendingCounter, cfg Config, logger logging.Logger) (*Watchdog, error) {
	if cfg.SampleRate <= 0 {
		return nil, eris.Wrapf(ErrInvalidConfig, "sample rate must be positive, got %g", cfg.SampleRate)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LagSeconds <= 0 {
		cfg.LagSeconds = DefaultLagSeconds
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Watchdog{
		counter:   counter,
		cfg:       cfg,
		threshold: max(1, int(cfg.LagSeconds*cfg.SampleRate)),
		logger:    logger.With(logging.Field{Key: "subsystem", Value: "watchdog"}),
	}, nil
}

// ThresholdSamples is the pending sample count at which lag is reported.
func (w *Watchdog) ThresholdSamples() int { return w.threshold }

// Check decides whether a pending byte count means the consumer is lagging.
func (w *Watchdog) Check(pending int) (LagEvent, bool) {
	samples := pending / codec.Width
	if samples < w.threshold {
		return LagEvent{}, false
	}
	return LagEvent{
		Time:             time.Now(),
		PendingBytes:     pending,
		PendingSamples:   samples,
		ThresholdSamples: w.threshold,
	}, true
}

// Run checks on every interval until ctx is done or the connection closes.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !w.tick() {
			return
		}
	}
}

// tick performs one check. It returns false once the connection is gone.
func (w *Watchdog) tick() bool {
	pending, err := w.counter.PendingBytes()
	if err != nil {
		if errors.Is(err, connectionmgr.ErrConnectionClosed) || errors.Is(err, connectionmgr.ErrPendingUnsupported) {
			w.logger.Debug("watchdog stopping", logging.Field{Key: "err", Value: err})
			return false
		}
		w.logger.Debug("pending byte query failed", logging.Field{Key: "err", Value: err})
		return true
	}

	ev, lagging := w.Check(pending)
	if !lagging {
		return true
	}
	w.logger.Warn("consumer is struggling to keep up with the data rate",
		logging.Field{Key: "pending_bytes", Value: ev.PendingBytes},
		logging.Field{Key: "pending_samples", Value: ev.PendingSamples},
		logging.Field{Key: "threshold_samples", Value: ev.ThresholdSamples},
	)
	if w.OnLag != nil {
		w.OnLag(ev)
	}
	return true
}
