package telemetry

import (
	"github.com/rjboer/meaviz/internal/dsp"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/watchdog"
)

// StdoutReporter logs a one-line summary of every frame and lag event.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) ReportFrame(frame Frame) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "sequence", Value: frame.Sequence},
		{Key: "channels", Value: len(frame.Channels)},
		{Key: "points", Value: len(frame.XAxis)},
	}

	loudest, span, label := -1, 0.0, ""
	var stats dsp.ChannelStats
	for _, s := range frame.Channels {
		if len(s.Y) == 0 {
			continue
		}
		st := dsp.Stats(s.Y)
		if p := st.Max - st.Min; loudest < 0 || p > span {
			loudest, span, label, stats = s.Channel, p, s.Label, st
		}
	}
	if loudest >= 0 {
		fields = append(fields,
			logging.Field{Key: "loudest_channel", Value: loudest},
			logging.Field{Key: "loudest_label", Value: label},
			logging.Field{Key: "peak_to_peak", Value: span},
			logging.Field{Key: "rms", Value: stats.RMS},
		)
	}
	r.logger.Debug("frame", fields...)
}

func (r StdoutReporter) ReportLag(ev watchdog.LagEvent) {
	r.logger.Warn("consumer lagging",
		logging.Field{Key: "subsystem", Value: "telemetry"},
		logging.Field{Key: "pending_samples", Value: ev.PendingSamples},
		logging.Field{Key: "threshold_samples", Value: ev.ThresholdSamples},
	)
}
