package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/dsp"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/mea"
	"github.com/rjboer/meaviz/internal/watchdog"
)

// NoZoom means every channel is displayed on the grid.
const NoZoom = -1

// Config represents the runtime display configuration exposed by the hub.
// YRange is the symmetric vertical half-range; ZoomChannel selects a single
// channel to enlarge, or NoZoom.
type Config struct {
	YRange      float64 `json:"yRange"`
	ZoomChannel int     `json:"zoomChannel"`
	LagHistory  int     `json:"lagHistory"`
}

const (
	minYRange     = 1e-9
	maxYRange     = 1e3
	minLagHistory = 1
	maxLagHistory = 10_000
)

func defaultConfig() Config {
	return Config{
		YRange:      1e-4,
		ZoomChannel: NoZoom,
		LagHistory:  100,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.YRange == 0 || base.LagHistory == 0 {
		base = defaultConfig()
	}
	if cfg.YRange == 0 {
		cfg.YRange = base.YRange
	}
	if cfg.LagHistory == 0 {
		cfg.LagHistory = base.LagHistory
	}

	if math.IsNaN(cfg.YRange) || cfg.YRange < minYRange || cfg.YRange > maxYRange {
		return Config{}, eris.Errorf("y range must be between %g and %g", minYRange, maxYRange)
	}
	if cfg.ZoomChannel != NoZoom && (cfg.ZoomChannel < 0 || cfg.ZoomChannel >= mea.Channels) {
		return Config{}, eris.Errorf("zoom channel must be %d or between 0 and %d", NoZoom, mea.Channels-1)
	}
	if cfg.LagHistory < minLagHistory || cfg.LagHistory > maxLagHistory {
		return Config{}, eris.Errorf("lag history must be between %d and %d", minLagHistory, maxLagHistory)
	}
	return cfg, nil
}

// Hub keeps the latest frame and recent lag events and fans frames out to
// live subscribers. Slow subscribers miss frames rather than stall the pipeline.
type Hub struct {
	mu          sync.RWMutex
	latest      *Frame
	lags        []watchdog.LagEvent
	subscribers map[chan Frame]struct{}
	config      Config
	logger      logging.Logger

	dropped atomic.Int64
}

// NewHub builds a telemetry hub keeping at most lagHistory lag events.
func NewHub(lagHistory int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := defaultConfig()
	if lagHistory > 0 {
		cfg.LagHistory = lagHistory
	}
	cfg, err := validateConfig(cfg, defaultConfig())
	if err != nil {
		cfg = defaultConfig()
	}
	return &Hub{
		subscribers: make(map[chan Frame]struct{}),
		config:      cfg,
		logger:      logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
	}
}

// ReportFrame implements Reporter and publishes a new frame.
func (h *Hub) ReportFrame(frame Frame) {
	h.mu.Lock()
	h.latest = &frame
	for ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
			h.dropped.Add(1)
		}
	}
	h.mu.Unlock()
}

// ReportLag implements Reporter and records a lag event.
func (h *Hub) ReportLag(ev watchdog.LagEvent) {
	h.mu.Lock()
	h.lags = append(h.lags, ev)
	if len(h.lags) > h.config.LagHistory {
		h.lags = h.lags[len(h.lags)-h.config.LagHistory:]
	}
	h.mu.Unlock()
}

// Latest returns the most recent frame, if any.
func (h *Hub) Latest() (Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Frame{}, false
	}
	return *h.latest, true
}

// Lags returns a copy of the stored lag events.
func (h *Hub) Lags() []watchdog.LagEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]watchdog.LagEvent, len(h.lags))
	copy(out, h.lags)
	return out
}

// Dropped counts frames skipped because a subscriber was not keeping up.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ConfigSnapshot returns the latest validated configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig validates cfg against the current settings and applies it.
func (h *Hub) UpdateConfig(cfg Config) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.applyConfig(cfg)
	return cfg, nil
}

// StepYRange halves (zoom in) or doubles (zoom out) the vertical range.
func (h *Hub) StepYRange(zoomIn bool) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg := h.config
	if zoomIn {
		cfg.YRange /= 2
	} else {
		cfg.YRange *= 2
	}
	cfg, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.applyConfig(cfg)
	return cfg, nil
}

// Subscribe registers a listener for live frames.
func (h *Hub) Subscribe() (chan Frame, func()) {
	ch := make(chan Frame, 4)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) applyConfig(cfg Config) {
	h.config = cfg
	if len(h.lags) > cfg.LagHistory {
		h.lags = h.lags[len(h.lags)-cfg.LagHistory:]
	}
}

// ChannelView is one channel's latest window with summary statistics.
type ChannelView struct {
	ChannelSeries
	Sequence uint64           `json:"sequence"`
	Stats    dsp.ChannelStats `json:"stats"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleFrame(w http.ResponseWriter, _ *http.Request) {
	frame, ok := h.Latest()
	if !ok {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	writeJSON(w, frame)
}

func (h *Hub) handleChannel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	frame, ok := h.Latest()
	if !ok {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	if id < 0 || id >= len(frame.Channels) {
		http.Error(w, fmt.Sprintf("channel %d out of range", id), http.StatusNotFound)
		return
	}
	series := frame.Channels[id]
	writeJSON(w, ChannelView{
		ChannelSeries: series,
		Sequence:      frame.Sequence,
		Stats:         dsp.Stats(series.Y),
	})
}

func (h *Hub) handleLag(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Lags())
}

func (h *Hub) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.ConfigSnapshot())
}

func (h *Hub) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	incoming := h.ConfigSnapshot()
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := h.UpdateConfig(incoming)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.logger.Info("display config updated",
		logging.Field{Key: "y_range", Value: cfg.YRange},
		logging.Field{Key: "zoom_channel", Value: cfg.ZoomChannel},
	)
	writeJSON(w, cfg)
}

func (h *Hub) handleYRange(w http.ResponseWriter, r *http.Request) {
	var zoomIn bool
	switch r.PathValue("dir") {
	case "in":
		zoomIn = true
	case "out":
	default:
		http.Error(w, "direction must be in or out", http.StatusBadRequest)
		return
	}
	cfg, err := h.StepYRange(zoomIn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, cfg)
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send the current frame for immediate display
	if frame, ok := h.Latest(); ok {
		writeEvent(w, frame)
	}
	flusher.Flush()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, frame)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, frame Frame) {
	payload, _ := json.Marshal(frame)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
