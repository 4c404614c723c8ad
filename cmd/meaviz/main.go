package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/app"
	"github.com/rjboer/meaviz/internal/codec"
	"github.com/rjboer/meaviz/internal/config"
	"github.com/rjboer/meaviz/internal/connectionmgr"
	"github.com/rjboer/meaviz/internal/daq"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/mdns"
	"github.com/rjboer/meaviz/internal/telemetry"
)

func main() {
	lookup := config.Lookup(os.LookupEnv)
	configPath := lookup.String("CONFIG", config.DefaultPath)

	persistentCfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg, err := parseConfig(os.Args[1:], lookup, persistentCfg)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := config.Save(configPath, cfg); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("viewer stopped", logging.Field{Key: "err", Value: err})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	if cfg.Discover {
		var err error
		if cfg, err = discoverProducer(ctx, cfg, logger); err != nil {
			return err
		}
	}

	if cfg.DAQURL != "" {
		client := daq.New(cfg.DAQURL, logger)
		// Control failures are logged by the client; streaming goes ahead regardless.
		_ = client.Initialize(ctx, cfg.SampleRate, cfg.SegmentLength)
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = client.Stop(stopCtx)
		}()
	}

	var reporters []telemetry.Reporter
	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(0, logger)
		reporters = append(reporters, hub)
		go func() { _ = telemetry.NewWebServer(cfg.WebAddr, hub, logger).Start(ctx) }()
	}
	reporters = append(reporters, telemetry.NewStdoutReporter(logger))

	conn := connectionmgr.New(cfg.Address)
	conn.Retries = uint64(cfg.DialRetries)
	conn.SetLogger(logger.With(logging.Field{Key: "subsystem", Value: "connection"}))

	viewer, err := app.NewViewer(conn, telemetry.MultiReporter(reporters), logger, viewerConfig(cfg))
	if err != nil {
		return err
	}
	err = viewer.Run(ctx)
	logger.Info("viewer stopped",
		logging.Field{Key: "super_segments", Value: viewer.SuperSegments()},
		logging.Field{Key: "frames", Value: viewer.Frames()},
	)
	return err
}

// discoverProducer points cfg at the first playback server announced on the
// LAN and adopts the stream layout it advertises.
func discoverProducer(ctx context.Context, cfg config.Config, logger logging.Logger) (config.Config, error) {
	browseCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	hosts, err := mdns.DiscoverPlayback(browseCtx)
	if err != nil {
		return cfg, err
	}
	if len(hosts) == 0 {
		return cfg, eris.New("no playback server found on the local network")
	}
	return applyDiscovered(cfg, hosts[0], logger)
}

func applyDiscovered(cfg config.Config, h mdns.Host, logger logging.Logger) (config.Config, error) {
	info, err := h.Stream()
	if err != nil {
		return cfg, err
	}
	if info.Width != 0 && info.Width != codec.Width {
		return cfg, eris.Errorf("%s announces %d-byte samples, expected %d", h.Instance, info.Width, codec.Width)
	}
	cfg.Address = h.Addr()
	if info.SampleRate > 0 {
		cfg.SampleRate = info.SampleRate
	}
	if info.SegmentLength > 0 {
		cfg.SegmentLength = info.SegmentLength
	}
	if info.Channels > 0 {
		cfg.Channels = info.Channels
	}
	logger.Info("using discovered producer",
		logging.Field{Key: "instance", Value: h.Instance},
		logging.Field{Key: "address", Value: cfg.Address},
	)
	return cfg, nil
}

func viewerConfig(cfg config.Config) app.Config {
	return app.Config{
		SampleRate:       cfg.SampleRate,
		SegmentLength:    cfg.SegmentLength,
		Channels:         cfg.Channels,
		Decimation:       cfg.Decimation,
		WindowSeconds:    cfg.WindowSeconds,
		RefreshEvery:     cfg.RefreshEvery,
		WatchdogInterval: cfg.WatchdogInterval,
		LagSeconds:       cfg.LagSeconds,
		CarryRemainder:   cfg.CarryRemainder,
	}
}

func parseConfig(args []string, lookup config.Lookup, defaults config.Config) (config.Config, error) {
	cfg := defaults
	fs := flag.NewFlagSet("meaviz", flag.ContinueOnError)
	fs.StringVar(&cfg.Address, "address", lookup.String("ADDRESS", defaults.Address), "Producer address (host:port)")
	fs.BoolVar(&cfg.Discover, "discover", lookup.Bool("DISCOVER", defaults.Discover), "Find the producer over mDNS instead of -address")
	fs.IntVar(&cfg.SampleRate, "sample-rate", lookup.Int("SAMPLE_RATE", defaults.SampleRate), "Samples per second per channel")
	fs.IntVar(&cfg.SegmentLength, "segment-length", lookup.Int("SEGMENT_LENGTH", defaults.SegmentLength), "Samples per channel per segment")
	fs.IntVar(&cfg.Channels, "channels", lookup.Int("CHANNELS", defaults.Channels), "Channels per super-segment")
	fs.IntVar(&cfg.Decimation, "decimation", lookup.Int("DECIMATION", defaults.Decimation), "Raw samples per max/min pair")
	fs.BoolVar(&cfg.CarryRemainder, "carry-remainder", lookup.Bool("CARRY_REMAINDER", defaults.CarryRemainder), "Carry partial decimation windows into the next segment")
	fs.Float64Var(&cfg.WindowSeconds, "window", lookup.Float("WINDOW_SECONDS", defaults.WindowSeconds), "Display window in seconds")
	fs.IntVar(&cfg.RefreshEvery, "refresh-every", lookup.Int("REFRESH_EVERY", defaults.RefreshEvery), "Super-segments between refreshes (0 = 1000/segment-length)")
	fs.DurationVar(&cfg.WatchdogInterval, "watchdog-interval", lookup.Duration("WATCHDOG_INTERVAL", defaults.WatchdogInterval), "Lag check interval")
	fs.Float64Var(&cfg.LagSeconds, "lag-seconds", lookup.Float("LAG_SECONDS", defaults.LagSeconds), "Pending data (seconds of one channel) that counts as lagging")
	fs.IntVar(&cfg.DialRetries, "dial-retries", lookup.Int("DIAL_RETRIES", defaults.DialRetries), "Extra connection attempts with backoff")
	fs.StringVar(&cfg.WebAddr, "web-addr", lookup.String("WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8081)")
	fs.StringVar(&cfg.DAQURL, "daq-url", lookup.String("DAQ_URL", defaults.DAQURL), "Optional DAQ control URL to connect and start before streaming")
	fs.StringVar(&cfg.LogLevel, "log-level", lookup.String("LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", lookup.String("LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
