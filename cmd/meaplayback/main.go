package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/config"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/playback"
	"github.com/rjboer/meaviz/internal/source"
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

	src, err := selectSource(cfg)
	if err != nil {
		logger.Error("load source", logging.Field{Key: "err", Value: err})
		os.Exit(1)
	}

	srv, err := playback.New(src, playback.Config{
		Listen:     cfg.Listen,
		TickRate:   cfg.TickRate,
		MaxClients: cfg.MaxClients,
		Loop:       cfg.Loop,
		Advertise:  cfg.Advertise,
		Instance:   instanceName(),
	}, logger)
	if err != nil {
		logger.Error("playback config", logging.Field{Key: "err", Value: err})
		os.Exit(1)
	}
	if srv.DataPerTick() != cfg.SegmentLength {
		logger.Warn("consumers must use the server's segment length",
			logging.Field{Key: "configured", Value: cfg.SegmentLength},
			logging.Field{Key: "data_per_tick", Value: srv.DataPerTick()},
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("playback server stopped", logging.Field{Key: "err", Value: err})
		os.Exit(1)
	}
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "meaplayback"
	}
	return "meaplayback on " + host
}

// selectSource returns the generator or the recording named by cfg.Source.
func selectSource(cfg config.Config) (source.Source, error) {
	switch {
	case cfg.Source == config.SourceSynthetic:
		return source.NewSynthetic(source.SyntheticConfig{
			SampleRate: float64(cfg.SampleRate),
			Channels:   cfg.Channels,
			Duration:   cfg.Duration,
		}), nil
	case strings.HasSuffix(strings.ToLower(cfg.Source), ".wav"):
		return source.OpenWAV(cfg.Source, cfg.WAVScale)
	default:
		return nil, eris.Errorf("unknown source %q (want %q or a .wav file)", cfg.Source, config.SourceSynthetic)
	}
}

func parseConfig(args []string, lookup config.Lookup, defaults config.Config) (config.Config, error) {
	cfg := defaults
	fs := flag.NewFlagSet("meaplayback", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", lookup.String("LISTEN", defaults.Listen), "TCP listen address")
	fs.DurationVar(&cfg.TickRate, "tick-rate", lookup.Duration("TICK_RATE", defaults.TickRate), "Interval between super-segments")
	fs.IntVar(&cfg.MaxClients, "max-clients", lookup.Int("MAX_CLIENTS", defaults.MaxClients), "Concurrent consumers (0 = unlimited)")
	fs.StringVar(&cfg.Source, "source", lookup.String("SOURCE", defaults.Source), "Data source: synthetic or a path to a multi-channel WAV recording")
	fs.Float64Var(&cfg.WAVScale, "wav-scale", lookup.Float("WAV_SCALE", defaults.WAVScale), "Multiplier applied to normalized WAV samples")
	fs.DurationVar(&cfg.Duration, "duration", lookup.Duration("DURATION", defaults.Duration), "Length of the synthetic recording")
	fs.IntVar(&cfg.SampleRate, "sample-rate", lookup.Int("SAMPLE_RATE", defaults.SampleRate), "Synthetic sample rate in Hz")
	fs.IntVar(&cfg.Channels, "channels", lookup.Int("CHANNELS", defaults.Channels), "Synthetic channel count")
	fs.BoolVar(&cfg.Loop, "loop", lookup.Bool("LOOP", defaults.Loop), "Restart from the beginning at the end of the recording")
	fs.BoolVar(&cfg.Advertise, "advertise", lookup.Bool("ADVERTISE", defaults.Advertise), "Announce the server over mDNS")
	fs.StringVar(&cfg.LogLevel, "log-level", lookup.String("LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", lookup.String("LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
