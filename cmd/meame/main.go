// Command meame drives the remote acquisition instrument's HTTP control plane.
//
//	meame [flags] connect|start|stop|init
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/config"
	"github.com/rjboer/meaviz/internal/daq"
)

type options struct {
	url           string
	sampleRate    int
	segmentLength int
	timeout       time.Duration
	command       string
}

func main() {
	lookup := config.Lookup(os.LookupEnv)
	defaults, err := config.LoadOrCreate(lookup.String("CONFIG", config.DefaultPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	opts, err := parseArgs(os.Args[1:], lookup, defaults)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := defaults.Logger(os.Stderr)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := runCommand(ctx, daq.New(opts.url, logger), opts); err != nil {
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, c *daq.Client, opts options) error {
	switch opts.command {
	case "connect":
		return c.Connect(ctx, opts.sampleRate, opts.segmentLength)
	case "start":
		return c.Start(ctx)
	case "stop":
		return c.Stop(ctx)
	case "init":
		return c.Initialize(ctx, opts.sampleRate, opts.segmentLength)
	default:
		return eris.Errorf("unknown command %q", opts.command)
	}
}

func parseArgs(args []string, lookup config.Lookup, defaults config.Config) (options, error) {
	var opts options
	fs := flag.NewFlagSet("meame", flag.ContinueOnError)
	fs.StringVar(&opts.url, "url", lookup.String("DAQ_URL", defaults.DAQURL), "DAQ control URL (e.g. http://10.20.92.130:8080)")
	fs.IntVar(&opts.sampleRate, "sample-rate", lookup.Int("SAMPLE_RATE", defaults.SampleRate), "Samples per second per channel")
	fs.IntVar(&opts.segmentLength, "segment-length", lookup.Int("SEGMENT_LENGTH", defaults.SegmentLength), "Samples per channel per segment")
	fs.DurationVar(&opts.timeout, "timeout", 15*time.Second, "Overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.url == "" {
		return options{}, eris.New("no DAQ URL: set -url, MEA_DAQ_URL or daq_url")
	}
	if fs.NArg() != 1 {
		return options{}, eris.New("usage: meame [flags] connect|start|stop|init")
	}
	opts.command = fs.Arg(0)
	switch opts.command {
	case "connect", "start", "stop", "init":
	default:
		return options{}, eris.Errorf("unknown command %q", opts.command)
	}
	return opts, nil
}
