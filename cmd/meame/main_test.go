package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/meaviz/internal/config"
	"github.com/rjboer/meaviz/internal/daq"
	"github.com/rjboer/meaviz/internal/logging"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{"-url", "http://daq:8080", "init"}, noEnv, config.Default())
	require.NoError(t, err)
	assert.Equal(t, "http://daq:8080", opts.url)
	assert.Equal(t, "init", opts.command)
	assert.Equal(t, 10000, opts.sampleRate)
	assert.Equal(t, 100, opts.segmentLength)

	lookup := func(k string) (string, bool) {
		if k == "MEA_DAQ_URL" {
			return "http://env:1", true
		}
		return "", false
	}
	opts, err = parseArgs([]string{"stop"}, lookup, config.Default())
	require.NoError(t, err)
	assert.Equal(t, "http://env:1", opts.url)
}

func TestParseArgsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"start"},
		{"-url", "http://daq", "reboot"},
		{"-url", "http://daq"},
		{"-url", "http://daq", "start", "stop"},
	} {
		_, err := parseArgs(args, noEnv, config.Default())
		assert.Error(t, err, "%v", args)
	}
}

func TestRunCommand(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/DAQ/stop" {
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer srv.Close()
	c := daq.New(srv.URL, logging.New(logging.Error, logging.Text, io.Discard))

	require.NoError(t, runCommand(context.Background(), c, options{command: "init", sampleRate: 10000, segmentLength: 100}))
	assert.Equal(t, []string{"/DAQ/connect", "/DAQ/start"}, paths)

	err := runCommand(context.Background(), c, options{command: "stop"})
	assert.True(t, errors.Is(err, daq.ErrRemoteControl), "got %v", err)
}
