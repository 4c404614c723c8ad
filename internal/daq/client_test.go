package daq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/meaviz/internal/logging"
)

type fakeDAQ struct {
	mu      sync.Mutex
	calls   []string
	params  connectParams
	failing map[string]int
}

func (f *fakeDAQ) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if code, ok := f.failing[r.URL.Path]; ok {
		http.Error(w, "instrument busy", code)
		return
	}
	if r.URL.Path == "/DAQ/connect" {
		if err := json.NewDecoder(r.Body).Decode(&f.params); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func newTestClient(t *testing.T, f *fakeDAQ) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", logging.New(logging.Debug, logging.Text, io.Discard))
}

func TestInitializeConnectsThenStarts(t *testing.T) {
	f := &fakeDAQ{}
	c := newTestClient(t, f)

	require.NoError(t, c.Initialize(context.Background(), 10000, 100))
	assert.Equal(t, []string{"POST /DAQ/connect", "GET /DAQ/start"}, f.calls)
	assert.Equal(t, connectParams{SampleRate: 10000, SegmentLength: 100}, f.params)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, "GET /DAQ/stop", f.calls[2])
}

func TestConnectFailureAbortsInitialize(t *testing.T) {
	f := &fakeDAQ{failing: map[string]int{"/DAQ/connect": http.StatusInternalServerError}}
	c := newTestClient(t, f)

	err := c.Initialize(context.Background(), 10000, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteControl), "got %v", err)
	assert.Equal(t, []string{"POST /DAQ/connect"}, f.calls, "no retry and no start after a failed connect")
}

func TestStartFailure(t *testing.T) {
	f := &fakeDAQ{failing: map[string]int{"/DAQ/start": http.StatusServiceUnavailable}}
	c := newTestClient(t, f)

	err := c.Start(context.Background())
	assert.True(t, errors.Is(err, ErrRemoteControl), "got %v", err)
	assert.Contains(t, err.Error(), "503")
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, logging.New(logging.Debug, logging.Text, io.Discard))
	err := c.Stop(context.Background())
	assert.True(t, errors.Is(err, ErrRemoteControl), "got %v", err)
}
