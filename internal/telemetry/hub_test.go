package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/watchdog"
)

func newTestHub() *Hub {
	return NewHub(3, logging.New(logging.Debug, logging.Text, io.Discard))
}

func testFrame(seq uint64) Frame {
	snaps := make([][]float64, 60)
	for c := range snaps {
		snaps[c] = []float64{float64(c), -float64(c), float64(seq)}
	}
	return NewFrame(seq, snaps)
}

func TestNewFrameLabelsChannels(t *testing.T) {
	f := NewFrame(7, [][]float64{{1, 2}, {3, 4, 5}})
	assert.Equal(t, uint64(7), f.Sequence)
	assert.Equal(t, []int{0, 1, 2}, f.XAxis)
	require.Len(t, f.Channels, 2)
	assert.Equal(t, "21", f.Channels[0].Label)
	assert.Equal(t, 1, f.Channels[0].Row)
	assert.Equal(t, 2, f.Channels[0].Col)
	assert.Equal(t, []float64{3, 4, 5}, f.Channels[1].Y)
}

func TestHandleFrame(t *testing.T) {
	hub := newTestHub()
	h := hub.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	hub.ReportFrame(testFrame(1))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got Frame
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, uint64(1), got.Sequence)
	assert.Len(t, got.Channels, 60)
}

func TestHandleChannel(t *testing.T) {
	hub := newTestHub()
	hub.ReportFrame(testFrame(2))
	h := hub.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels/5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var view ChannelView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	assert.Equal(t, 5, view.Channel)
	assert.Equal(t, uint64(2), view.Sequence)
	assert.Equal(t, 5.0, view.Stats.Max)
	assert.Equal(t, -5.0, view.Stats.Min)

	for _, path := range []string{"/api/channels/60", "/api/channels/-1"} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLagHistoryIsBounded(t *testing.T) {
	hub := newTestHub()
	for i := 1; i <= 5; i++ {
		hub.ReportLag(watchdog.LagEvent{PendingSamples: i})
	}
	lags := hub.Lags()
	require.Len(t, lags, 3)
	assert.Equal(t, 3, lags[0].PendingSamples)
	assert.Equal(t, 5, lags[2].PendingSamples)

	rr := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/lag", nil))
	var got []watchdog.LagEvent
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 3)
}

func TestSetConfig(t *testing.T) {
	hub := newTestHub()
	h := hub.Handler()

	body := bytes.NewBufferString(`{"yRange": 0.5, "zoomChannel": 12}`)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	cfg := hub.ConfigSnapshot()
	assert.Equal(t, 0.5, cfg.YRange)
	assert.Equal(t, 12, cfg.ZoomChannel)
	assert.Equal(t, 3, cfg.LagHistory)

	for _, payload := range []string{`{"yRange": -1}`, `{"zoomChannel": 60}`, `{"lagHistory": 100000}`, `not json`} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(payload)))
		assert.Equal(t, http.StatusBadRequest, rr.Code, payload)
	}
	assert.Equal(t, cfg, hub.ConfigSnapshot(), "rejected updates leave the config untouched")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config/update", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestStepYRangeConcurrent(t *testing.T) {
	hub := newTestHub()
	start := hub.ConfigSnapshot().YRange

	const steps = 16
	var wg sync.WaitGroup
	for i := 0; i < steps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := hub.StepYRange(false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, start*(1<<steps), hub.ConfigSnapshot().YRange)
}

func TestStepYRange(t *testing.T) {
	hub := newTestHub()
	h := hub.Handler()
	start := hub.ConfigSnapshot().YRange

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/yrange/in", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, start/2, hub.ConfigSnapshot().YRange)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/yrange/out", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/yrange/out", nil))
	assert.Equal(t, start*2, hub.ConfigSnapshot().YRange)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/config/yrange/sideways", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	hub := newTestHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		hub.ReportFrame(testFrame(uint64(i)))
	}
	assert.Equal(t, int64(10-cap(ch)), hub.Dropped())
	first := <-ch
	assert.Equal(t, uint64(0), first.Sequence)

	cancel()
	cancel()
	hub.ReportFrame(testFrame(99))
}

func TestLiveStreamsFrames(t *testing.T) {
	hub := newTestHub()
	hub.ReportFrame(testFrame(1))
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/live", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	readEvent := func() Frame {
		for {
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			if payload, ok := strings.CutPrefix(line, "data: "); ok {
				var f Frame
				require.NoError(t, json.Unmarshal([]byte(payload), &f))
				return f
			}
		}
	}

	assert.Equal(t, uint64(1), readEvent().Sequence)
	hub.ReportFrame(testFrame(2))
	assert.Equal(t, uint64(2), readEvent().Sequence)
}

func TestWebsocketPushesFrames(t *testing.T) {
	hub := newTestHub()
	hub.ReportFrame(testFrame(1))
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, uint64(1), f.Sequence)

	hub.ReportFrame(testFrame(2))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, uint64(2), f.Sequence)
	assert.Len(t, f.Channels, 60)
}

func TestMultiReporterForwards(t *testing.T) {
	a, b := newTestHub(), newTestHub()
	m := MultiReporter{a, nil, b}
	m.ReportFrame(testFrame(4))
	m.ReportLag(watchdog.LagEvent{PendingSamples: 1})

	for _, h := range []*Hub{a, b} {
		f, ok := h.Latest()
		require.True(t, ok)
		assert.Equal(t, uint64(4), f.Sequence)
		assert.Len(t, h.Lags(), 1)
	}
}
