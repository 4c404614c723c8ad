package playback

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/meaviz/internal/codec"
	"github.com/rjboer/meaviz/internal/connectionmgr"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/source"
)

const (
	testRate     = 10000
	testChannels = 60
	testTick     = 10 * time.Millisecond
	perTick      = 100
)

// rampSource returns a recording where channel c, sample i holds c*10000 + i.
func rampSource(t *testing.T, channels, samples int) *source.Memory {
	t.Helper()
	data := make([][]float64, channels)
	for c := range data {
		data[c] = make([]float64, samples)
		for i := range data[c] {
			data[c][i] = float64(c*10000 + i)
		}
	}
	src, err := source.NewMemory(testRate, data)
	require.NoError(t, err)
	return src
}

func startServer(t *testing.T, src source.Source, cfg Config) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = testTick
	}
	srv, err := New(src, cfg, logging.New(logging.Debug, logging.Text, io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}
	t.Cleanup(cancel)
	return srv, cancel, errCh
}

// readRaw reads n super-segments' worth of raw samples, returned as
// samples[channel] concatenated across the super-segments.
func readRaw(t *testing.T, conn net.Conn, channels, n int) [][]float64 {
	t.Helper()
	out := make([][]float64, channels)
	seg := make([]byte, perTick*codec.Width)
	for k := 0; k < n; k++ {
		for c := 0; c < channels; c++ {
			_, err := io.ReadFull(conn, seg)
			require.NoError(t, err, "super-segment %d channel %d", k, c)
			vals, err := codec.DecodeSegment(seg)
			require.NoError(t, err)
			out[c] = append(out[c], vals...)
		}
	}
	return out
}

func TestServerStreamsChannelMajorSuperSegments(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, testChannels, 1000), Config{})
	assert.Equal(t, perTick, srv.DataPerTick())

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	got := readRaw(t, conn, testChannels, 3)
	for c := 0; c < testChannels; c++ {
		require.Len(t, got[c], 3*perTick)
		for i, v := range got[c] {
			require.Equal(t, float64(c*10000+i), v, "channel %d sample %d", c, i)
		}
	}
}

func TestServerFeedsReassembler(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, testChannels, 1000), Config{})
	m := connectionmgr.New(srv.Addr().String())
	m.Retries = 0
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	ra, err := connectionmgr.NewReassembler(m, connectionmgr.SegmentConfig{
		SegmentLength: srv.DataPerTick(), Channels: testChannels, Decimation: 20,
	})
	require.NoError(t, err)

	sink := &countingSink{}
	require.NoError(t, ra.ReadSuperSegment(sink))
	require.NoError(t, ra.ReadSuperSegment(sink))
	assert.Equal(t, 2*testChannels, sink.pushes)
	assert.Equal(t, 2*testChannels*10, sink.values)
}

type countingSink struct{ pushes, values int }

func (s *countingSink) Push(_ int, v []float64) {
	s.pushes++
	s.values += len(v)
}

func TestConnectionIsolation(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, testChannels, 100000), Config{})

	a, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	b, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer b.Close()

	require.Eventually(t, func() bool { return srv.ActiveSessions() == 2 }, time.Second, 5*time.Millisecond)

	readRaw(t, a, testChannels, 2)
	// Abrupt termination: reset instead of a graceful close.
	if tcp, ok := a.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	require.NoError(t, a.Close())

	start := time.Now()
	const ticks = 20
	got := readRaw(t, b, testChannels, ticks)
	elapsed := time.Since(start)

	for c := 0; c < testChannels; c++ {
		for i, v := range got[c] {
			require.Equal(t, float64(c*10000+i), v, "channel %d sample %d", c, i)
		}
	}
	// A few super-segments were already queued while a was being read.
	assert.GreaterOrEqual(t, elapsed, time.Duration(ticks-8)*testTick)
	assert.Less(t, elapsed, 2*time.Second)

	require.Eventually(t, func() bool { return srv.ActiveSessions() == 1 }, 2*time.Second, 5*time.Millisecond)
	infos := srv.Sessions()
	require.Len(t, infos, 1)
	assert.GreaterOrEqual(t, infos[0].Ticks, int64(ticks))
}

func TestEndOfRecordingClosesSession(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, 4, 250), Config{})
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	readRaw(t, conn, 4, 2)
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoopWrapsToStart(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, 2, 200), Config{Loop: true})
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	got := readRaw(t, conn, 2, 3)
	assert.Equal(t, float64(10000), got[1][0])
	assert.Equal(t, float64(10100), got[1][perTick])
	assert.Equal(t, float64(10000), got[1][2*perTick])
}

func TestBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := New(rampSource(t, 2, 200), Config{Listen: ln.Addr().String(), TickRate: testTick}, nil)
	require.NoError(t, err)
	err = srv.ListenAndServe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBind), "got %v", err)

	select {
	case <-srv.Ready():
	default:
		t.Fatal("Ready stays open after a bind failure")
	}
	assert.Nil(t, srv.Addr())
}

func TestServeOnlyOnce(t *testing.T) {
	srv, cancel, errCh := startServer(t, rampSource(t, 2, 1000), Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.True(t, errors.Is(srv.Serve(context.Background(), ln), ErrServed))
	assert.True(t, errors.Is(srv.ListenAndServe(context.Background()), ErrServed))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestShutdownReleasesListener(t *testing.T) {
	srv, cancel, errCh := startServer(t, rampSource(t, 2, 100000), Config{})
	addr := srv.Addr().String()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	readRaw(t, conn, 2, 1)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Zero(t, srv.ActiveSessions())

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "listener should be released")
	_ = ln.Close()
}

func TestMaxClientsDefersExtraConsumers(t *testing.T) {
	srv, _, _ := startServer(t, rampSource(t, 2, 100000), Config{MaxClients: 1})

	first, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	readRaw(t, first, 2, 1)

	second, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = second.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "second client should wait, got %v", err)

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	readRaw(t, second, 2, 1)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)

	_, err = New(rampSource(t, 2, 50), Config{TickRate: testTick}, nil)
	assert.Error(t, err, "recording shorter than one tick")

	_, err = New(rampSource(t, 2, 500), Config{TickRate: time.Microsecond}, nil)
	assert.Error(t, err, "tick too short for one sample")
}
