// Package playback replays a recording to TCP consumers in real time.
//
// Every connection gets its own cursor into the recording and its own tick
// loop. On each tick the next slice of every channel is written as one
// super-segment: channel 0's samples, then channel 1's, and so on, each
// encoded with the sample codec. The consumer derives segment boundaries from
// the agreed segment length, which equals the number of samples per tick.
package playback

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/net/netutil"

	"github.com/rjboer/meaviz/internal/codec"
	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/source"
)

var (
	// ErrBind means the listening socket could not be created.
	ErrBind = eris.New("bind failed")
	// ErrAccept means the accept loop hit a non-transient error.
	ErrAccept = eris.New("accept failed")
	// ErrClientIO marks a failed write to one consumer. It is logged, never returned.
	ErrClientIO = eris.New("client i/o failure")
	// ErrServed is returned by a second call to Serve or ListenAndServe.
	ErrServed = eris.New("server already started")
)

// Config controls listening and pacing.
type Config struct {
	Listen       string
	TickRate     time.Duration
	WriteTimeout time.Duration
	MaxClients   int  // 0 means unlimited
	Loop         bool // restart from the beginning at the end of the recording
	Advertise    bool // announce the server over mDNS
	Instance     string
}

// Server replays a Source to every connected consumer independently.
type Server struct {
	cfg         Config
	src         source.Source
	logger      logging.Logger
	dataPerTick int

	mu       sync.Mutex
	ln       net.Listener
	sessions map[string]*session

	ready     chan struct{}
	readyOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
}

// New validates the configuration against the source.
func New(src source.Source, cfg Config, logger logging.Logger) (*Server, error) {
	if src == nil {
		return nil, eris.New("playback needs a source")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.Instance == "" {
		cfg.Instance = "meaviz playback"
	}
	if logger == nil {
		logger = logging.Default()
	}

	perTick := int(math.Round(src.SampleRate() * cfg.TickRate.Seconds()))
	if perTick <= 0 {
		return nil, eris.Errorf("tick rate %s yields no samples at %v Hz", cfg.TickRate, src.SampleRate())
	}
	if src.Len() < perTick {
		return nil, eris.Errorf("recording holds %d samples, one tick needs %d", src.Len(), perTick)
	}

	return &Server{
		cfg:         cfg,
		src:         src,
		logger:      logger.With(logging.Field{Key: "subsystem", Value: "playback"}),
		dataPerTick: perTick,
		sessions:    make(map[string]*session),
		ready:       make(chan struct{}),
	}, nil
}

// DataPerTick is the per-channel sample count of each super-segment, which
// is also the segment length consumers must be configured with.
func (s *Server) DataPerTick() int { return s.dataPerTick }

// Ready is closed once the server is listening, or once it has failed to
// start. Addr is nil in the latter case.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) markReady() { s.readyOnce.Do(func() { close(s.ready) }) }

// Addr is the listening address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe binds cfg.Listen and serves until ctx is cancelled.
// A bind failure is fatal and returned wrapped in ErrBind.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.started.Load() {
		return ErrServed
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.markReady()
		s.logger.Error("could not bind", logging.Field{Key: "listen", Value: s.cfg.Listen}, logging.Field{Key: "err", Value: err})
		return eris.Wrapf(ErrBind, "listen %s: %v", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open session and waits for their handlers to return.
// A Server serves once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServed
	}
	if s.cfg.MaxClients > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxClients)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.markReady()

	s.logger.Info("server started",
		logging.Field{Key: "addr", Value: ln.Addr().String()},
		logging.Field{Key: "data_per_tick", Value: s.dataPerTick},
		logging.Field{Key: "tick", Value: s.cfg.TickRate.String()},
	)

	if s.cfg.Advertise {
		adv, err := Advertise(s.cfg.Instance, ln.Addr(), s.txtRecords())
		if err != nil {
			s.logger.Warn("mDNS advertisement failed", logging.Field{Key: "err", Value: err})
		} else {
			defer adv.Shutdown()
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("shutdown requested, listener closed")
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			_ = ln.Close()
			return eris.Wrapf(ErrAccept, "%v", err)
		}

		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

// handle runs one consumer's replay. Nothing here touches another session.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sess := newSession(conn)
	log := s.logger.With(
		logging.Field{Key: "session", Value: sess.id},
		logging.Field{Key: "remote", Value: sess.remote},
	)
	s.track(sess)
	defer s.untrack(sess)

	// Closing the socket unblocks a pending Write on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log.Info("received connection")

	ticker := time.NewTicker(s.cfg.TickRate)
	defer ticker.Stop()

	buf := make([]byte, 0, s.src.Channels()*s.dataPerTick*codec.Width)
	for {
		payload, ok, err := s.nextSuperSegment(sess, buf[:0])
		if err != nil {
			log.Error("reading recording failed", logging.Field{Key: "err", Value: err})
			return
		}
		if !ok {
			log.Info("end of recording, closing connection", logging.Field{Key: "ticks", Value: sess.ticks.Load()})
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := conn.Write(payload); err != nil {
			if ctx.Err() == nil {
				log.Info("closing connection", logging.Field{Key: "err", Value: eris.Wrap(ErrClientIO, err.Error())})
			}
			return
		}
		sess.advance(s.dataPerTick)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// nextSuperSegment encodes the slice at the session cursor. ok is false once
// the recording is exhausted and looping is off.
func (s *Server) nextSuperSegment(sess *session, dst []byte) ([]byte, bool, error) {
	start := int(sess.cursor.Load())
	if start+s.dataPerTick > s.src.Len() {
		if !s.cfg.Loop {
			return nil, false, nil
		}
		start = 0
		sess.cursor.Store(0)
		sess.loops.Add(1)
	}
	end := start + s.dataPerTick

	for ch := 0; ch < s.src.Channels(); ch++ {
		samples, err := s.src.ChannelRange(ch, start, end)
		if err != nil {
			return nil, false, err
		}
		dst = codec.EncodeSegment(dst, samples)
	}
	return dst, true, nil
}

func (s *Server) txtRecords() []string {
	return []string{
		"channels=" + itoa(s.src.Channels()),
		"rate=" + itoa(int(s.src.SampleRate())),
		"segment=" + itoa(s.dataPerTick),
		"width=" + itoa(codec.Width),
	}
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// ActiveSessions counts connected consumers.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of every connected consumer.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	return out
}
