package connectionmgr

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rotisserie/eris"

	"github.com/rjboer/meaviz/internal/logging"
)

var (
	// ErrConnectionClosed means the producer went away, possibly mid-segment.
	ErrConnectionClosed = eris.New("connection closed by peer")
	// ErrNotConnected is returned by operations that need a live socket.
	ErrNotConnected = eris.New("not connected")
	// ErrPendingUnsupported means the socket cannot report its unread byte count.
	ErrPendingUnsupported = eris.New("pending byte count not supported")
)

// Manager owns the consumer side TCP connection to a producer.
//
// Reads are not buffered: the pending byte count reported by the kernel is
// the only measure of how far behind the consumer is, and a userspace buffer
// would hide data from it.
type Manager struct {
	Address string
	Timeout time.Duration // per dial attempt
	Retries uint64        // extra dial attempts after the first
	Logger  logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool // Close was called since the last Connect
}

// ---------- Construction / lifecycle ----------

func New(addr string) *Manager {
	return &Manager{
		Address: addr,
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// Connect dials the producer, retrying with exponential backoff.
func (m *Manager) Connect(ctx context.Context) error {
	if m == nil {
		return eris.New("nil Manager")
	}
	dialer := net.Dialer{Timeout: m.Timeout}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, m.Retries), ctx)

	var conn net.Conn
	dial := func() error {
		c, err := dialer.DialContext(ctx, "tcp", m.Address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger().Warn("dial failed, retrying",
			logging.Field{Key: "address", Value: m.Address},
			logging.Field{Key: "wait", Value: wait.String()},
			logging.Field{Key: "err", Value: err},
		)
	}
	if err := backoff.RetryNotify(dial, policy, notify); err != nil {
		return eris.Wrapf(err, "connect %s", m.Address)
	}

	m.mu.Lock()
	m.conn = conn
	m.closed = false
	m.mu.Unlock()
	m.logger().Info("connected", logging.Field{Key: "address", Value: m.Address})
	return nil
}

// Safe reinjection (tests, tunnels, etc.)
func (m *Manager) SetConn(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.closed = false
	m.mu.Unlock()
}

// Conn returns the current connection, or nil.
func (m *Manager) Conn() net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Close closes and forgets the connection, so a later Connect dials afresh.
// A blocked Read returns once it is closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.closed = true
	}
	m.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// live returns the current connection, ErrConnectionClosed after Close, or
// ErrNotConnected before the first Connect.
func (m *Manager) live() (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.conn != nil:
		return m.conn, nil
	case m.closed:
		return nil, ErrConnectionClosed
	default:
		return nil, ErrNotConnected
	}
}

// Read reads directly from the socket.
func (m *Manager) Read(p []byte) (int, error) {
	conn, err := m.live()
	if err != nil {
		return 0, err
	}
	return conn.Read(p)
}

// PendingBytes reports how many received bytes are waiting to be read.
// It never consumes data.
func (m *Manager) PendingBytes() (int, error) {
	conn, err := m.live()
	if err != nil {
		return 0, err
	}
	return pendingBytes(conn)
}

// ---------- Logging ----------

func (m *Manager) logger() logging.Logger {
	if m == nil || m.Logger == nil {
		return logging.Default()
	}
	return m.Logger
}

func (m *Manager) SetLogger(l logging.Logger) {
	m.Logger = l
}
