package playback

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// session is the per-connection replay state. Only its own handler writes it.
type session struct {
	id      string
	remote  string
	started time.Time

	cursor atomic.Int64
	ticks  atomic.Int64
	loops  atomic.Int64
}

func newSession(conn net.Conn) *session {
	return &session{
		id:      uuid.NewString(),
		remote:  conn.RemoteAddr().String(),
		started: time.Now(),
	}
}

func (s *session) advance(samples int) {
	s.cursor.Add(int64(samples))
	s.ticks.Add(1)
}

// SessionInfo describes one connected consumer.
type SessionInfo struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote"`
	Started time.Time `json:"started"`
	Cursor  int64     `json:"cursor"`
	Ticks   int64     `json:"ticks"`
	Loops   int64     `json:"loops"`
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:      s.id,
		Remote:  s.remote,
		Started: s.started,
		Cursor:  s.cursor.Load(),
		Ticks:   s.ticks.Load(),
		Loops:   s.loops.Load(),
	}
}

func itoa(v int) string { return strconv.Itoa(v) }
