package collab

import (
	"sync/atomic"
	"time"

	"toolforge/api/internal/util"
)

// Session is one connected participant's live relationship to one open
// document. The events channel is written only by the owning document actor
// and closed by it when the session ends, so receivers can range until
// close. A session whose buffer overflows is force-closed rather than
// allowed to stall the document.
type Session struct {
	id          string
	documentID  string
	userID      string
	connectedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the latest heartbeat
	closed   atomic.Bool

	events chan Event
}

func newSession(documentID, userID string, buffer int) *Session {
	s := &Session{
		id:          util.NewID("sess"),
		documentID:  documentID,
		userID:      userID,
		connectedAt: time.Now().UTC(),
		events:      make(chan Event, buffer),
	}
	s.lastSeen.Store(s.connectedAt.UnixNano())
	return s
}

func (s *Session) ID() string             { return s.id }
func (s *Session) DocumentID() string     { return s.documentID }
func (s *Session) UserID() string         { return s.userID }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Events is the per-session broadcast queue. It is closed when the session
// leaves, times out, or is evicted as a slow consumer.
func (s *Session) Events() <-chan Event { return s.events }

// Closed reports whether the session has ended.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) lastHeartbeat() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) presenceInfo() PresenceInfo {
	return PresenceInfo{
		UserID:          s.userID,
		ConnectedAt:     s.connectedAt,
		LastHeartbeatAt: s.lastHeartbeat().UTC(),
	}
}
