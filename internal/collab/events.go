// Package collab is the server-authoritative synchronization engine: one
// sequential actor per document establishes a total order over concurrent
// edits, resolves stale-base conflicts deterministically, and fans the
// resulting effects out to every connected session.
package collab

import (
	"time"

	"toolforge/api/internal/document"
)

// EventKind discriminates broadcast events delivered to sessions.
type EventKind string

const (
	// EventOp carries the effect of one sequenced op.
	EventOp EventKind = "op"
	// EventPresence carries a join/leave transition.
	EventPresence EventKind = "presence"
)

// PresenceState is the direction of a presence transition.
type PresenceState string

const (
	PresenceJoined PresenceState = "joined"
	PresenceLeft   PresenceState = "left"
)

// Event is one entry in a session's outbound queue. Events for a document
// are delivered to every session in the order they were sequenced.
type Event struct {
	Kind           EventKind        `json:"kind"`
	DocumentID     string           `json:"documentId"`
	ServerSequence int64            `json:"serverSequence,omitempty"`
	Effect         *document.Effect `json:"effect,omitempty"`
	UserID         string           `json:"userId,omitempty"`
	State          PresenceState    `json:"state,omitempty"`
}

// PresenceInfo describes one connected participant.
type PresenceInfo struct {
	UserID          string    `json:"userId"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// JoinState is what a joining participant receives before any broadcasts:
// the full current snapshot plus who else is connected.
type JoinState struct {
	Snapshot document.Snapshot `json:"snapshot"`
	Presence []PresenceInfo    `json:"presence"`
}

// SubmitResult is the synchronous outcome of one submission. Accepted means
// the op applied against the exact base version the client knew (an ack);
// otherwise the op was resolved against a newer version per the conflict
// policy and the client should reconcile to Effect (a conflict, not a
// failure). Both shapes carry enough for the client to reapply optimistic
// state without a resync.
type SubmitResult struct {
	OpID           string          `json:"opId"`
	Accepted       bool            `json:"accepted"`
	ServerSequence int64           `json:"serverSequence"`
	Version        int64           `json:"version"`
	Effect         document.Effect `json:"effect"`
}
