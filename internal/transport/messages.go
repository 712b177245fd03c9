package transport

import (
	"encoding/json"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/document"
)

// Client-to-server message types.
const (
	MsgJoin      = "join"
	MsgSubmit    = "submit"
	MsgHeartbeat = "heartbeat"
	MsgLeave     = "leave"
)

// Server-to-client message types.
const (
	MsgSnapshot     = "snapshot"
	MsgAck          = "ack"
	MsgConflict     = "conflict"
	MsgReject       = "reject"
	MsgBroadcast    = "broadcast"
	MsgPresence     = "presence"
	MsgHeartbeatAck = "heartbeatAck"
	MsgClose        = "close"
)

// ClientMessage is the wire envelope for everything a client sends. The op
// stays raw until dispatch so one malformed submission is rejected on its
// own rather than killing the connection.
type ClientMessage struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	Op         json.RawMessage `json:"op,omitempty"`
}

// ServerMessage is the wire envelope for everything the server sends.
type ServerMessage struct {
	Type           string                `json:"type"`
	DocumentID     string                `json:"documentId,omitempty"`
	Snapshot       *document.Snapshot    `json:"snapshot,omitempty"`
	Presence       []collab.PresenceInfo `json:"presence,omitempty"`
	OpID           string                `json:"opId,omitempty"`
	ServerSequence int64                 `json:"serverSequence,omitempty"`
	Version        int64                 `json:"version,omitempty"`
	Effect         *document.Effect      `json:"effect,omitempty"`
	UserID         string                `json:"userId,omitempty"`
	State          collab.PresenceState  `json:"state,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func eventMessage(ev collab.Event) ServerMessage {
	switch ev.Kind {
	case collab.EventPresence:
		return ServerMessage{
			Type:       MsgPresence,
			DocumentID: ev.DocumentID,
			UserID:     ev.UserID,
			State:      ev.State,
		}
	default:
		return ServerMessage{
			Type:           MsgBroadcast,
			DocumentID:     ev.DocumentID,
			ServerSequence: ev.ServerSequence,
			Effect:         ev.Effect,
		}
	}
}

func resultMessage(res collab.SubmitResult) ServerMessage {
	msg := ServerMessage{
		OpID:           res.OpID,
		ServerSequence: res.ServerSequence,
		Version:        res.Version,
		Effect:         &res.Effect,
	}
	if res.Accepted {
		msg.Type = MsgAck
	} else {
		msg.Type = MsgConflict
	}
	return msg
}
