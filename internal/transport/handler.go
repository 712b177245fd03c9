// Package transport binds the collaboration engine to WebSocket. One
// connection carries one session: the first message must be a join, after
// which submits, heartbeats, and leaves are dispatched to the engine and
// broadcasts flow back over the session's event queue.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/document"
)

const writeTimeout = 10 * time.Second

// Handler upgrades HTTP requests to collaboration sessions.
type Handler struct {
	engine   *collab.Engine
	upgrader websocket.Upgrader
}

func NewHandler(engine *collab.Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: upgrade failed: %v", err)
		return
	}
	go h.serve(conn)
}

func (h *Handler) serve(conn *websocket.Conn) {
	defer conn.Close()

	sess, err := h.handshake(conn)
	if err != nil {
		log.Printf("transport: handshake failed: %v", err)
		return
	}
	// A broken transport mid-anything is a leave. Idempotent if the engine
	// already evicted the session.
	defer h.engine.Leave(sess)

	out := make(chan ServerMessage, 16)
	done := make(chan struct{})
	go h.writeLoop(conn, sess, out, done)
	h.readLoop(conn, sess, out, done)
}

// handshake reads the join message and registers the session. The snapshot
// response is written directly: the write loop does not exist yet.
func (h *Handler) handshake(conn *websocket.Conn) (*collab.Session, error) {
	var msg ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	if msg.Type != MsgJoin {
		h.writeNow(conn, ServerMessage{Type: MsgReject, Error: "first message must be join"})
		return nil, errors.New("first message was " + msg.Type)
	}

	// The upgraded connection outlives the HTTP request, so engine calls
	// use a fresh timeout rather than the request context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sess, state, err := h.engine.Join(ctx, msg.DocumentID, msg.UserID)
	if err != nil {
		h.writeNow(conn, ServerMessage{Type: MsgReject, Error: err.Error()})
		return nil, err
	}

	h.writeNow(conn, ServerMessage{
		Type:       MsgSnapshot,
		DocumentID: msg.DocumentID,
		Snapshot:   &state.Snapshot,
		Version:    state.Snapshot.Version,
		Presence:   state.Presence,
	})
	return sess, nil
}

// readLoop handles client messages until the connection breaks or the
// client leaves.
func (h *Handler) readLoop(conn *websocket.Conn, sess *collab.Session, out chan<- ServerMessage, done <-chan struct{}) {
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case MsgSubmit:
			h.submit(sess, msg.Op, out, done)
		case MsgHeartbeat:
			h.engine.Heartbeat(sess)
			send(out, done, ServerMessage{Type: MsgHeartbeatAck})
		case MsgLeave:
			h.engine.Leave(sess)
			return
		default:
			send(out, done, ServerMessage{Type: MsgReject, Error: "unknown message type " + msg.Type})
		}
	}
}

func (h *Handler) submit(sess *collab.Session, raw json.RawMessage, out chan<- ServerMessage, done <-chan struct{}) {
	var op document.ChangeOp
	if err := json.Unmarshal(raw, &op); err != nil {
		send(out, done, ServerMessage{Type: MsgReject, Error: "malformed op: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := h.engine.Submit(ctx, sess, &op)
	if err != nil {
		send(out, done, ServerMessage{Type: MsgReject, OpID: op.OpID, Error: err.Error()})
		return
	}
	send(out, done, resultMessage(res))
}

// writeLoop is the single writer for the connection. It multiplexes
// synchronous responses with the session's broadcast queue; when the queue
// closes the session is over and the client gets a close notice.
func (h *Handler) writeLoop(conn *websocket.Conn, sess *collab.Session, out <-chan ServerMessage, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg := <-out:
			if !h.writeNow(conn, msg) {
				return
			}
		case ev, ok := <-sess.Events():
			if !ok {
				h.writeNow(conn, ServerMessage{Type: MsgClose, DocumentID: sess.DocumentID()})
				conn.Close()
				return
			}
			if !h.writeNow(conn, eventMessage(ev)) {
				return
			}
		}
	}
}

func (h *Handler) writeNow(conn *websocket.Conn, msg ServerMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	return true
}

// send queues a message for the write loop unless the connection is already
// shutting down; a response must never block the read loop forever.
func send(out chan<- ServerMessage, done <-chan struct{}, msg ServerMessage) {
	select {
	case out <- msg:
	case <-done:
	}
}
