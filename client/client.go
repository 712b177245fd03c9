// Package client is the Go SDK for the collaboration websocket. It keeps a
// local replica of one tool document, applies edits optimistically, and
// reconciles the replica from the server's acks, conflicts, and broadcasts.
// The connection self-heals: on transport failure the client reconnects with
// exponential backoff, resynchronizes from a fresh snapshot, and resubmits
// whatever was still in flight (safe: the server deduplicates by op id).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/document"
	"toolforge/api/internal/transport"
	"toolforge/api/internal/util"
)

// Options configures a client. URL, DocumentID, and UserID are required.
type Options struct {
	URL        string // websocket endpoint, e.g. ws://localhost:8788/ws
	DocumentID string
	UserID     string

	// HeartbeatInterval defaults to 10s; keep it well under the server's
	// heartbeat timeout.
	HeartbeatInterval time.Duration

	// OnEffect is called for every effect folded into the replica, in the
	// order it was folded. Optional.
	OnEffect func(document.Effect)
	// OnPresence is called when another participant joins or leaves. Optional.
	OnPresence func(userID string, state collab.PresenceState)
	// OnResult is called when a submitted op resolves: accepted, resolved as
	// a conflict, or rejected outright. Optional.
	OnResult func(opID string, accepted bool, err error)
}

// Client is a live session on one document. Safe for concurrent use.
type Client struct {
	opts Options

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	confirmed *document.ToolDocument
	pending   []*document.ChangeOp
	ahead     map[int64]document.Effect
	resolved  chan struct{}
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" || opts.DocumentID == "" || opts.UserID == "" {
		return nil, fmt.Errorf("client requires URL, DocumentID, and UserID")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	return &Client{
		opts:     opts,
		ahead:    make(map[int64]document.Effect),
		resolved: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Connect dials the server, joins the document, and starts the read and
// heartbeat loops. The replica is ready when Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	conn, snap, err := c.dialAndJoin(ctx)
	if err != nil {
		return err
	}
	doc, err := document.Restore(snap)
	if err != nil {
		conn.Close()
		return fmt.Errorf("restore snapshot: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.confirmed = doc
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.heartbeatLoop()
	return nil
}

func (c *Client) dialAndJoin(ctx context.Context) (*websocket.Conn, document.Snapshot, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, document.Snapshot{}, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	join := transport.ClientMessage{
		Type:       transport.MsgJoin,
		DocumentID: c.opts.DocumentID,
		UserID:     c.opts.UserID,
	}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, document.Snapshot{}, fmt.Errorf("send join: %w", err)
	}
	var msg transport.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, document.Snapshot{}, fmt.Errorf("read join response: %w", err)
	}
	if msg.Type != transport.MsgSnapshot || msg.Snapshot == nil {
		conn.Close()
		return nil, document.Snapshot{}, fmt.Errorf("join rejected: %s", msg.Error)
	}
	return conn, *msg.Snapshot, nil
}

// Close leaves the document and tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		_ = c.writeMessage(conn, transport.ClientMessage{Type: transport.MsgLeave})
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

// SetField submits a scalar field edit and returns the op id.
func (c *Client) SetField(field document.Field, value string) (string, error) {
	return c.submit(document.ChangeOp{
		Kind:     document.OpSetField,
		SetField: &document.SetFieldPayload{Field: field, Value: value},
	})
}

// AddComponent submits an insertion. A missing component id gets a
// client-proposed one; the server keeps it unless it collides.
func (c *Client) AddComponent(comp document.ToolComponent) (string, error) {
	if comp.ID == "" {
		comp.ID = util.NewComponentID()
	}
	return c.submit(document.ChangeOp{
		Kind: document.OpAddComponent,
		Add:  &document.AddComponentPayload{Component: comp},
	})
}

func (c *Client) RemoveComponent(componentID string) (string, error) {
	return c.submit(document.ChangeOp{
		Kind:   document.OpRemoveComponent,
		Remove: &document.RemoveComponentPayload{ComponentID: componentID},
	})
}

func (c *Client) UpdateComponent(update document.UpdateComponentPayload) (string, error) {
	return c.submit(document.ChangeOp{
		Kind:   document.OpUpdateComponent,
		Update: &update,
	})
}

// MoveComponent places componentID immediately after the anchor; an empty
// anchor means head of the list.
func (c *Client) MoveComponent(componentID, after string) (string, error) {
	return c.submit(document.ChangeOp{
		Kind: document.OpMoveComponent,
		Move: &document.MoveComponentPayload{ComponentID: componentID, After: after},
	})
}

// Document returns the optimistic view: the last confirmed state with the
// in-flight ops applied on top.
func (c *Client) Document() document.ToolDocument {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.confirmed.Clone()
	for _, op := range c.pending {
		if _, err := view.Apply(op); err != nil {
			log.Printf("client: optimistic apply %s: %v", op.OpID, err)
		}
	}
	return *view
}

// Version returns the confirmed (server-acknowledged) document version.
func (c *Client) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed.Version
}

// Flush blocks until every in-flight op has resolved or ctx expires.
func (c *Client) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		n := len(c.pending)
		c.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-c.resolved:
		case <-c.done:
			return fmt.Errorf("client closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) submit(op document.ChangeOp) (string, error) {
	c.mu.Lock()
	if c.closed || c.confirmed == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("client is not connected")
	}
	op.OpID = uuid.NewString()
	op.DocumentID = c.opts.DocumentID
	op.Author = c.opts.UserID
	op.BaseVersion = c.confirmed.Version
	op.ClientTimestamp = time.Now().UTC()
	c.pending = append(c.pending, &op)
	conn := c.conn
	c.mu.Unlock()

	raw, err := json.Marshal(&op)
	if err != nil {
		c.drop(op.OpID)
		return "", fmt.Errorf("marshal op: %w", err)
	}
	if conn == nil {
		// Connection is down mid-reconnect. The op stays pending and the
		// reconnect path resubmits it after the resync.
		return op.OpID, nil
	}
	if err := c.writeMessage(conn, transport.ClientMessage{Type: transport.MsgSubmit, Op: raw}); err != nil {
		// Leave the op pending; the reconnect path resubmits it.
		return op.OpID, nil
	}
	return op.OpID, nil
}

func (c *Client) writeMessage(conn *websocket.Conn, msg transport.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn != nil {
				_ = c.writeMessage(conn, transport.ClientMessage{Type: transport.MsgHeartbeat})
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var msg transport.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.reconnect()
			return
		}
		switch msg.Type {
		case transport.MsgAck:
			c.resolve(msg.OpID, msg.Effect, true, nil)
		case transport.MsgConflict:
			// The op was resolved against newer state, not discarded. The
			// effect says what actually happened.
			c.resolve(msg.OpID, msg.Effect, false, nil)
		case transport.MsgReject:
			if msg.OpID != "" {
				c.resolve(msg.OpID, nil, false, fmt.Errorf("rejected: %s", msg.Error))
			} else {
				log.Printf("client: server rejected message: %s", msg.Error)
			}
		case transport.MsgBroadcast:
			if msg.Effect != nil {
				c.fold(*msg.Effect)
			}
		case transport.MsgPresence:
			if c.opts.OnPresence != nil {
				c.opts.OnPresence(msg.UserID, msg.State)
			}
		case transport.MsgHeartbeatAck:
			// liveness only
		case transport.MsgClose:
			c.reconnect()
			return
		}
	}
}

// resolve finalizes an in-flight op: the effect is folded into the confirmed
// replica and the op leaves the pending set.
func (c *Client) resolve(opID string, effect *document.Effect, accepted bool, err error) {
	c.drop(opID)
	if effect != nil {
		c.fold(*effect)
	}
	if c.opts.OnResult != nil {
		c.opts.OnResult(opID, accepted, err)
	}
	select {
	case c.resolved <- struct{}{}:
	default:
	}
}

func (c *Client) drop(opID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, op := range c.pending {
		if op.OpID == opID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// fold applies a server effect to the confirmed replica in version order.
// Effects can arrive out of order (an ack races the broadcasts queued ahead
// of it) and in duplicate (the submitter sees its own effect as both ack and
// broadcast): stale versions are skipped, future versions are held back
// until the gap fills. Dropped effects carry the current version and are
// folded immediately so an optimistic mutation of a vanished component
// self-heals.
func (c *Client) fold(effect document.Effect) {
	var applied []document.Effect
	c.mu.Lock()
	switch {
	case effect.Dropped:
		// A no-op acknowledgment. Fold it only once the replica has caught
		// up to its version; an early copy that raced ahead of pending
		// broadcasts is skipped and the in-order broadcast copy heals later.
		if effect.Version <= c.confirmed.Version {
			c.confirmed.ApplyEffect(effect)
			applied = append(applied, effect)
		}
	case effect.Version <= c.confirmed.Version:
		// duplicate of an already folded effect
	default:
		c.ahead[effect.Version] = effect
		for {
			next, ok := c.ahead[c.confirmed.Version+1]
			if !ok {
				break
			}
			delete(c.ahead, next.Version)
			c.confirmed.ApplyEffect(next)
			applied = append(applied, next)
		}
	}
	c.mu.Unlock()
	if c.opts.OnEffect != nil {
		for _, e := range applied {
			c.opts.OnEffect(e)
		}
	}
}

// reconnect is the resync fallback: dial with backoff, rejoin for a fresh
// snapshot, replace the confirmed replica, and resubmit the in-flight ops.
// The server's op-id window makes resubmission of already-accepted ops a
// no-op.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 5 * time.Minute

	var conn *websocket.Conn
	var snap document.Snapshot
	attempt := func() error {
		select {
		case <-c.done:
			return backoff.Permanent(fmt.Errorf("client closed"))
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		conn, snap, err = c.dialAndJoin(ctx)
		return err
	}
	if err := backoff.Retry(attempt, policy); err != nil {
		log.Printf("client: reconnect to %s gave up: %v", c.opts.DocumentID, err)
		return
	}

	doc, err := document.Restore(snap)
	if err != nil {
		log.Printf("client: resync snapshot invalid: %v", err)
		conn.Close()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.confirmed = doc
	c.ahead = make(map[int64]document.Effect)
	resubmit := make([]*document.ChangeOp, len(c.pending))
	copy(resubmit, c.pending)
	c.mu.Unlock()
	log.Printf("client: resynced %s at version %d, resubmitting %d ops", c.opts.DocumentID, doc.Version, len(resubmit))

	for _, op := range resubmit {
		raw, err := json.Marshal(op)
		if err != nil {
			continue
		}
		if err := c.writeMessage(conn, transport.ClientMessage{Type: transport.MsgSubmit, Op: raw}); err != nil {
			break
		}
	}

	c.wg.Add(1)
	go c.readLoop(conn)
}
