package collab

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"toolforge/api/internal/document"
)

// SnapshotLoader rehydrates a document from durable storage on first load
// after a restart. ok=false means nothing is persisted yet and the engine
// starts the document empty at version 0.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, documentID string) (document.Snapshot, bool, error)
}

// PersistenceSink is notified of every accepted mutating op together with
// the snapshot that resulted from it. Implementations must not block: the
// call happens on the document's actor.
type PersistenceSink interface {
	OpAccepted(snap document.Snapshot, rec document.OpRecord)
}

// PresenceStore mirrors presence transitions into an external registry so
// other instances and the HTTP surface can see who is connected. Calls are
// made off the actor goroutine and are best-effort.
type PresenceStore interface {
	Set(ctx context.Context, documentID, userID string, connectedAt time.Time) error
	Refresh(ctx context.Context, documentID, userID string) error
	Remove(ctx context.Context, documentID, userID string) error
}

// Options tunes the engine. Zero values fall back to sensible defaults.
type Options struct {
	HeartbeatTimeout time.Duration
	SessionBuffer    int
	DedupWindow      int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = 30 * time.Second
	}
	if out.SessionBuffer <= 0 {
		out.SessionBuffer = 64
	}
	if out.DedupWindow <= 0 {
		out.DedupWindow = 512
	}
	return out
}

// Engine manages the per-document actors and is the only entry point for
// sessions. loader, sink, and presence may each be nil.
type Engine struct {
	opts     Options
	loader   SnapshotLoader
	sink     PersistenceSink
	presence PresenceStore

	mu     sync.Mutex
	actors map[string]*docActor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(opts Options, loader SnapshotLoader, sink PersistenceSink, presence PresenceStore) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:     opts.withDefaults(),
		loader:   loader,
		sink:     sink,
		presence: presence,
		actors:   make(map[string]*docActor),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Join registers a participant on a document and returns the session
// together with the current snapshot and presence. The snapshot is the
// state the session's broadcast stream continues from.
func (e *Engine) Join(ctx context.Context, documentID, userID string) (*Session, JoinState, error) {
	if documentID == "" || userID == "" {
		return nil, JoinState{}, fmt.Errorf("join requires documentId and userId")
	}
	a, err := e.actor(ctx, documentID)
	if err != nil {
		return nil, JoinState{}, err
	}
	sess := newSession(documentID, userID, e.opts.SessionBuffer)
	reply := make(chan JoinState, 1)
	if err := e.post(ctx, a, joinCmd{sess: sess, reply: reply}); err != nil {
		return nil, JoinState{}, err
	}
	select {
	case state := <-reply:
		return sess, state, nil
	case <-ctx.Done():
		return nil, JoinState{}, ctx.Err()
	}
}

// Submit forwards an op for sequencing and returns its outcome. The only
// error path is a malformed op (or engine shutdown); conflicts come back as
// a non-accepted SubmitResult.
func (e *Engine) Submit(ctx context.Context, sess *Session, op *document.ChangeOp) (SubmitResult, error) {
	if sess == nil || sess.Closed() {
		return SubmitResult{}, fmt.Errorf("submit on closed session")
	}
	a, err := e.actor(ctx, sess.DocumentID())
	if err != nil {
		return SubmitResult{}, err
	}
	reply := make(chan submitReply, 1)
	if err := e.post(ctx, a, submitCmd{op: op, reply: reply}); err != nil {
		return SubmitResult{}, err
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

// Heartbeat refreshes a session's liveness and its presence TTL.
func (e *Engine) Heartbeat(sess *Session) {
	if sess == nil || sess.Closed() {
		return
	}
	sess.touch()
	e.presenceRefresh(sess.DocumentID(), sess.UserID())
}

// Leave disconnects a session. Idempotent: leaving twice, or leaving after a
// heartbeat eviction, is a no-op.
func (e *Engine) Leave(sess *Session) {
	if sess == nil {
		return
	}
	e.mu.Lock()
	a, ok := e.actors[sess.DocumentID()]
	e.mu.Unlock()
	if !ok {
		return
	}
	reply := make(chan struct{}, 1)
	if err := e.post(e.ctx, a, leaveCmd{sess: sess, reply: reply}); err != nil {
		return
	}
	select {
	case <-reply:
	case <-e.ctx.Done():
	}
}

// Snapshot returns the current state and presence of a document. Always
// available as the resync fallback, idempotent regardless of caller
// staleness; loads the document if it is not resident.
func (e *Engine) Snapshot(ctx context.Context, documentID string) (JoinState, error) {
	a, err := e.actor(ctx, documentID)
	if err != nil {
		return JoinState{}, err
	}
	reply := make(chan JoinState, 1)
	if err := e.post(ctx, a, snapshotCmd{reply: reply}); err != nil {
		return JoinState{}, err
	}
	select {
	case state := <-reply:
		return state, nil
	case <-ctx.Done():
		return JoinState{}, ctx.Err()
	}
}

// Close stops every actor and closes all session event queues.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) post(ctx context.Context, a *docActor, cmd actorCmd) error {
	select {
	case a.mailbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return fmt.Errorf("engine closed")
	}
}

// actor returns the resident actor for a document, hydrating from the
// loader on first touch. Hydration happens outside the registry lock; a
// concurrent race loads twice and the loser's copy is discarded.
func (e *Engine) actor(ctx context.Context, documentID string) (*docActor, error) {
	e.mu.Lock()
	a, ok := e.actors[documentID]
	e.mu.Unlock()
	if ok {
		return a, nil
	}

	doc, err := e.hydrate(ctx, documentID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[documentID]; ok {
		return a, nil
	}
	a = newDocActor(e, doc)
	e.actors[documentID] = a
	e.wg.Add(1)
	go a.run(e.ctx)
	return a, nil
}

func (e *Engine) hydrate(ctx context.Context, documentID string) (*document.ToolDocument, error) {
	if e.loader == nil {
		return document.New(documentID), nil
	}
	snap, ok, err := e.loader.LoadSnapshot(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if !ok {
		return document.New(documentID), nil
	}
	doc, err := document.Restore(snap)
	if err != nil {
		return nil, err
	}
	log.Printf("collab: hydrated %s at version %d", documentID, doc.Version)
	return doc, nil
}

// Presence helpers run off-actor so a slow registry cannot stall sequencing.

func (e *Engine) presenceSet(documentID, userID string, connectedAt time.Time) {
	if e.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.presence.Set(ctx, documentID, userID, connectedAt); err != nil {
			log.Printf("collab: presence set %s/%s: %v", documentID, userID, err)
		}
	}()
}

func (e *Engine) presenceRefresh(documentID, userID string) {
	if e.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.presence.Refresh(ctx, documentID, userID); err != nil {
			log.Printf("collab: presence refresh %s/%s: %v", documentID, userID, err)
		}
	}()
}

func (e *Engine) presenceRemove(documentID, userID string) {
	if e.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.presence.Remove(ctx, documentID, userID); err != nil {
			log.Printf("collab: presence remove %s/%s: %v", documentID, userID, err)
		}
	}()
}
