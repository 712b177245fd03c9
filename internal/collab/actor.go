package collab

import (
	"context"
	"fmt"
	"log"
	"time"

	"toolforge/api/internal/document"
	"toolforge/api/internal/util"
)

// docActor owns the authoritative state of exactly one document. Every
// command for the document flows through its mailbox and is handled
// one-at-a-time, so ops observe a single total order and no lock protects
// the document itself. Independent documents run on independent actors.
type docActor struct {
	engine *Engine
	id     string

	mailbox chan actorCmd

	doc      *document.ToolDocument
	sessions map[*Session]struct{}
	dedup    *dedupWindow
}

type actorCmd interface{ isCmd() }

type joinCmd struct {
	sess  *Session
	reply chan JoinState
}

type leaveCmd struct {
	sess  *Session
	reply chan struct{}
}

type submitCmd struct {
	op    *document.ChangeOp
	reply chan submitReply
}

type snapshotCmd struct {
	reply chan JoinState
}

type submitReply struct {
	res SubmitResult
	err error
}

func (joinCmd) isCmd()     {}
func (leaveCmd) isCmd()    {}
func (submitCmd) isCmd()   {}
func (snapshotCmd) isCmd() {}

func newDocActor(engine *Engine, doc *document.ToolDocument) *docActor {
	return &docActor{
		engine:   engine,
		id:       doc.ID,
		mailbox:  make(chan actorCmd, 32),
		doc:      doc,
		sessions: make(map[*Session]struct{}),
		dedup:    newDedupWindow(engine.opts.DedupWindow),
	}
}

func (a *docActor) run(ctx context.Context) {
	defer a.engine.wg.Done()

	sweep := a.engine.opts.HeartbeatTimeout / 4
	if sweep < 10*time.Millisecond {
		sweep = 10 * time.Millisecond
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case cmd := <-a.mailbox:
			a.handle(cmd)
		case <-ticker.C:
			a.sweepStale()
		}
	}
}

func (a *docActor) handle(cmd actorCmd) {
	switch c := cmd.(type) {
	case joinCmd:
		a.join(c.sess)
		c.reply <- a.state()
	case leaveCmd:
		a.drop(c.sess, true)
		c.reply <- struct{}{}
	case submitCmd:
		res, err := a.submit(c.op)
		c.reply <- submitReply{res: res, err: err}
	case snapshotCmd:
		c.reply <- a.state()
	}
}

func (a *docActor) state() JoinState {
	presence := make([]PresenceInfo, 0, len(a.sessions))
	for s := range a.sessions {
		presence = append(presence, s.presenceInfo())
	}
	return JoinState{Snapshot: a.doc.Snapshot(), Presence: presence}
}

func (a *docActor) join(sess *Session) {
	a.sessions[sess] = struct{}{}
	a.engine.presenceSet(a.id, sess.UserID(), sess.ConnectedAt())
	a.broadcastExcept(Event{
		Kind:       EventPresence,
		DocumentID: a.id,
		UserID:     sess.UserID(),
		State:      PresenceJoined,
	}, sess)
}

// submit sequences one op. Only structurally invalid ops are rejected;
// version conflicts are resolved per policy and reported as a non-accepted
// (conflict) result carrying the resolved effect.
func (a *docActor) submit(op *document.ChangeOp) (SubmitResult, error) {
	if err := op.Validate(); err != nil {
		return SubmitResult{}, err
	}
	if op.DocumentID != a.id {
		return SubmitResult{}, fmt.Errorf("%w: op for document %s submitted to %s", document.ErrMalformedOp, op.DocumentID, a.id)
	}
	if res, ok := a.dedup.get(op.OpID); ok {
		return res, nil
	}

	fresh := op.BaseVersion == a.doc.Version

	if op.Kind == document.OpAddComponent {
		// The client-side id is a placeholder until ack. Allocate the
		// authoritative id when it is absent or collides.
		c := &op.Add.Component
		if c.ID == "" || a.doc.ComponentIndex(c.ID) >= 0 {
			c.ID = util.NewComponentID()
		}
	}

	effect, err := a.doc.Apply(op)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("apply op %s: %w", op.OpID, err)
	}

	res := SubmitResult{
		OpID:           op.OpID,
		Accepted:       fresh,
		ServerSequence: effect.Version,
		Version:        a.doc.Version,
		Effect:         effect,
	}
	a.dedup.put(op.OpID, res)

	if !effect.Dropped && a.engine.sink != nil {
		rec, recErr := op.Record(effect.Version, time.Now().UTC())
		if recErr != nil {
			log.Printf("collab: op record %s: %v", op.OpID, recErr)
		} else {
			a.engine.sink.OpAccepted(a.doc.Snapshot(), rec)
		}
	}

	a.broadcast(Event{
		Kind:           EventOp,
		DocumentID:     a.id,
		ServerSequence: effect.Version,
		Effect:         &effect,
	})
	return res, nil
}

// broadcast fans an event out to every session, the submitter included. A
// session that cannot take the event without blocking is force-dropped so a
// stalled consumer never holds up the document.
func (a *docActor) broadcast(ev Event) {
	a.broadcastExcept(ev, nil)
}

func (a *docActor) broadcastExcept(ev Event, skip *Session) {
	var dead []*Session
	for s := range a.sessions {
		if s == skip {
			continue
		}
		select {
		case s.events <- ev:
		default:
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		log.Printf("collab: dropping slow session %s on %s", s.ID(), a.id)
		a.drop(s, true)
	}
}

// drop removes a session and closes its event queue. Idempotent. The left
// transition is announced only when no other session keeps the same user
// present.
func (a *docActor) drop(sess *Session, announce bool) {
	if _, ok := a.sessions[sess]; !ok {
		return
	}
	delete(a.sessions, sess)
	sess.closed.Store(true)
	close(sess.events)

	if a.userPresent(sess.UserID()) {
		return
	}
	a.engine.presenceRemove(a.id, sess.UserID())
	if announce {
		a.broadcast(Event{
			Kind:       EventPresence,
			DocumentID: a.id,
			UserID:     sess.UserID(),
			State:      PresenceLeft,
		})
	}
}

func (a *docActor) userPresent(userID string) bool {
	for s := range a.sessions {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

func (a *docActor) sweepStale() {
	cutoff := time.Now().Add(-a.engine.opts.HeartbeatTimeout)
	var stale []*Session
	for s := range a.sessions {
		if s.lastHeartbeat().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		log.Printf("collab: heartbeat timeout for session %s (user %s) on %s", s.ID(), s.UserID(), a.id)
		a.drop(s, true)
	}
}

func (a *docActor) shutdown() {
	for s := range a.sessions {
		delete(a.sessions, s)
		s.closed.Store(true)
		close(s.events)
	}
}
