package transport

import (
	"testing"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/document"
)

func TestResultMessageMapsAcceptance(t *testing.T) {
	accepted := resultMessage(collab.SubmitResult{
		OpID:           "op-1",
		Accepted:       true,
		ServerSequence: 4,
		Version:        4,
		Effect:         document.Effect{Op: document.OpSetField, Version: 4},
	})
	if accepted.Type != MsgAck {
		t.Errorf("expected ack, got %s", accepted.Type)
	}
	if accepted.OpID != "op-1" || accepted.ServerSequence != 4 || accepted.Effect == nil {
		t.Errorf("ack lost fields: %+v", accepted)
	}

	conflicted := resultMessage(collab.SubmitResult{OpID: "op-2", Accepted: false})
	if conflicted.Type != MsgConflict {
		t.Errorf("expected conflict, got %s", conflicted.Type)
	}
}

func TestEventMessageMapsKinds(t *testing.T) {
	op := eventMessage(collab.Event{
		Kind:           collab.EventOp,
		DocumentID:     "tool-1",
		ServerSequence: 7,
		Effect:         &document.Effect{Op: document.OpMoveComponent, Version: 7},
	})
	if op.Type != MsgBroadcast || op.ServerSequence != 7 || op.Effect == nil {
		t.Errorf("unexpected broadcast message: %+v", op)
	}

	pres := eventMessage(collab.Event{
		Kind:       collab.EventPresence,
		DocumentID: "tool-1",
		UserID:     "alice",
		State:      collab.PresenceLeft,
	})
	if pres.Type != MsgPresence || pres.UserID != "alice" || pres.State != collab.PresenceLeft {
		t.Errorf("unexpected presence message: %+v", pres)
	}
}
