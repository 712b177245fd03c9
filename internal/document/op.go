package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// OpKind enumerates the edit intents a client can submit.
type OpKind string

const (
	OpSetField        OpKind = "setField"
	OpAddComponent    OpKind = "addComponent"
	OpRemoveComponent OpKind = "removeComponent"
	OpUpdateComponent OpKind = "updateComponent"
	OpMoveComponent   OpKind = "moveComponent"
)

type SetFieldPayload struct {
	Field Field  `json:"field"`
	Value string `json:"value"`
}

type AddComponentPayload struct {
	Component ToolComponent `json:"component"`
}

type RemoveComponentPayload struct {
	ComponentID string `json:"componentId"`
}

// UpdateComponentPayload is a partial update. Nil Label leaves the label
// untouched; nil Payload leaves the payload untouched. When Payload is set,
// Kind must match the target component's kind.
type UpdateComponentPayload struct {
	ComponentID string           `json:"componentId"`
	Label       *string          `json:"label,omitempty"`
	Kind        ComponentKind    `json:"kind,omitempty"`
	Payload     ComponentPayload `json:"-"`
	RawPayload  json.RawMessage  `json:"payload,omitempty"`
}

func (p UpdateComponentPayload) MarshalJSON() ([]byte, error) {
	raw := p.RawPayload
	if p.Payload != nil {
		encoded, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal update payload: %w", err)
		}
		raw = encoded
	}
	type alias UpdateComponentPayload
	shadow := alias(p)
	shadow.RawPayload = raw
	return json.Marshal(shadow)
}

// MoveComponentPayload places ComponentID immediately after After. An empty
// After means head of the list. Anchors instead of raw indexes let
// concurrent reorders by different users commute.
type MoveComponentPayload struct {
	ComponentID string `json:"componentId"`
	After       string `json:"after,omitempty"`
}

// ChangeOp is a single author-attributed edit intent submitted against a
// known base version. It is immutable after creation; the sequencer only
// rewrites a client-proposed component id on collision before folding the
// op into the document.
type ChangeOp struct {
	OpID            string                  `json:"opId"`
	DocumentID      string                  `json:"documentId"`
	Author          string                  `json:"author"`
	BaseVersion     int64                   `json:"baseVersion"`
	ClientTimestamp time.Time               `json:"clientTimestamp"`
	Kind            OpKind                  `json:"kind"`
	SetField        *SetFieldPayload        `json:"setField,omitempty"`
	Add             *AddComponentPayload    `json:"addComponent,omitempty"`
	Remove          *RemoveComponentPayload `json:"removeComponent,omitempty"`
	Update          *UpdateComponentPayload `json:"updateComponent,omitempty"`
	Move            *MoveComponentPayload   `json:"moveComponent,omitempty"`
}

// Validate rejects structurally invalid ops before sequencing. It checks
// that the op id parses as a UUID or ULID, that exactly the payload matching
// the declared kind is present, and that the payload itself is well-formed.
func (op *ChangeOp) Validate() error {
	if op.DocumentID == "" {
		return fmt.Errorf("%w: missing documentId", ErrMalformedOp)
	}
	if op.Author == "" {
		return fmt.Errorf("%w: missing author", ErrMalformedOp)
	}
	if !validOpID(op.OpID) {
		return fmt.Errorf("%w: opId %q is not a UUID or ULID", ErrMalformedOp, op.OpID)
	}
	if op.BaseVersion < 0 {
		return fmt.Errorf("%w: negative baseVersion", ErrMalformedOp)
	}
	if n := op.payloadCount(); n != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrMalformedOp, n)
	}

	switch op.Kind {
	case OpSetField:
		if op.SetField == nil {
			return payloadMismatch(op.Kind)
		}
		if !ValidFieldName(op.SetField.Field) {
			return fmt.Errorf("%w: unknown field %q", ErrMalformedOp, op.SetField.Field)
		}
	case OpAddComponent:
		if op.Add == nil {
			return payloadMismatch(op.Kind)
		}
		c := &op.Add.Component
		if !ValidComponentKind(c.Kind) {
			return fmt.Errorf("%w: unknown component kind %q", ErrMalformedOp, c.Kind)
		}
		if c.Payload == nil {
			return fmt.Errorf("%w: addComponent without payload", ErrMalformedOp)
		}
		if c.Payload.Kind() != c.Kind {
			return fmt.Errorf("%w: payload kind %s does not match component kind %s", ErrMalformedOp, c.Payload.Kind(), c.Kind)
		}
	case OpRemoveComponent:
		if op.Remove == nil {
			return payloadMismatch(op.Kind)
		}
		if op.Remove.ComponentID == "" {
			return fmt.Errorf("%w: removeComponent without componentId", ErrMalformedOp)
		}
	case OpUpdateComponent:
		if op.Update == nil {
			return payloadMismatch(op.Kind)
		}
		if op.Update.ComponentID == "" {
			return fmt.Errorf("%w: updateComponent without componentId", ErrMalformedOp)
		}
		if op.Update.Label == nil && op.Update.Payload == nil && len(op.Update.RawPayload) == 0 {
			return fmt.Errorf("%w: updateComponent with nothing to update", ErrMalformedOp)
		}
		if (op.Update.Payload != nil || len(op.Update.RawPayload) > 0) && !ValidComponentKind(op.Update.Kind) {
			return fmt.Errorf("%w: updateComponent payload requires a valid kind", ErrMalformedOp)
		}
		if op.Update.Payload == nil && len(op.Update.RawPayload) > 0 {
			payload, err := decodePayload(op.Update.Kind, op.Update.RawPayload)
			if err != nil {
				return err
			}
			op.Update.Payload = payload
		}
		if op.Update.Payload != nil && op.Update.Payload.Kind() != op.Update.Kind {
			return fmt.Errorf("%w: payload kind %s does not match declared kind %s", ErrMalformedOp, op.Update.Payload.Kind(), op.Update.Kind)
		}
	case OpMoveComponent:
		if op.Move == nil {
			return payloadMismatch(op.Kind)
		}
		if op.Move.ComponentID == "" {
			return fmt.Errorf("%w: moveComponent without componentId", ErrMalformedOp)
		}
		if op.Move.After == op.Move.ComponentID {
			return fmt.Errorf("%w: moveComponent anchored to itself", ErrMalformedOp)
		}
	default:
		return fmt.Errorf("%w: unknown op kind %q", ErrMalformedOp, op.Kind)
	}
	return nil
}

func (op *ChangeOp) payloadCount() int {
	n := 0
	if op.SetField != nil {
		n++
	}
	if op.Add != nil {
		n++
	}
	if op.Remove != nil {
		n++
	}
	if op.Update != nil {
		n++
	}
	if op.Move != nil {
		n++
	}
	return n
}

func payloadMismatch(kind OpKind) error {
	return fmt.Errorf("%w: missing %s payload", ErrMalformedOp, kind)
}

func validOpID(id string) bool {
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	if _, err := ulid.ParseStrict(id); err == nil {
		return true
	}
	return false
}

// OpRecord is the durable op-log row for one accepted, mutating op, ordered
// by ServerSequence within a document.
type OpRecord struct {
	OpID           string          `json:"opId"`
	DocumentID     string          `json:"documentId"`
	ServerSequence int64           `json:"serverSequence"`
	Kind           OpKind          `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Author         string          `json:"author"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Record builds the op-log row for an accepted op. The payload is the
// canonical (possibly id-rewritten) payload, not the raw client submission.
func (op *ChangeOp) Record(serverSequence int64, acceptedAt time.Time) (OpRecord, error) {
	var payload any
	switch op.Kind {
	case OpSetField:
		payload = op.SetField
	case OpAddComponent:
		payload = op.Add
	case OpRemoveComponent:
		payload = op.Remove
	case OpUpdateComponent:
		payload = op.Update
	case OpMoveComponent:
		payload = op.Move
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return OpRecord{}, fmt.Errorf("marshal op payload: %w", err)
	}
	return OpRecord{
		OpID:           op.OpID,
		DocumentID:     op.DocumentID,
		ServerSequence: serverSequence,
		Kind:           op.Kind,
		Payload:        raw,
		Author:         op.Author,
		Timestamp:      acceptedAt,
	}, nil
}
