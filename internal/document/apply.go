package document

import "fmt"

// Effect is the concrete result of sequencing one op, broadcast to every
// session of the document (including the submitter). Applying an effect to a
// replica at the preceding version yields the same state the server holds,
// so clients reconcile without refetching.
type Effect struct {
	Op          OpKind         `json:"op"`
	Version     int64          `json:"version"`
	Field       Field          `json:"field,omitempty"`
	Value       string         `json:"value,omitempty"`
	Component   *ToolComponent `json:"component,omitempty"`
	ComponentID string         `json:"componentId,omitempty"`
	Order       []string       `json:"order,omitempty"`
	// Dropped marks a NoSuchComponent outcome: the target vanished
	// concurrently, nothing was mutated, and the broadcast is a no-op
	// removal acknowledgment so optimistic client state self-heals.
	Dropped bool `json:"dropped,omitempty"`
}

// Apply folds a validated op into the document. It is deterministic: given
// the same document state and the same canonical op, it always produces the
// same state and effect. The caller (the per-document actor) is responsible
// for validation, id canonicalization, and version/conflict policy; Apply
// itself never rejects a stale base version.
//
// Mutating outcomes increment Version exactly once. A NoSuchComponent
// outcome mutates nothing, leaves Version unchanged, and returns an effect
// with Dropped set.
func (d *ToolDocument) Apply(op *ChangeOp) (Effect, error) {
	switch op.Kind {
	case OpSetField:
		d.Fields[op.SetField.Field] = op.SetField.Value
		d.Version++
		return Effect{
			Op:      OpSetField,
			Version: d.Version,
			Field:   op.SetField.Field,
			Value:   op.SetField.Value,
		}, nil

	case OpAddComponent:
		c := op.Add.Component.Clone()
		if d.ComponentIndex(c.ID) >= 0 {
			// Collisions are resolved by the sequencer before Apply.
			return Effect{}, fmt.Errorf("component id %s already present", c.ID)
		}
		d.Components = append(d.Components, c)
		d.Version++
		added := c.Clone()
		return Effect{
			Op:        OpAddComponent,
			Version:   d.Version,
			Component: &added,
			Order:     d.Order(),
		}, nil

	case OpRemoveComponent:
		idx := d.ComponentIndex(op.Remove.ComponentID)
		if idx < 0 {
			return d.droppedEffect(OpRemoveComponent, op.Remove.ComponentID), nil
		}
		d.Components = append(d.Components[:idx], d.Components[idx+1:]...)
		d.Version++
		return Effect{
			Op:          OpRemoveComponent,
			Version:     d.Version,
			ComponentID: op.Remove.ComponentID,
			Order:       d.Order(),
		}, nil

	case OpUpdateComponent:
		idx := d.ComponentIndex(op.Update.ComponentID)
		if idx < 0 {
			return d.droppedEffect(OpUpdateComponent, op.Update.ComponentID), nil
		}
		target := &d.Components[idx]
		if op.Update.Payload != nil && op.Update.Kind != target.Kind {
			// The component the client thought it was editing no longer
			// exists in that shape. Same self-healing path as a vanished id.
			return d.droppedEffect(OpUpdateComponent, op.Update.ComponentID), nil
		}
		if op.Update.Label != nil {
			target.Label = *op.Update.Label
		}
		if op.Update.Payload != nil {
			target.Payload = op.Update.Payload
		}
		d.Version++
		updated := target.Clone()
		return Effect{
			Op:        OpUpdateComponent,
			Version:   d.Version,
			Component: &updated,
		}, nil

	case OpMoveComponent:
		idx := d.ComponentIndex(op.Move.ComponentID)
		if idx < 0 {
			return d.droppedEffect(OpMoveComponent, op.Move.ComponentID), nil
		}
		moved := d.Components[idx]
		rest := append(d.Components[:idx:idx], d.Components[idx+1:]...)

		insert := len(rest) // anchor gone concurrently: end of list
		if op.Move.After == "" {
			insert = 0
		} else {
			for i, c := range rest {
				if c.ID == op.Move.After {
					insert = i + 1
					break
				}
			}
		}
		d.Components = make([]ToolComponent, 0, len(rest)+1)
		d.Components = append(d.Components, rest[:insert]...)
		d.Components = append(d.Components, moved)
		d.Components = append(d.Components, rest[insert:]...)
		d.Version++
		return Effect{
			Op:          OpMoveComponent,
			Version:     d.Version,
			ComponentID: op.Move.ComponentID,
			Order:       d.Order(),
		}, nil
	}
	return Effect{}, fmt.Errorf("%w: unknown op kind %q", ErrMalformedOp, op.Kind)
}

func (d *ToolDocument) droppedEffect(kind OpKind, componentID string) Effect {
	return Effect{
		Op:          kind,
		Version:     d.Version,
		ComponentID: componentID,
		Order:       d.Order(),
		Dropped:     true,
	}
}

// ApplyEffect folds a broadcast effect into a replica. It is the client-side
// half of the contract: replicas that apply every effect in broadcast order
// converge to the server's state without refetching snapshots.
func (d *ToolDocument) ApplyEffect(e Effect) {
	if e.Dropped {
		// Reconcile the order anyway; an optimistic local apply may have
		// touched a component the server already dropped.
		if e.Order != nil {
			d.reorder(e.Order)
		}
		d.Version = e.Version
		return
	}
	switch e.Op {
	case OpSetField:
		d.Fields[e.Field] = e.Value
	case OpAddComponent:
		if e.Component != nil && d.ComponentIndex(e.Component.ID) < 0 {
			d.Components = append(d.Components, e.Component.Clone())
		}
		d.reorder(e.Order)
	case OpRemoveComponent:
		if idx := d.ComponentIndex(e.ComponentID); idx >= 0 {
			d.Components = append(d.Components[:idx], d.Components[idx+1:]...)
		}
	case OpUpdateComponent:
		if e.Component != nil {
			if idx := d.ComponentIndex(e.Component.ID); idx >= 0 {
				d.Components[idx] = e.Component.Clone()
			}
		}
	case OpMoveComponent:
		d.reorder(e.Order)
	}
	d.Version = e.Version
}

// reorder rearranges components to match the authoritative id order. Ids
// unknown locally are ignored; local components missing from the order keep
// their relative position at the tail.
func (d *ToolDocument) reorder(order []string) {
	if len(order) == 0 {
		return
	}
	byID := make(map[string]ToolComponent, len(d.Components))
	for _, c := range d.Components {
		byID[c.ID] = c
	}
	out := make([]ToolComponent, 0, len(d.Components))
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			seen[id] = struct{}{}
		}
	}
	for _, c := range d.Components {
		if _, ok := seen[c.ID]; !ok {
			out = append(out, c)
		}
	}
	d.Components = out
}
