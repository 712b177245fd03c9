package document

import (
	"reflect"
	"testing"
)

func inputComponent(id, label string) ToolComponent {
	return ToolComponent{ID: id, Kind: KindInput, Label: label, Payload: InputPayload{Placeholder: label}}
}

func addOp(id string) *ChangeOp {
	return &ChangeOp{
		Kind: OpAddComponent,
		Add:  &AddComponentPayload{Component: inputComponent(id, "field "+id)},
	}
}

func TestApplySetFieldBumpsVersion(t *testing.T) {
	doc := New("tool-1")

	effect, err := doc.Apply(&ChangeOp{
		Kind:     OpSetField,
		SetField: &SetFieldPayload{Field: FieldName, Value: "Mortgage Calculator"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("expected version 1, got %d", doc.Version)
	}
	if doc.Fields[FieldName] != "Mortgage Calculator" {
		t.Errorf("field not set: %q", doc.Fields[FieldName])
	}
	if effect.Version != 1 || effect.Field != FieldName || effect.Value != "Mortgage Calculator" {
		t.Errorf("unexpected effect: %+v", effect)
	}
}

func TestApplyLastWriteWins(t *testing.T) {
	doc := New("tool-1")

	// Two writers edited the same field from the same base; the one
	// sequenced second overwrites in full.
	for _, v := range []string{"draft", "final"} {
		if _, err := doc.Apply(&ChangeOp{
			Kind:     OpSetField,
			SetField: &SetFieldPayload{Field: FieldDescription, Value: v},
		}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if doc.Fields[FieldDescription] != "final" {
		t.Errorf("expected last write to win, got %q", doc.Fields[FieldDescription])
	}
	if doc.Version != 2 {
		t.Errorf("expected version 2, got %d", doc.Version)
	}
}

func TestApplyRemoveVanishedComponentIsDroppedNoOp(t *testing.T) {
	doc := New("tool-1")
	if _, err := doc.Apply(addOp("c1")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	effect, err := doc.Apply(&ChangeOp{
		Kind:   OpRemoveComponent,
		Remove: &RemoveComponentPayload{ComponentID: "gone"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !effect.Dropped {
		t.Fatal("expected dropped effect")
	}
	if doc.Version != 1 {
		t.Errorf("dropped op must not bump version, got %d", doc.Version)
	}
	if len(doc.Components) != 1 {
		t.Errorf("document mutated by dropped op: %v", doc.Order())
	}
}

func TestApplyUpdateKindMismatchIsDropped(t *testing.T) {
	doc := New("tool-1")
	if _, err := doc.Apply(addOp("c1")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	effect, err := doc.Apply(&ChangeOp{
		Kind: OpUpdateComponent,
		Update: &UpdateComponentPayload{
			ComponentID: "c1",
			Kind:        KindButton,
			Payload:     ButtonPayload{Action: "submit"},
		},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !effect.Dropped {
		t.Fatal("expected kind mismatch to resolve as dropped")
	}
	if doc.Components[0].Kind != KindInput {
		t.Errorf("component mutated: %+v", doc.Components[0])
	}
}

func TestApplyMoveAfterAnchor(t *testing.T) {
	doc := New("tool-1")
	for _, id := range []string{"a", "b", "c"} {
		if _, err := doc.Apply(addOp(id)); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	if _, err := doc.Apply(&ChangeOp{
		Kind: OpMoveComponent,
		Move: &MoveComponentPayload{ComponentID: "c", After: "a"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Order(); !reflect.DeepEqual(got, []string{"a", "c", "b"}) {
		t.Errorf("unexpected order %v", got)
	}

	// Empty anchor means head of the list.
	if _, err := doc.Apply(&ChangeOp{
		Kind: OpMoveComponent,
		Move: &MoveComponentPayload{ComponentID: "b", After: ""},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := doc.Order(); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Errorf("unexpected order %v", got)
	}
}

func TestApplyMoveVanishedAnchorFallsBackToEnd(t *testing.T) {
	doc := New("tool-1")
	for _, id := range []string{"a", "b", "c"} {
		if _, err := doc.Apply(addOp(id)); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	effect, err := doc.Apply(&ChangeOp{
		Kind: OpMoveComponent,
		Move: &MoveComponentPayload{ComponentID: "a", After: "deleted-anchor"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if effect.Dropped {
		t.Fatal("vanished anchor must not drop the move")
	}
	if got := doc.Order(); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Errorf("expected end-of-list fallback, got %v", got)
	}
	if err := doc.CheckInvariants(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}
}

func TestApplyConcurrentMovesOfDistinctComponents(t *testing.T) {
	// Two users reorder distinct components concurrently; both moves land
	// regardless of sequencing order and the final list is well-formed.
	build := func() *ToolDocument {
		doc := New("tool-1")
		for _, id := range []string{"a", "b", "c", "d"} {
			if _, err := doc.Apply(addOp(id)); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
		}
		return doc
	}
	moveCAfterA := &ChangeOp{Kind: OpMoveComponent, Move: &MoveComponentPayload{ComponentID: "c", After: "a"}}
	moveDAfterB := &ChangeOp{Kind: OpMoveComponent, Move: &MoveComponentPayload{ComponentID: "d", After: "b"}}

	first := build()
	for _, op := range []*ChangeOp{moveCAfterA, moveDAfterB} {
		if _, err := first.Apply(op); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	second := build()
	for _, op := range []*ChangeOp{moveDAfterB, moveCAfterA} {
		if _, err := second.Apply(op); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	for _, doc := range []*ToolDocument{first, second} {
		if err := doc.CheckInvariants(); err != nil {
			t.Fatalf("invariants broken: %v", err)
		}
		if len(doc.Components) != 4 {
			t.Fatalf("component lost: %v", doc.Order())
		}
		// Both intents hold in both orders: c directly after a, d directly
		// after b.
		order := doc.Order()
		pos := make(map[string]int, len(order))
		for i, id := range order {
			pos[id] = i
		}
		if pos["c"] != pos["a"]+1 {
			t.Errorf("c not after a: %v", order)
		}
		if pos["d"] != pos["b"]+1 {
			t.Errorf("d not after b: %v", order)
		}
	}
}

func TestApplyAddDuplicateIDRejected(t *testing.T) {
	doc := New("tool-1")
	if _, err := doc.Apply(addOp("c1")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := doc.Apply(addOp("c1")); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
	if err := doc.CheckInvariants(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}
}

func TestReplayDeterminism(t *testing.T) {
	ops := []*ChangeOp{
		{Kind: OpSetField, SetField: &SetFieldPayload{Field: FieldName, Value: "Budget"}},
		addOp("c1"),
		addOp("c2"),
		{Kind: OpMoveComponent, Move: &MoveComponentPayload{ComponentID: "c2", After: ""}},
		{Kind: OpUpdateComponent, Update: &UpdateComponentPayload{
			ComponentID: "c1",
			Kind:        KindInput,
			Payload:     InputPayload{Placeholder: "amount", Multiline: false},
		}},
		{Kind: OpRemoveComponent, Remove: &RemoveComponentPayload{ComponentID: "c2"}},
		{Kind: OpSetField, SetField: &SetFieldPayload{Field: FieldTheme, Value: "dark"}},
	}

	replay := func() *ToolDocument {
		doc := New("tool-1")
		for i, op := range ops {
			if _, err := doc.Apply(op); err != nil {
				t.Fatalf("Apply() op %d error = %v", i, err)
			}
		}
		return doc
	}

	first := replay()
	second := replay()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay diverged:\n%+v\n%+v", first, second)
	}
	if first.Version != int64(len(ops)) {
		t.Errorf("expected version %d, got %d", len(ops), first.Version)
	}
}

func TestApplyEffectConvergesReplica(t *testing.T) {
	server := New("tool-1")
	replica := New("tool-1")

	ops := []*ChangeOp{
		{Kind: OpSetField, SetField: &SetFieldPayload{Field: FieldName, Value: "Planner"}},
		addOp("c1"),
		addOp("c2"),
		{Kind: OpMoveComponent, Move: &MoveComponentPayload{ComponentID: "c1", After: "c2"}},
		{Kind: OpRemoveComponent, Remove: &RemoveComponentPayload{ComponentID: "missing"}},
		{Kind: OpUpdateComponent, Update: &UpdateComponentPayload{
			ComponentID: "c2",
			Kind:        KindInput,
			Payload:     InputPayload{Multiline: true},
		}},
	}
	for i, op := range ops {
		effect, err := server.Apply(op)
		if err != nil {
			t.Fatalf("Apply() op %d error = %v", i, err)
		}
		replica.ApplyEffect(effect)
	}

	if replica.Version != server.Version {
		t.Errorf("version diverged: replica %d server %d", replica.Version, server.Version)
	}
	if !reflect.DeepEqual(replica.Fields, server.Fields) {
		t.Errorf("fields diverged:\n%v\n%v", replica.Fields, server.Fields)
	}
	if !reflect.DeepEqual(replica.Components, server.Components) {
		t.Errorf("components diverged:\n%v\n%v", replica.Components, server.Components)
	}
}

func TestApplyEffectIsIdempotent(t *testing.T) {
	server := New("tool-1")
	replica := New("tool-1")

	effect, err := server.Apply(addOp("c1"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	// The submitter sees its own effect twice, once as ack and once as
	// broadcast.
	replica.ApplyEffect(effect)
	replica.ApplyEffect(effect)

	if len(replica.Components) != 1 {
		t.Fatalf("duplicate fold produced %d components", len(replica.Components))
	}
	if replica.Version != server.Version {
		t.Errorf("version diverged: replica %d server %d", replica.Version, server.Version)
	}
}

func TestCheckInvariantsRejectsDuplicates(t *testing.T) {
	doc := New("tool-1")
	doc.Components = []ToolComponent{inputComponent("c1", "a"), inputComponent("c1", "b")}
	if err := doc.CheckInvariants(); err == nil {
		t.Fatal("expected duplicate id to fail invariants")
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := New("tool-1")
	doc.Fields[FieldName] = "original"
	doc.Components = []ToolComponent{{
		ID:      "c1",
		Kind:    KindSelect,
		Payload: SelectPayload{Options: []string{"a", "b"}},
	}}

	clone := doc.Clone()
	clone.Fields[FieldName] = "changed"
	clone.Components[0].Payload.(SelectPayload).Options[0] = "mutated"

	if doc.Fields[FieldName] != "original" {
		t.Error("clone shares the fields map")
	}
	if doc.Components[0].Payload.(SelectPayload).Options[0] != "a" {
		t.Error("clone shares the options slice")
	}
}
