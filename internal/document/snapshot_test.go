package document

import (
	"reflect"
	"testing"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	doc := New("tool-1")
	ops := []*ChangeOp{
		{Kind: OpSetField, SetField: &SetFieldPayload{Field: FieldName, Value: "Loan Planner"}},
		{Kind: OpSetField, SetField: &SetFieldPayload{Field: FieldLayout, Value: "two-column"}},
		addOp("c1"),
		{Kind: OpAddComponent, Add: &AddComponentPayload{Component: ToolComponent{
			ID:      "c2",
			Kind:    KindSelect,
			Label:   "Currency",
			Payload: SelectPayload{Options: []string{"usd", "eur"}, Default: "usd"},
		}}},
		{Kind: OpMoveComponent, Move: &MoveComponentPayload{ComponentID: "c2", After: ""}},
	}
	for i, op := range ops {
		if _, err := doc.Apply(op); err != nil {
			t.Fatalf("Apply() op %d error = %v", i, err)
		}
	}

	snap := doc.Snapshot()
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}
	restored, err := Restore(decoded)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if restored.Version != doc.Version {
		t.Errorf("version mismatch: %d != %d", restored.Version, doc.Version)
	}
	if !reflect.DeepEqual(restored.Fields, doc.Fields) {
		t.Errorf("fields mismatch:\n%v\n%v", restored.Fields, doc.Fields)
	}
	if !reflect.DeepEqual(restored.Components, doc.Components) {
		t.Errorf("components mismatch:\n%v\n%v", restored.Components, doc.Components)
	}
	if !reflect.DeepEqual(restored.Order(), []string{"c2", "c1"}) {
		t.Errorf("order lost across round trip: %v", restored.Order())
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	doc := New("tool-1")
	if _, err := doc.Apply(addOp("c1")); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snap := doc.Snapshot()
	if _, err := doc.Apply(&ChangeOp{
		Kind:   OpRemoveComponent,
		Remove: &RemoveComponentPayload{ComponentID: "c1"},
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(snap.Components) != 1 {
		t.Error("snapshot tracked later mutation")
	}
	if snap.Version != 1 {
		t.Errorf("snapshot version moved: %d", snap.Version)
	}
}

func TestRestoreRejectsBrokenInvariants(t *testing.T) {
	snap := Snapshot{
		DocumentID: "tool-1",
		Version:    3,
		Fields:     map[Field]string{FieldName: "x"},
		Components: []ToolComponent{inputComponent("c1", "a"), inputComponent("c1", "b")},
	}
	if _, err := Restore(snap); err == nil {
		t.Fatal("expected restore of duplicate ids to fail")
	}
}
