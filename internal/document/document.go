// Package document holds the collaborative tool document model: the
// authoritative state, the change operations that mutate it, and the
// deterministic apply rules the sequencer relies on. Everything in this
// package is pure — no goroutines, no I/O — so accepted op logs can be
// replayed to reproduce state exactly.
package document

import (
	"errors"
	"fmt"
)

// Field is the fixed, enumerated set of scalar document fields.
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldType        Field = "type"
	FieldTheme       Field = "theme"
	FieldLayout      Field = "layout"
	FieldFlags       Field = "flags"
)

var fieldNames = map[Field]struct{}{
	FieldName:        {},
	FieldDescription: {},
	FieldType:        {},
	FieldTheme:       {},
	FieldLayout:      {},
	FieldFlags:       {},
}

// ValidFieldName reports whether f is one of the enumerated scalar fields.
func ValidFieldName(f Field) bool {
	_, ok := fieldNames[f]
	return ok
}

var (
	// ErrMalformedOp marks structurally invalid ops. These are rejected
	// before sequencing and never affect the document version.
	ErrMalformedOp = errors.New("malformed op")
	// ErrUnknownDocument is returned by read paths for ids that were never
	// loaded or persisted.
	ErrUnknownDocument = errors.New("unknown document")
)

// ToolDocument is the authoritative shared state for one collaboratively
// edited tool configuration. It is owned exclusively by the per-document
// actor; everything handed outside is a copy.
type ToolDocument struct {
	ID         string
	Version    int64
	Fields     map[Field]string
	Components []ToolComponent
}

// New returns an empty document at version 0.
func New(id string) *ToolDocument {
	return &ToolDocument{
		ID:     id,
		Fields: make(map[Field]string),
	}
}

// Clone deep-copies the document.
func (d *ToolDocument) Clone() *ToolDocument {
	out := &ToolDocument{
		ID:      d.ID,
		Version: d.Version,
		Fields:  make(map[Field]string, len(d.Fields)),
	}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	if len(d.Components) > 0 {
		out.Components = make([]ToolComponent, len(d.Components))
		for i, c := range d.Components {
			out.Components[i] = c.Clone()
		}
	}
	return out
}

// ComponentIndex returns the position of the component with the given id,
// or -1 if it is not present.
func (d *ToolDocument) ComponentIndex(id string) int {
	for i, c := range d.Components {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Order returns the component ids in render order.
func (d *ToolDocument) Order() []string {
	order := make([]string, len(d.Components))
	for i, c := range d.Components {
		order[i] = c.ID
	}
	return order
}

// CheckInvariants verifies the structural invariants that must hold at every
// version: unique component ids and known kinds. Used by tests and by the
// actor after hydration.
func (d *ToolDocument) CheckInvariants() error {
	seen := make(map[string]struct{}, len(d.Components))
	for _, c := range d.Components {
		if c.ID == "" {
			return fmt.Errorf("component with empty id")
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate component id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		if !ValidComponentKind(c.Kind) {
			return fmt.Errorf("component %s has unknown kind %q", c.ID, c.Kind)
		}
	}
	for f := range d.Fields {
		if !ValidFieldName(f) {
			return fmt.Errorf("unknown field %q", f)
		}
	}
	return nil
}
