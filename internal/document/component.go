package document

import (
	"encoding/json"
	"fmt"
)

// ComponentKind is the closed set of component types a tool can contain.
type ComponentKind string

const (
	KindInput   ComponentKind = "input"
	KindSelect  ComponentKind = "select"
	KindButton  ComponentKind = "button"
	KindDisplay ComponentKind = "display"
	KindChart   ComponentKind = "chart"
	KindForm    ComponentKind = "form"
	KindCustom  ComponentKind = "custom"
)

var componentKinds = map[ComponentKind]struct{}{
	KindInput:   {},
	KindSelect:  {},
	KindButton:  {},
	KindDisplay: {},
	KindChart:   {},
	KindForm:    {},
	KindCustom:  {},
}

// ValidComponentKind reports whether k names a known component kind.
func ValidComponentKind(k ComponentKind) bool {
	_, ok := componentKinds[k]
	return ok
}

// ComponentPayload is the kind-specific configuration of a component. Each
// kind has exactly one payload type, so the payload shape is checked by the
// type system rather than carried as a free-form map.
type ComponentPayload interface {
	Kind() ComponentKind
}

type InputPayload struct {
	Placeholder string `json:"placeholder,omitempty"`
	Multiline   bool   `json:"multiline,omitempty"`
}

func (InputPayload) Kind() ComponentKind { return KindInput }

type SelectPayload struct {
	Options []string `json:"options"`
	Default string   `json:"default,omitempty"`
}

func (SelectPayload) Kind() ComponentKind { return KindSelect }

type ButtonPayload struct {
	Action string `json:"action,omitempty"`
	Style  string `json:"style,omitempty"`
}

func (ButtonPayload) Kind() ComponentKind { return KindButton }

type DisplayPayload struct {
	Formula string `json:"formula"`
	Format  string `json:"format,omitempty"`
}

func (DisplayPayload) Kind() ComponentKind { return KindDisplay }

type ChartPayload struct {
	ChartType string `json:"chartType"`
	Source    string `json:"source,omitempty"`
}

func (ChartPayload) Kind() ComponentKind { return KindChart }

type FormPayload struct {
	SubmitLabel string   `json:"submitLabel,omitempty"`
	FieldIDs    []string `json:"fieldIds,omitempty"`
}

func (FormPayload) Kind() ComponentKind { return KindForm }

type CustomPayload struct {
	Source string `json:"source,omitempty"`
}

func (CustomPayload) Kind() ComponentKind { return KindCustom }

// ToolComponent is one configurable unit inside a tool document. IDs are
// stable for the component's lifetime and never reused within a document.
type ToolComponent struct {
	ID      string
	Kind    ComponentKind
	Label   string
	Payload ComponentPayload
}

// Clone returns a copy safe to hand outside the owning actor. Payloads with
// slices are copied deeply.
func (c ToolComponent) Clone() ToolComponent {
	out := c
	switch p := c.Payload.(type) {
	case SelectPayload:
		p.Options = append([]string(nil), p.Options...)
		out.Payload = p
	case FormPayload:
		p.FieldIDs = append([]string(nil), p.FieldIDs...)
		out.Payload = p
	}
	return out
}

type componentJSON struct {
	ID      string          `json:"id"`
	Kind    ComponentKind   `json:"kind"`
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (c ToolComponent) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if c.Payload != nil {
		encoded, err := json.Marshal(c.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", c.Kind, err)
		}
		raw = encoded
	}
	return json.Marshal(componentJSON{ID: c.ID, Kind: c.Kind, Label: c.Label, Payload: raw})
}

func (c *ToolComponent) UnmarshalJSON(data []byte) error {
	var cj componentJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}
	payload, err := decodePayload(cj.Kind, cj.Payload)
	if err != nil {
		return err
	}
	c.ID = cj.ID
	c.Kind = cj.Kind
	c.Label = cj.Label
	c.Payload = payload
	return nil
}

func decodePayload(kind ComponentKind, raw json.RawMessage) (ComponentPayload, error) {
	if !ValidComponentKind(kind) {
		return nil, fmt.Errorf("%w: unknown component kind %q", ErrMalformedOp, kind)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var payload ComponentPayload
	var err error
	switch kind {
	case KindInput:
		var p InputPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindSelect:
		var p SelectPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindButton:
		var p ButtonPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindDisplay:
		var p DisplayPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindChart:
		var p ChartPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindForm:
		var p FormPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindCustom:
		var p CustomPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrMalformedOp, kind, err)
	}
	return payload, nil
}
