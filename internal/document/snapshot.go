package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the full serialized state of a document at a specific version,
// used for initial load, the resync fallback, and crash recovery. The set of
// connected editors is derived from live sessions and deliberately absent.
type Snapshot struct {
	DocumentID string           `json:"documentId"`
	Version    int64            `json:"version"`
	Fields     map[Field]string `json:"fields"`
	Components []ToolComponent  `json:"components"`
	TakenAt    time.Time        `json:"takenAt,omitempty"`
}

// Snapshot captures the current state as a detached copy.
func (d *ToolDocument) Snapshot() Snapshot {
	clone := d.Clone()
	components := clone.Components
	if components == nil {
		components = []ToolComponent{}
	}
	return Snapshot{
		DocumentID: clone.ID,
		Version:    clone.Version,
		Fields:     clone.Fields,
		Components: components,
		TakenAt:    time.Now().UTC(),
	}
}

// Restore rebuilds a document from a snapshot.
func Restore(snap Snapshot) (*ToolDocument, error) {
	d := New(snap.DocumentID)
	d.Version = snap.Version
	for k, v := range snap.Fields {
		d.Fields[k] = v
	}
	for _, c := range snap.Components {
		d.Components = append(d.Components, c.Clone())
	}
	if err := d.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.DocumentID, err)
	}
	return d, nil
}

// EncodeSnapshot serializes a snapshot for durable storage.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.DocumentID, err)
	}
	return data, nil
}

// DecodeSnapshot parses a stored snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
