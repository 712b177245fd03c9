// Package store persists tool snapshots and the accepted-op log in
// PostgreSQL. The in-memory engine stays authoritative; everything here is
// written behind the persistence writer's debounce and read back only on
// first load after a restart.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toolforge/api/internal/document"
)

type ToolInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ToolType    string    `json:"type"`
	Theme       string    `json:"theme,omitempty"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSnapshot upserts the durable copy of a document. The version guard
// keeps a delayed retry from clobbering a newer flush.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap document.Snapshot) error {
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for %s: %w", snap.DocumentID, err)
	}
	components, err := json.Marshal(snap.Components)
	if err != nil {
		return fmt.Errorf("marshal components for %s: %w", snap.DocumentID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tools (id, version, fields, components, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
			SET version = EXCLUDED.version,
				fields = EXCLUDED.fields,
				components = EXCLUDED.components,
				updated_at = NOW()
			WHERE tools.version <= EXCLUDED.version
	`, snap.DocumentID, snap.Version, fields, components)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.DocumentID, err)
	}
	return nil
}

// LoadSnapshot reads the last flushed state. ok=false means the document has
// never been persisted.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, documentID string) (document.Snapshot, bool, error) {
	var (
		version    int64
		fields     []byte
		components []byte
		updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, fields, components, updated_at FROM tools WHERE id = $1
	`, documentID).Scan(&version, &fields, &components, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Snapshot{}, false, nil
	}
	if err != nil {
		return document.Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", documentID, err)
	}

	snap := document.Snapshot{DocumentID: documentID, Version: version, TakenAt: updatedAt}
	if err := json.Unmarshal(fields, &snap.Fields); err != nil {
		return document.Snapshot{}, false, fmt.Errorf("decode fields for %s: %w", documentID, err)
	}
	if err := json.Unmarshal(components, &snap.Components); err != nil {
		return document.Snapshot{}, false, fmt.Errorf("decode components for %s: %w", documentID, err)
	}
	return snap, true, nil
}

// AppendOps writes accepted ops to the op log. Re-flushing after a partial
// failure is safe: rows are keyed by op id and duplicates are ignored.
func (s *PostgresStore) AppendOps(ctx context.Context, records []document.OpRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin op log tx: %w", err)
	}
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tool_ops (op_id, document_id, server_sequence, kind, payload, author, accepted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (op_id) DO NOTHING
		`, rec.OpID, rec.DocumentID, rec.ServerSequence, string(rec.Kind), []byte(rec.Payload), rec.Author, rec.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append op %s: %w", rec.OpID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit op log: %w", err)
	}
	return nil
}

// ListOps returns the op log for a document ordered by server sequence,
// starting after afterSequence.
func (s *PostgresStore) ListOps(ctx context.Context, documentID string, afterSequence int64, limit int) ([]document.OpRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT op_id, document_id, server_sequence, kind, payload, author, accepted_at
		FROM tool_ops
		WHERE document_id = $1 AND server_sequence > $2
		ORDER BY server_sequence ASC
		LIMIT $3
	`, documentID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("list ops %s: %w", documentID, err)
	}
	defer rows.Close()

	var records []document.OpRecord
	for rows.Next() {
		var rec document.OpRecord
		var kind string
		var payload []byte
		if err := rows.Scan(&rec.OpID, &rec.DocumentID, &rec.ServerSequence, &kind, &payload, &rec.Author, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan op row: %w", err)
		}
		rec.Kind = document.OpKind(kind)
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListTools returns summary rows for every persisted tool.
func (s *PostgresStore) ListTools(ctx context.Context) ([]ToolInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version,
			coalesce(fields->>'name', '') AS name,
			coalesce(fields->>'description', '') AS description,
			coalesce(fields->>'type', '') AS tool_type,
			coalesce(fields->>'theme', '') AS theme,
			updated_at
		FROM tools
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var tools []ToolInfo
	for rows.Next() {
		var t ToolInfo
		if err := rows.Scan(&t.ID, &t.Version, &t.Name, &t.Description, &t.ToolType, &t.Theme, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tool row: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}
