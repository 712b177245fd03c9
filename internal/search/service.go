package search

import (
	"log"

	"toolforge/api/internal/document"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSnapshot indexes a flushed tool snapshot (fire-and-forget to
// Meilisearch). Implements the persistence writer's Indexer hook.
func (s *Service) IndexSnapshot(snap document.Snapshot) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := snapshotRecord(snap)
	go func() {
		if err := s.meili.IndexTool(rec); err != nil {
			log.Printf("search: index tool %s: %v", rec.ID, err)
		}
	}()
}

// ReindexAll pushes every persisted tool into Meilisearch. Called during
// bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAll(tools []ToolRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if len(tools) > 0 {
		if err := s.meili.IndexTools(tools); err != nil {
			log.Printf("search: reindex tools: %v", err)
		}
	}
}

func snapshotRecord(snap document.Snapshot) ToolRecord {
	return ToolRecord{
		ID:          snap.DocumentID,
		Name:        snap.Fields[document.FieldName],
		Description: snap.Fields[document.FieldDescription],
		ToolType:    snap.Fields[document.FieldType],
		Theme:       snap.Fields[document.FieldTheme],
		Version:     snap.Version,
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
