// Package app wires the collaboration engine, the durable store, search,
// and the history mirror behind one HTTP surface. The HTTP side is read
// mostly: edits flow over the websocket transport; here live the snapshot
// resync fallback and operational endpoints.
package app

import (
	"context"
	"log"

	"toolforge/api/internal/collab"
	"toolforge/api/internal/config"
	"toolforge/api/internal/history"
	"toolforge/api/internal/search"
	"toolforge/api/internal/store"
)

// ToolStore is the durable-store surface the service needs.
type ToolStore interface {
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]store.ToolInfo, error)
}

// HistoryReader lists the git snapshot mirror. Nil when the mirror is not
// configured.
type HistoryReader interface {
	History(documentID string, limit int) ([]history.CommitInfo, error)
}

type Service struct {
	cfg     config.Config
	store   ToolStore
	engine  *collab.Engine
	search  *search.Service
	history HistoryReader
}

func New(cfg config.Config, toolStore ToolStore, engine *collab.Engine, searchService *search.Service, historyReader HistoryReader) *Service {
	return &Service{
		cfg:     cfg,
		store:   toolStore,
		engine:  engine,
		search:  searchService,
		history: historyReader,
	}
}

// Bootstrap pushes the persisted corpus into the search index. Failures are
// non-fatal; search degrades to the PG FTS fallback.
func (s *Service) Bootstrap(ctx context.Context) error {
	tools, err := s.store.ListTools(ctx)
	if err != nil {
		return err
	}
	records := make([]search.ToolRecord, 0, len(tools))
	for _, t := range tools {
		records = append(records, search.ToolRecord{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			ToolType:    t.ToolType,
			Theme:       t.Theme,
			Version:     t.Version,
		})
	}
	s.search.ReindexAll(records)
	log.Printf("app: bootstrap complete, %d tools known", len(tools))
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListTools(ctx context.Context) ([]store.ToolInfo, error) {
	return s.store.ListTools(ctx)
}

// Snapshot is the resync fallback: full current state plus presence,
// idempotent regardless of how stale the caller is.
func (s *Service) Snapshot(ctx context.Context, documentID string) (collab.JoinState, error) {
	return s.engine.Snapshot(ctx, documentID)
}

func (s *Service) Presence(ctx context.Context, documentID string) ([]collab.PresenceInfo, error) {
	state, err := s.engine.Snapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if state.Presence == nil {
		return []collab.PresenceInfo{}, nil
	}
	return state.Presence, nil
}

func (s *Service) History(documentID string, limit int) ([]history.CommitInfo, error) {
	if s.history == nil {
		return nil, errFeatureDisabled("HISTORY_DISABLED", "snapshot history mirror is not configured")
	}
	return s.history.History(documentID, limit)
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}
