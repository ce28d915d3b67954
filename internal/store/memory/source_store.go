// Package memory provides an in-memory SourceStore for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// SourceStore keeps sources in a mutex-guarded map.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]ingest.Source
	clock   ingest.Clock
}

// NewSourceStore constructs a SourceStore.
func NewSourceStore(clock ingest.Clock) *SourceStore {
	return &SourceStore{
		sources: make(map[string]ingest.Source),
		clock:   clock,
	}
}

// CreateSource stores a new source.
func (s *SourceStore) CreateSource(_ context.Context, src ingest.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[src.ID]; exists {
		return fmt.Errorf("source %s already exists", src.ID)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.clock.Now()
	}
	src.UpdatedAt = src.CreatedAt
	s.sources[src.ID] = src
	return nil
}

// GetSource fetches a source by ID.
func (s *SourceStore) GetSource(_ context.Context, id string) (ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return ingest.Source{}, ingest.ErrSourceNotFound
	}
	return src, nil
}

// UpdateSource applies a partial update with last-writer-wins semantics.
func (s *SourceStore) UpdateSource(_ context.Context, id string, upd ingest.SourceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return ingest.ErrSourceNotFound
	}
	s.sources[id] = s.applyLocked(src, upd)
	return nil
}

// UpdateSourceIf applies upd only while the source's status is one of expect.
func (s *SourceStore) UpdateSourceIf(
	_ context.Context,
	id string,
	expect []ingest.SourceStatus,
	upd ingest.SourceUpdate,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return false, ingest.ErrSourceNotFound
	}
	matched := false
	for _, status := range expect {
		if src.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	s.sources[id] = s.applyLocked(src, upd)
	return true, nil
}

// ListSources returns sources matching the filter.
func (s *SourceStore) ListSources(_ context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Source
	for _, src := range s.sources {
		if filter.Type != "" && src.Type != filter.Type {
			continue
		}
		if filter.AgentID != "" && src.AgentID != filter.AgentID {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if src.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, src)
	}
	return out, nil
}

func (s *SourceStore) applyLocked(src ingest.Source, upd ingest.SourceUpdate) ingest.Source {
	if upd.Status != nil {
		src.Status = *upd.Status
	}
	if upd.Links != nil {
		src.Links = append([]ingest.ExtractedLink(nil), upd.Links...)
	}
	if upd.ChunkCount != nil {
		src.ChunkCount = *upd.ChunkCount
	}
	if upd.Metadata != nil {
		merged := make(map[string]string, len(src.Metadata)+len(upd.Metadata))
		for k, v := range src.Metadata {
			merged[k] = v
		}
		for k, v := range upd.Metadata {
			merged[k] = v
		}
		src.Metadata = merged
	}
	src.UpdatedAt = s.clock.Now()
	return src
}
