// Package postgres provides the Postgres-backed SourceStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SourceStore persists sources in Postgres. Links and metadata are stored as
// jsonb columns on the source row; links have no independent storage.
type SourceStore struct {
	pool  dbPool
	clock ingest.Clock
}

// NewSourceStore connects a pool from config.
func NewSourceStore(ctx context.Context, cfg Config, clock ingest.Clock) (*SourceStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SourceStore{pool: pool, clock: clock}, nil
}

// NewSourceStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewSourceStoreWithPool(pool dbPool, clock ingest.Clock) (*SourceStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &SourceStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *SourceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const sourceColumns = `id, agent_id, project_id, type, status, website_url, links, chunk_count, metadata, created_at, updated_at`

// CreateSource inserts a source row.
func (s *SourceStore) CreateSource(ctx context.Context, src ingest.Source) error {
	if src.ID == "" {
		return errors.New("source id is required")
	}
	linksJSON, metadataJSON, err := marshalJSONFields(src.Links, src.Metadata)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	query := `
INSERT INTO sources (` + sourceColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		src.ID, src.AgentID, src.ProjectID, string(src.Type), string(src.Status),
		src.WebsiteURL, linksJSON, src.ChunkCount, metadataJSON, src.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource fetches one source row by ID.
func (s *SourceStore) GetSource(ctx context.Context, id string) (ingest.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Source{}, ingest.ErrSourceNotFound
	}
	if err != nil {
		return ingest.Source{}, fmt.Errorf("select source: %w", err)
	}
	return src, nil
}

// UpdateSource applies a partial update with last-writer-wins semantics.
func (s *SourceStore) UpdateSource(ctx context.Context, id string, upd ingest.SourceUpdate) error {
	applied, err := s.update(ctx, id, nil, upd)
	if err != nil {
		return err
	}
	if !applied {
		return ingest.ErrSourceNotFound
	}
	return nil
}

// UpdateSourceIf applies upd only while the source's status is one of expect.
// The predicate is re-checked inside the UPDATE so a concurrent status change
// wins over the conditional writer.
func (s *SourceStore) UpdateSourceIf(
	ctx context.Context,
	id string,
	expect []ingest.SourceStatus,
	upd ingest.SourceUpdate,
) (bool, error) {
	return s.update(ctx, id, expect, upd)
}

func (s *SourceStore) update(
	ctx context.Context,
	id string,
	expect []ingest.SourceStatus,
	upd ingest.SourceUpdate,
) (bool, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, s.clock.Now()}

	appendSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Status != nil {
		appendSet("status", string(*upd.Status))
	}
	if upd.Links != nil {
		linksJSON, err := json.Marshal(upd.Links)
		if err != nil {
			return false, fmt.Errorf("marshal links: %w", err)
		}
		appendSet("links", linksJSON)
	}
	if upd.ChunkCount != nil {
		appendSet("chunk_count", *upd.ChunkCount)
	}
	if upd.Metadata != nil {
		metadataJSON, err := json.Marshal(upd.Metadata)
		if err != nil {
			return false, fmt.Errorf("marshal metadata: %w", err)
		}
		args = append(args, metadataJSON)
		sets = append(sets, fmt.Sprintf("metadata = coalesce(metadata, '{}'::jsonb) || $%d", len(args)))
	}

	query := "UPDATE sources SET " + joinSets(sets) + " WHERE id = $1"
	if len(expect) > 0 {
		statuses := make([]string, len(expect))
		for i, st := range expect {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSources returns sources matching the filter.
func (s *SourceStore) ListSources(ctx context.Context, filter ingest.SourceFilter) ([]ingest.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var clauses []string
	var args []any

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}
	defer rows.Close()

	var out []ingest.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (ingest.Source, error) {
	var (
		src          ingest.Source
		typ, status  string
		linksJSON    []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&src.ID, &src.AgentID, &src.ProjectID, &typ, &status,
		&src.WebsiteURL, &linksJSON, &src.ChunkCount, &metadataJSON,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return ingest.Source{}, err
	}
	src.Type = ingest.SourceType(typ)
	src.Status = ingest.SourceStatus(status)
	if len(linksJSON) > 0 {
		if err := json.Unmarshal(linksJSON, &src.Links); err != nil {
			return ingest.Source{}, fmt.Errorf("unmarshal links: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &src.Metadata); err != nil {
			return ingest.Source{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return src, nil
}

func marshalJSONFields(links []ingest.ExtractedLink, metadata map[string]string) ([]byte, []byte, error) {
	if links == nil {
		links = []ingest.ExtractedLink{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal links: %w", err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return linksJSON, metadataJSON, nil
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
