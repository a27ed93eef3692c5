// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultHistoryLimit = 50

// ErrUnknownHistoryKind is returned for history kinds without a backing table.
var ErrUnknownHistoryKind = errors.New("unknown history kind")

// HistoryKind names one of the per-team history tables.
type HistoryKind string

// Supported history kinds.
const (
	HistoryMaps         HistoryKind = "maps"
	HistorySearches     HistoryKind = "searches"
	HistoryExtracts     HistoryKind = "extracts"
	HistoryDeepResearch HistoryKind = "deep-research"
)

// HistoryEntry is one row of team history. Only the columns selected for its
// kind are populated.
type HistoryEntry struct {
	ID           string    `json:"id"`
	URL          string    `json:"url,omitempty"`
	URLs         []string  `json:"urls,omitempty"`
	Query        string    `json:"query,omitempty"`
	NumResults   *int      `json:"num_results,omitempty"`
	IsSuccessful *bool     `json:"is_successful,omitempty"`
	ModelKind    string    `json:"model_kind,omitempty"`
	TimeTaken    *float64  `json:"time_taken,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type historyTable struct {
	table   string
	columns string
	scan    func(pgx.Rows) (HistoryEntry, error)
}

var historyTables = map[HistoryKind]historyTable{
	HistoryMaps: {
		table:   "maps",
		columns: "id, url, num_results, created_at",
		scan: func(rows pgx.Rows) (HistoryEntry, error) {
			var e HistoryEntry
			var n int
			err := rows.Scan(&e.ID, &e.URL, &n, &e.CreatedAt)
			e.NumResults = &n
			return e, err
		},
	},
	HistorySearches: {
		table:   "searches",
		columns: "id, query, num_results, is_successful, created_at",
		scan: func(rows pgx.Rows) (HistoryEntry, error) {
			var e HistoryEntry
			var n int
			var ok bool
			err := rows.Scan(&e.ID, &e.Query, &n, &ok, &e.CreatedAt)
			e.NumResults = &n
			e.IsSuccessful = &ok
			return e, err
		},
	},
	HistoryExtracts: {
		table:   "extracts",
		columns: "id, urls, is_successful, model_kind, created_at",
		scan: func(rows pgx.Rows) (HistoryEntry, error) {
			var e HistoryEntry
			var ok bool
			err := rows.Scan(&e.ID, &e.URLs, &ok, &e.ModelKind, &e.CreatedAt)
			e.IsSuccessful = &ok
			return e, err
		},
	},
	HistoryDeepResearch: {
		table:   "deep_researches",
		columns: "id, query, time_taken, created_at",
		scan: func(rows pgx.Rows) (HistoryEntry, error) {
			var e HistoryEntry
			var taken float64
			err := rows.Scan(&e.ID, &e.Query, &taken, &e.CreatedAt)
			e.TimeTaken = &taken
			return e, err
		},
	},
}

// ParseHistoryKind validates a history kind taken from a request path.
func ParseHistoryKind(s string) (HistoryKind, error) {
	kind := HistoryKind(s)
	if _, ok := historyTables[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHistoryKind, s)
	}
	return kind, nil
}

// HistoryStoreConfig controls the Postgres connection pool used for history reads.
type HistoryStoreConfig struct {
	DSN             string
	Limit           int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// HistoryStore reads per-team history rows from Postgres.
type HistoryStore struct {
	pool  queryCloser
	limit int
}

// NewHistoryStore creates a Postgres-backed HistoryStore using the provided config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
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
	return NewHistoryStoreWithPool(pool, cfg.Limit)
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewHistoryStoreWithPool(pool queryCloser, limit int) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &HistoryStore{pool: pool, limit: limit}, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// List returns the team's most recent history rows of the given kind, newest first.
func (s *HistoryStore) List(ctx context.Context, teamID string, kind HistoryKind) ([]HistoryEntry, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("history store is not configured")
	}
	def, ok := historyTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHistoryKind, kind)
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE team_id = $1
		ORDER BY created_at DESC
		LIMIT $2;
	`, def.columns, def.table)

	rows, err := s.pool.Query(ctx, query, teamID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query %s history: %w", kind, err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		entry, err := def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s history row: %w", kind, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s history: %w", kind, err)
	}
	return entries, nil
}
