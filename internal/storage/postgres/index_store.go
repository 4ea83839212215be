// Package postgres persists built indexes to Postgres so past builds can be
// inspected after the process exits.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antonlok/aggregator-threadpool/internal/index"
)

var validTablePrefix = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for index rows.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// IndexStore writes one build's articles and term counts per run.
type IndexStore struct {
	pool   pool
	prefix string
}

// NewIndexStore connects to Postgres using the provided config.
func NewIndexStore(ctx context.Context, cfg Config) (*IndexStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewIndexStoreWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewIndexStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewIndexStoreWithPool(p pool, prefix string) (*IndexStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = "newsagg"
	}
	if !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &IndexStore{pool: p, prefix: prefix}, nil
}

// Close releases the underlying pool resources.
func (s *IndexStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *IndexStore) table(name string) string {
	return s.prefix + "_" + name
}

// EnsureSchema creates the run, article and term tables if they are missing.
func (s *IndexStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	built_at TIMESTAMPTZ NOT NULL,
	article_count INTEGER NOT NULL
)`, s.table("runs")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL REFERENCES %s (run_id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	PRIMARY KEY (run_id, url)
)`, s.table("articles"), s.table("runs")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL,
	url TEXT NOT NULL,
	term TEXT NOT NULL,
	occurrences INTEGER NOT NULL,
	PRIMARY KEY (run_id, url, term),
	FOREIGN KEY (run_id, url) REFERENCES %s (run_id, url) ON DELETE CASCADE
)`, s.table("terms"), s.table("articles")),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveIndex writes every entry of one build in a single transaction.
func (s *IndexStore) SaveIndex(ctx context.Context, runID string, builtAt time.Time, entries []index.Entry) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("index store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	if err := s.insertRun(ctx, tx, runID, builtAt, entries); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

func (s *IndexStore) insertRun(ctx context.Context, tx pgx.Tx, runID string, builtAt time.Time, entries []index.Entry) error {
	runSQL := fmt.Sprintf(`INSERT INTO %s (run_id, built_at, article_count) VALUES ($1, $2, $3)`, s.table("runs"))
	if _, err := tx.Exec(ctx, runSQL, runID, builtAt.UTC(), len(entries)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	articleSQL := fmt.Sprintf(`INSERT INTO %s (run_id, url, title) VALUES ($1, $2, $3)`, s.table("articles"))
	termSQL := fmt.Sprintf(`INSERT INTO %s (run_id, url, term, occurrences) VALUES ($1, $2, $3, $4)`, s.table("terms"))
	for _, entry := range entries {
		if _, err := tx.Exec(ctx, articleSQL, runID, entry.Article.URL, entry.Article.Title); err != nil {
			return fmt.Errorf("insert article %q: %w", entry.Article.URL, err)
		}
		terms := make([]string, 0, len(entry.Terms))
		for term := range entry.Terms {
			terms = append(terms, term)
		}
		sort.Strings(terms)
		for _, term := range terms {
			if _, err := tx.Exec(ctx, termSQL, runID, entry.Article.URL, term, entry.Terms[term]); err != nil {
				return fmt.Errorf("insert term %q for %q: %w", term, entry.Article.URL, err)
			}
		}
	}
	return nil
}
