// Package postgres implements quarry.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	quarry "github.com/quarryhq/quarry"
)

// Store implements quarry.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ quarry.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS articles_domain_idx ON articles(domain)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			word_count INTEGER NOT NULL,
			score_boundary DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_size DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_combined DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_article_idx ON chunks(article_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveArticle upserts an article.
func (s *Store) SaveArticle(ctx context.Context, a quarry.Article) error {
	var metaJSON []byte
	if len(a.Metadata) > 0 {
		metaJSON, _ = json.Marshal(a.Metadata)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO articles (id, domain, language, title, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			language = EXCLUDED.language,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`,
		a.ID, a.Domain, a.Language, a.Title, a.Text, metaJSON, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save article: %w", err)
	}
	return nil
}

// LoadArticles returns the articles matching the given ids.
func (s *Store) LoadArticles(ctx context.Context, ids []string) ([]quarry.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, language, title, content, metadata, created_at
		 FROM articles WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// LoadArticlesByDomain returns articles from one source domain, newest first.
func (s *Store) LoadArticlesByDomain(ctx context.Context, domain string, limit int) ([]quarry.Article, error) {
	query := `SELECT id, domain, language, title, content, metadata, created_at
		 FROM articles WHERE domain = $1 ORDER BY created_at DESC`
	args := []any{domain}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load articles by domain: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// PersistChunks replaces an article's chunk set in a single transaction.
func (s *Store) PersistChunks(ctx context.Context, articleID string, chunks []quarry.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, article_id, chunk_index, content, start_offset, end_offset,
				word_count, score_boundary, score_size, score_complexity, score_combined, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			c.ID, c.ArticleID, c.Index, c.Text, c.Start, c.End,
			c.WordCount, c.Score.Boundary, c.Score.Size, c.Score.Complexity, c.Score.Combined, string(c.Status),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadChunks returns an article's chunks ordered by index.
func (s *Store) LoadChunks(ctx context.Context, articleID string) ([]quarry.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, article_id, chunk_index, content, start_offset, end_offset,
			word_count, score_boundary, score_size, score_complexity, score_combined, status
		 FROM chunks WHERE article_id = $1 ORDER BY chunk_index`, articleID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []quarry.Chunk
	for rows.Next() {
		var c quarry.Chunk
		var status string
		if err := rows.Scan(&c.ID, &c.ArticleID, &c.Index, &c.Text, &c.Start, &c.End,
			&c.WordCount, &c.Score.Boundary, &c.Score.Size, &c.Score.Complexity, &c.Score.Combined, &status); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Status = quarry.RefinementStatus(status)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Close is a no-op: the pool is owned by the caller.
func (s *Store) Close() error { return nil }

func scanArticles(rows pgx.Rows) ([]quarry.Article, error) {
	var arts []quarry.Article
	for rows.Next() {
		var a quarry.Article
		var metaJSON []byte
		if err := rows.Scan(&a.ID, &a.Domain, &a.Language, &a.Title, &a.Text, &metaJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &a.Metadata)
		}
		arts = append(arts, a)
	}
	return arts, rows.Err()
}
