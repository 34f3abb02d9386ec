// Package sqlite implements quarry.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	quarry "github.com/quarryhq/quarry"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements quarry.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ quarry.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			language TEXT,
			title TEXT,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			article_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			word_count INTEGER NOT NULL,
			score_boundary REAL NOT NULL DEFAULT 0,
			score_size REAL NOT NULL DEFAULT 0,
			score_complexity REAL NOT NULL DEFAULT 0,
			score_combined REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_article ON chunks(article_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_articles_domain ON articles(domain)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// SaveArticle inserts or replaces an article.
func (s *Store) SaveArticle(ctx context.Context, a quarry.Article) error {
	start := time.Now()
	s.logger.Debug("sqlite: save article", "id", a.ID, "domain", a.Domain, "bytes", len(a.Text))

	var metaJSON *string
	if len(a.Metadata) > 0 {
		data, _ := json.Marshal(a.Metadata)
		v := string(data)
		metaJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO articles (id, domain, language, title, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Domain, a.Language, a.Title, a.Text, metaJSON, a.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save article failed", "id", a.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save article: %w", err)
	}
	s.logger.Debug("sqlite: save article ok", "id", a.ID, "duration", time.Since(start))
	return nil
}

// LoadArticles returns the articles matching the given ids. Missing ids are
// silently absent from the result.
func (s *Store) LoadArticles(ctx context.Context, ids []string) ([]quarry.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: load articles", "count", len(ids))

	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, language, title, content, metadata, created_at
		 FROM articles WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		s.logger.Error("sqlite: load articles failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load articles: %w", err)
	}
	defer rows.Close()

	arts, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite: load articles ok", "requested", len(ids), "returned", len(arts), "duration", time.Since(start))
	return arts, nil
}

// LoadArticlesByDomain returns articles from one source domain, newest first.
func (s *Store) LoadArticlesByDomain(ctx context.Context, domain string, limit int) ([]quarry.Article, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load articles by domain", "domain", domain, "limit", limit)

	query := `SELECT id, domain, language, title, content, metadata, created_at
		 FROM articles WHERE domain = ? ORDER BY created_at DESC`
	args := []any{domain}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: load articles by domain failed", "domain", domain, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load articles by domain: %w", err)
	}
	defer rows.Close()

	arts, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite: load articles by domain ok", "domain", domain, "count", len(arts), "duration", time.Since(start))
	return arts, nil
}

// PersistChunks replaces an article's chunk set in a single transaction, so
// re-processing never leaves a mix of old and new chunks behind.
func (s *Store) PersistChunks(ctx context.Context, articleID string, chunks []quarry.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: persist chunks", "article_id", articleID, "chunks", len(chunks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE article_id = ?`, articleID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	for _, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, article_id, chunk_index, content, start_offset, end_offset,
				word_count, score_boundary, score_size, score_complexity, score_combined, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ArticleID, c.Index, c.Text, c.Start, c.End,
			c.WordCount, c.Score.Boundary, c.Score.Size, c.Score.Complexity, c.Score.Combined, string(c.Status),
		)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "article_id", articleID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: persist chunks commit failed", "article_id", articleID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: persist chunks ok", "article_id", articleID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// LoadChunks returns an article's chunks ordered by index.
func (s *Store) LoadChunks(ctx context.Context, articleID string) ([]quarry.Chunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load chunks", "article_id", articleID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_id, chunk_index, content, start_offset, end_offset,
			word_count, score_boundary, score_size, score_complexity, score_combined, status
		 FROM chunks WHERE article_id = ? ORDER BY chunk_index`, articleID)
	if err != nil {
		s.logger.Error("sqlite: load chunks failed", "article_id", articleID, "error", err, "duration", time.Since(start))
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
	s.logger.Debug("sqlite: load chunks ok", "article_id", articleID, "count", len(chunks), "duration", time.Since(start))
	return chunks, rows.Err()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

func scanArticles(rows *sql.Rows) ([]quarry.Article, error) {
	var arts []quarry.Article
	for rows.Next() {
		var a quarry.Article
		var language, title, metaJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.Domain, &language, &title, &a.Text, &metaJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if language.Valid {
			a.Language = language.String
		}
		if title.Valid {
			a.Title = title.String
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &a.Metadata)
		}
		arts = append(arts, a)
	}
	return arts, rows.Err()
}
