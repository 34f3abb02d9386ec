package quarry

import "context"

// Store persists articles and their chunks. Implementations live in
// store/sqlite and store/postgres; the coordinator only sees this interface.
//
// PersistChunks replaces an article's chunk set atomically: re-processing an
// article never leaves a mix of old and new chunks behind.
type Store interface {
	// Init creates or migrates the schema. Idempotent.
	Init(ctx context.Context) error

	SaveArticle(ctx context.Context, a Article) error
	LoadArticles(ctx context.Context, ids []string) ([]Article, error)
	LoadArticlesByDomain(ctx context.Context, domain string, limit int) ([]Article, error)

	PersistChunks(ctx context.Context, articleID string, chunks []Chunk) error
	LoadChunks(ctx context.Context, articleID string) ([]Chunk, error)

	Close() error
}
