package store

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/assess/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore is a pgvector-backed similarity index. pgxpool makes it safe
// for concurrent queries.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "snippets"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if !identifierRe.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			chunk_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Store upserts every chunk of docs with its precomputed embedding.
func (vs *VectorStore) Store(ctx context.Context, docs []models.ProcessedDocument) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source, title, content, chunk_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for _, doc := range docs {
		if len(doc.Chunks) != len(doc.Embedding) {
			return fmt.Errorf("document %s: %d chunks but %d embeddings", doc.ID, len(doc.Chunks), len(doc.Embedding))
		}

		cleanTitle := sanitizeUTF8(doc.Title)

		for i, chunk := range doc.Chunks {
			if len(doc.Embedding[i]) != vs.config.VectorDim {
				return fmt.Errorf("document %s chunk %d: embedding has %d dimensions, want %d",
					doc.ID, i, len(doc.Embedding[i]), vs.config.VectorDim)
			}

			_, err = tx.Exec(ctx, stmt,
				chunkID(doc.ID, i),
				doc.Source,
				cleanTitle,
				sanitizeUTF8(chunk),
				i,
				pgvector.NewVector(doc.Embedding[i]),
				doc.Metadata,
			)
			if err != nil {
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Query returns the topK nearest chunks by cosine distance. Score is cosine
// similarity; equal distances are ordered by id so results are stable.
func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, topK int) ([]models.ScoredContent, error) {
	if topK <= 0 {
		topK = 3
	}

	query := fmt.Sprintf(`
		SELECT id, content, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query snippets: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredContent
	for rows.Next() {
		var row models.ScoredContent
		if err := rows.Scan(&row.ID, &row.Content, &row.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) BatchSize() int {
	return vs.config.BatchSize
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func chunkID(docID string, i int) string {
	return fmt.Sprintf("%s_%d", docID, i)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
