package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/gochunk/pkg/types"
)

// SQLiteStorage implements EmbeddingStore using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Tx is a unit of work on the SQLite store
type Tx interface {
	Commit() error
	Rollback() error

	AppendChunks(ctx context.Context, chunks []*types.Chunk) error
	SetMetadata(ctx context.Context, key, value string) error
	Reset(ctx context.Context) error
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) AppendChunks(ctx context.Context, chunks []*types.Chunk) error {
	return t.storage.appendChunksWithQuerier(ctx, t.tx, chunks)
}

func (t *sqliteTx) SetMetadata(ctx context.Context, key, value string) error {
	return t.storage.setMetadataWithQuerier(ctx, t.tx, key, value)
}

func (t *sqliteTx) Reset(ctx context.Context) error {
	return t.storage.resetWithQuerier(ctx, t.tx)
}

// withTx runs fn in a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Chunk operations

const chunkColumns = `id, source, language, section, chunk_type, content, token_count, start_page`

// appendChunksWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) appendChunksWithQuerier(ctx context.Context, q querier, chunks []*types.Chunk) error {
	query := `
		INSERT INTO chunks (id, stem, source, language, section, chunk_type, content,
		                    content_hash, token_count, start_page, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return fmt.Errorf("invalid chunk %s: %w", chunk.ID, err)
		}

		var exists int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM chunks WHERE id = ?", chunk.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, ErrAlreadyExists)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to check chunk %s: %w", chunk.ID, err)
		}

		var startPage sql.NullInt64
		if chunk.StartPage != nil {
			startPage = sql.NullInt64{Int64: int64(*chunk.StartPage), Valid: true}
		}
		hash := chunk.ContentHash()

		_, err = q.ExecContext(ctx, query,
			chunk.ID, types.StemFromID(chunk.ID), chunk.Source, chunk.Language, chunk.Section,
			string(chunk.Type), chunk.Text, hash[:], chunk.TokenCount, startPage, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) AppendChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx Tx) error {
		return tx.AppendChunks(ctx, chunks)
	})
}

func (s *SQLiteStorage) ProcessedStems(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT stem FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to list stems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stems := make(map[string]struct{})
	for rows.Next() {
		var stem string
		if err := rows.Scan(&stem); err != nil {
			return nil, err
		}
		stems[stem] = struct{}{}
	}
	return stems, rows.Err()
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id = ?`
	chunk, err := scanChunk(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

func (s *SQLiteStorage) ListChunks(ctx context.Context, filter *ChunkFilter) ([]*types.Chunk, error) {
	query, args := buildListQuery(`SELECT `+chunkColumns+` FROM chunks c`, filter)
	return s.queryChunks(ctx, query, args...)
}

func (s *SQLiteStorage) ListChunksWithoutEmbedding(ctx context.Context, limit int) ([]*types.Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE e.chunk_id IS NULL
		ORDER BY c.seq
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryChunks(ctx, query, args...)
}

// buildListQuery appends the filter's WHERE, ORDER and LIMIT clauses to base
func buildListQuery(base string, filter *ChunkFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if filter != nil {
		if filter.Stem != "" {
			conds = append(conds, "c.stem = ?")
			args = append(args, filter.Stem)
		}
		if filter.Source != "" {
			conds = append(conds, "c.source = ?")
			args = append(args, filter.Source)
		}
		if filter.Type != "" {
			conds = append(conds, "c.chunk_type = ?")
			args = append(args, string(filter.Type))
		}
		if filter.Language != "" {
			conds = append(conds, "c.language = ?")
			args = append(args, filter.Language)
		}
	}

	query := base
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.seq"

	if filter != nil && (filter.Limit > 0 || filter.Offset > 0) {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1 // SQLite: no limit
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}
	return query, args
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*types.Chunk, error) {
	var (
		chunk     types.Chunk
		chunkType string
		startPage sql.NullInt64
	)
	err := row.Scan(&chunk.ID, &chunk.Source, &chunk.Language, &chunk.Section,
		&chunkType, &chunk.Text, &chunk.TokenCount, &startPage)
	if err != nil {
		return nil, err
	}
	chunk.Type = types.ChunkType(chunkType)
	if startPage.Valid {
		page := int(startPage.Int64)
		chunk.StartPage = &page
	}
	return &chunk, nil
}

// Metadata operations

// setMetadataWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) setMetadataWithQuerier(ctx context.Context, q querier, key, value string) error {
	query := `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	return s.setMetadataWithQuerier(ctx, s.db, key, value)
}

func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// resetWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) resetWithQuerier(ctx context.Context, q querier) error {
	for _, table := range []string{"embeddings", "chunks", "metadata"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) ReplaceAll(ctx context.Context, chunks []*types.Chunk, meta map[string]string) error {
	return s.withTx(ctx, func(tx Tx) error {
		if err := tx.Reset(ctx); err != nil {
			return err
		}
		if err := tx.AppendChunks(ctx, chunks); err != nil {
			return err
		}
		for _, key := range sortedKeys(meta) {
			if err := tx.SetMetadata(ctx, key, meta[key]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Embedding operations

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model
	`
	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		embedding.ChunkID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	embedding.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, chunkID string) (*Embedding, error) {
	query := `
		SELECT chunk_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE chunk_id = ?
	`
	var embedding Embedding
	err := s.db.QueryRowContext(ctx, query, chunkID).Scan(
		&embedding.ChunkID, &embedding.Vector, &embedding.Dimension,
		&embedding.Provider, &embedding.Model, &embedding.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &embedding, nil
}

// Status operations

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Backend:      BackendSQLite,
		Path:         s.path,
		ChunksByType: make(map[types.ChunkType]int),
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	var tokens sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT stem), SUM(token_count) FROM chunks",
	).Scan(&status.ChunksCount, &status.DocumentsCount, &tokens)
	if err != nil {
		return nil, err
	}
	status.TokensCount = int(tokens.Int64)

	rows, err := s.db.QueryContext(ctx, "SELECT chunk_type, COUNT(*) FROM chunks GROUP BY chunk_type")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			chunkType string
			count     int
		)
		if err := rows.Scan(&chunkType, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.ChunksByType[types.ChunkType(chunkType)] = count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&status.EmbeddingsCount)
	if err != nil {
		return nil, err
	}

	if scheme, err := s.GetMetadata(ctx, MetaTokenizerScheme); err == nil {
		status.TokenizerScheme = scheme
	}
	if lastRun, err := s.GetMetadata(ctx, MetaLastRunAt); err == nil {
		if t, err := time.Parse(time.RFC3339, lastRun); err == nil {
			status.LastRunAt = t
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// DB exposes the underlying handle for migrations tooling
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}
