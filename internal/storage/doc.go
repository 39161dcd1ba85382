// Package storage provides the append-only output store for chunks.
//
// Two backends implement Store:
//   - SQLiteStorage: a SQLite database, also persisting embeddings (EmbeddingStore)
//   - JSONLStore: one JSON record per line, guarded by an OS file lock
//
// Both are keyed by chunk ID. AppendChunks inserts a batch atomically and never
// rewrites an existing chunk; ProcessedStems recovers the set of documents already
// represented in the store from the stored IDs.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semantic versions)
//   - metadata: corpus settings such as the tokenizer scheme
//   - chunks: chunk records in append order
//   - embeddings: vectors keyed by chunk ID (schema 1.1.0)
//
// # Basic Usage
//
//	store, err := storage.Open(storage.BackendSQLite, "data/chunks/gochunk.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	done, err := store.ProcessedStems(ctx)
//	...
//	if err := store.AppendChunks(ctx, chunks); err != nil {
//	    return err
//	}
//
// # Transactions
//
// SQLiteStorage exposes BeginTx for multi-step work. ReplaceAll is built on it:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.Reset(ctx); err != nil {
//	    return err
//	}
//	if err := tx.AppendChunks(ctx, chunks); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Modes
//
// The default build uses the pure Go driver modernc.org/sqlite. Building with
// -tags sqlite_cgo switches to github.com/mattn/go-sqlite3.
package storage
