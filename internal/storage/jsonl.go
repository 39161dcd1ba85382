package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/gjson"

	"github.com/dshills/gochunk/pkg/types"
)

const (
	// lockRetryDelay is the poll interval while waiting for another process's append
	lockRetryDelay = 50 * time.Millisecond

	// maxLineSize bounds one JSONL record
	maxLineSize = 16 * 1024 * 1024
)

// ErrLocked is returned when the store's file lock cannot be acquired
var ErrLocked = errors.New("store is locked by another process")

var errStopScan = errors.New("stop scan")

// JSONLStore is an append-only store with one JSON chunk record per line.
// Writers are serialised across processes with an OS file lock.
type JSONLStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewJSONLStore opens (creating if needed) the JSONL file at path
func NewJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	_ = f.Close()

	return &JSONLStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (s *JSONLStore) metaPath() string {
	return s.path + ".meta.json"
}

// withLock runs fn holding both the in-process mutex and the file lock
func (s *JSONLStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// scan calls fn for every non-empty line in file order
func (s *JSONLStore) scan(ctx context.Context, fn func(line []byte) error) error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, errStopScan) {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}

func (s *JSONLStore) ids(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := s.scan(ctx, func(line []byte) error {
		ids[gjson.GetBytes(line, "id").String()] = struct{}{}
		return nil
	})
	return ids, err
}

func (s *JSONLStore) ProcessedStems(ctx context.Context) (map[string]struct{}, error) {
	stems := make(map[string]struct{})
	err := s.scan(ctx, func(line []byte) error {
		if stem := types.StemFromID(gjson.GetBytes(line, "id").String()); stem != "" {
			stems[stem] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stems: %w", err)
	}
	return stems, nil
}

func (s *JSONLStore) AppendChunks(ctx context.Context, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.withLock(ctx, func() error {
		existing, err := s.ids(ctx)
		if err != nil {
			return err
		}
		data, err := encodeChunks(chunks, existing)
		if err != nil {
			return err
		}
		return s.appendBytes(data)
	})
}

// encodeChunks validates chunks and renders them as JSONL records. An ID already
// in existing, or repeated within chunks, fails with ErrAlreadyExists.
func encodeChunks(chunks []*types.Chunk, existing map[string]struct{}) ([]byte, error) {
	var buf bytes.Buffer
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("invalid chunk %s: %w", chunk.ID, err)
		}
		if _, ok := existing[chunk.ID]; ok {
			return nil, fmt.Errorf("chunk %s: %w", chunk.ID, ErrAlreadyExists)
		}
		existing[chunk.ID] = struct{}{}

		line, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chunk %s: %w", chunk.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// appendBytes writes data in one call and truncates back on failure
func (s *JSONLStore) appendBytes(data []byte) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	// Terminate a torn last record so it cannot merge with the new one
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err == nil && last[0] != '\n' {
			data = append([]byte{'\n'}, data...)
		}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Truncate(size)
		return fmt.Errorf("failed to append chunks: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		return fmt.Errorf("failed to sync store: %w", err)
	}
	return nil
}

func (s *JSONLStore) GetChunk(ctx context.Context, id string) (*types.Chunk, error) {
	var found *types.Chunk
	err := s.scan(ctx, func(line []byte) error {
		if gjson.GetBytes(line, "id").String() != id {
			return nil
		}
		var chunk types.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to decode chunk %s: %w", id, err)
		}
		found = &chunk
		return errStopScan
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *JSONLStore) ListChunks(ctx context.Context, filter *ChunkFilter) ([]*types.Chunk, error) {
	chunks := make([]*types.Chunk, 0)
	skipped := 0
	err := s.scan(ctx, func(line []byte) error {
		// Filter on the indexed fields before decoding the full record
		fields := gjson.GetManyBytes(line, "id", "source", "type", "language")
		probe := &types.Chunk{
			ID:       fields[0].String(),
			Source:   fields[1].String(),
			Type:     types.ChunkType(fields[2].String()),
			Language: fields[3].String(),
		}
		if !filter.Match(probe) {
			return nil
		}
		if filter != nil && skipped < filter.Offset {
			skipped++
			return nil
		}

		var chunk types.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("failed to decode chunk %s: %w", probe.ID, err)
		}
		chunks = append(chunks, &chunk)

		if filter != nil && filter.Limit > 0 && len(chunks) >= filter.Limit {
			return errStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *JSONLStore) readMetadata() (map[string]string, error) {
	data, err := os.ReadFile(s.metaPath())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

func (s *JSONLStore) GetMetadata(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.metaPath())
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata: %w", err)
	}
	value := gjson.GetBytes(data, gjson.Escape(key))
	if !value.Exists() {
		return "", ErrNotFound
	}
	return value.String(), nil
}

func (s *JSONLStore) SetMetadata(ctx context.Context, key, value string) error {
	return s.withLock(ctx, func() error {
		meta, err := s.readMetadata()
		if err != nil {
			return err
		}
		meta[key] = value

		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return err
		}
		tmp := s.metaPath() + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
		return os.Rename(tmp, s.metaPath())
	})
}

func (s *JSONLStore) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Backend:      BackendJSONL,
		Path:         s.path,
		ChunksByType: make(map[types.ChunkType]int),
	}

	stems := make(map[string]struct{})
	err := s.scan(ctx, func(line []byte) error {
		fields := gjson.GetManyBytes(line, "id", "type", "token_count")
		status.ChunksCount++
		stems[types.StemFromID(fields[0].String())] = struct{}{}
		status.ChunksByType[types.ChunkType(fields[1].String())]++
		status.TokensCount += int(fields[2].Int())
		return nil
	})
	if err != nil {
		return nil, err
	}
	status.DocumentsCount = len(stems)

	if scheme, err := s.GetMetadata(ctx, MetaTokenizerScheme); err == nil {
		status.TokenizerScheme = scheme
	}
	if lastRun, err := s.GetMetadata(ctx, MetaLastRunAt); err == nil {
		if t, err := time.Parse(time.RFC3339, lastRun); err == nil {
			status.LastRunAt = t
		}
	}
	if info, err := os.Stat(s.path); err == nil {
		status.SizeMB = float64(info.Size()) / (1024 * 1024)
	}
	return status, nil
}

// ReplaceAll writes the new corpus and metadata to temporary files and renames
// them over the store, chunks first.
func (s *JSONLStore) ReplaceAll(ctx context.Context, chunks []*types.Chunk, meta map[string]string) error {
	return s.withLock(ctx, func() error {
		data, err := encodeChunks(chunks, map[string]struct{}{})
		if err != nil {
			return err
		}
		if meta == nil {
			meta = map[string]string{}
		}
		metaData, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		chunksTmp := s.path + ".tmp"
		metaTmp := s.metaPath() + ".tmp"
		defer func() {
			_ = os.Remove(chunksTmp)
			_ = os.Remove(metaTmp)
		}()

		if err := writeFileSync(chunksTmp, data); err != nil {
			return fmt.Errorf("failed to write chunks: %w", err)
		}
		if err := writeFileSync(metaTmp, metaData); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
		if err := os.Rename(chunksTmp, s.path); err != nil {
			return fmt.Errorf("failed to replace store: %w", err)
		}
		if err := os.Rename(metaTmp, s.metaPath()); err != nil {
			return fmt.Errorf("failed to replace metadata: %w", err)
		}
		return nil
	})
}

// writeFileSync writes data to path and flushes it to disk
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *JSONLStore) Close() error {
	return nil
}
