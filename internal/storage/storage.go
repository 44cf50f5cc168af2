// Package storage provides file-based append-only record logs.
//
// Each log is a JSONL file addressed by a path slice. Appends and rewrites
// take an exclusive file lock; rewrites are atomic (temp file plus rename).
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	logExt     = ".jsonl"
	archiveExt = ".jsonl.zst"
)

// Storage provides file-based record logs.
type Storage struct {
	basePath string
	mu       sync.RWMutex
	locks    map[string]*FileLock
}

// New creates a new Storage instance.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// BasePath returns the root directory of the storage.
func (s *Storage) BasePath() string {
	return s.basePath
}

// pathToFile converts a path slice to a log file path.
func (s *Storage) pathToFile(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + logExt
}

// pathToDir converts a path slice to a directory path.
func (s *Storage) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Append writes records to the end of the log, one JSON document per line.
func (s *Storage) Append(ctx context.Context, path []string, records ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeLines(records)
	if err != nil {
		return err
	}

	filePath := s.pathToFile(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append: %w", err)
	}
	return f.Sync()
}

// Rewrite atomically replaces the whole log with records.
func (s *Storage) Rewrite(ctx context.Context, path []string, records ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeLines(records)
	if err != nil {
		return err
	}

	filePath := s.pathToFile(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	// Write to temp file first, then rename (atomic operation)
	tmpPath := filePath + ".tmp"
	if err := writeSynced(tmpPath, data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	syncDir(filepath.Dir(filePath))
	return nil
}

// writeSynced writes data to path and flushes it to disk.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir persists a rename. Errors are ignored; some filesystems do not
// support syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

// Read calls fn for every record of the log in order.
func (s *Storage) Read(ctx context.Context, path []string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(s.pathToFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()
	return readLines(ctx, f, fn)
}

// Archive stores a zstd-compressed copy of the log next to it and returns
// the archive path. The live log is left untouched.
func (s *Storage) Archive(ctx context.Context, path []string, tag string) (string, error) {
	filePath := s.pathToFile(path)
	src, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to open log: %w", err)
	}
	defer src.Close()

	archivePath := strings.TrimSuffix(filePath, logExt) + "." + tag + archiveExt
	dst, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return "", fmt.Errorf("failed to compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return archivePath, ctx.Err()
}

// ReadArchive calls fn for every record stored in an archive file.
func (s *Storage) ReadArchive(ctx context.Context, archivePath string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return readLines(ctx, dec, fn)
}

// Delete removes a log.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	filePath := s.pathToFile(path)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List returns the names of all logs at a path, sorted.
func (s *Storage) List(ctx context.Context, path []string) ([]string, error) {
	entries, err := os.ReadDir(s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	items := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, logExt) {
			items = append(items, strings.TrimSuffix(name, logExt))
		}
	}
	sort.Strings(items)
	return items, nil
}

// Exists checks if a log exists.
func (s *Storage) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.pathToFile(path))
	return err == nil
}

// getLock returns a file lock for a path.
func (s *Storage) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}

func encodeLines(records []any) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func readLines(ctx context.Context, r io.Reader, fn func(line json.RawMessage) error) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if ferr := fn(json.RawMessage(trimmed)); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read log: %w", err)
		}
	}
}
