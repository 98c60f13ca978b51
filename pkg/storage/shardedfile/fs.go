package shardedfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mnohosten/relaydb/pkg/compression"
	"github.com/mnohosten/relaydb/pkg/concurrent"
)

// dirCacheTTL bounds how long fileStore trusts that a directory it created
// still exists before calling MkdirAll again. A stale hit just costs one
// redundant (and idempotent) MkdirAll call, never a wrong write.
const dirCacheTTL = 10 * time.Minute

// fileStore is the low-level JSON-blob-per-file persistence primitive both
// item shards and index buckets are built on: compress on write, decompress
// on read, directory creation memoized through a ShardedLRUCache the way
// pkg/cache.LRUCache is used elsewhere in this module to avoid redundant
// stat/mkdir syscalls under concurrent writers.
type fileStore struct {
	root       string
	compressor *compression.Compressor
	dirCache   *concurrent.ShardedLRUCache
	dirMu      sync.Mutex
}

func newFileStore(root string, compressor *compression.Compressor) *fileStore {
	return &fileStore{
		root:       root,
		compressor: compressor,
		dirCache:   concurrent.NewShardedLRUCache(512, dirCacheTTL, 16),
	}
}

func (fsrv *fileStore) ensureDir(relDir string) error {
	if _, hit := fsrv.dirCache.Get(relDir); hit {
		return nil
	}

	fsrv.dirMu.Lock()
	defer fsrv.dirMu.Unlock()
	if _, hit := fsrv.dirCache.Get(relDir); hit {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(fsrv.root, relDir), 0o755); err != nil {
		return fmt.Errorf("shardedfile: create directory %s: %w", relDir, err)
	}
	fsrv.dirCache.Put(relDir, struct{}{})
	return nil
}

// writeJSON marshals value, compresses it, and writes it to relDir/name
// atomically (write to a temp file, then rename) so a crash mid-write never
// leaves a half-written shard file for a later read to choke on.
func (fsrv *fileStore) writeJSON(relDir, name string, value interface{}) error {
	if err := fsrv.ensureDir(relDir); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("shardedfile: encode %s/%s: %w", relDir, name, err)
	}
	packed, err := fsrv.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("shardedfile: compress %s/%s: %w", relDir, name, err)
	}

	target := filepath.Join(fsrv.root, relDir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, packed, 0o644); err != nil {
		return fmt.Errorf("shardedfile: write %s/%s: %w", relDir, name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("shardedfile: finalize %s/%s: %w", relDir, name, err)
	}
	return nil
}

// readJSON reads and decodes relDir/name into out, reporting found=false
// (not an error) when the file does not exist.
func (fsrv *fileStore) readJSON(relDir, name string, out interface{}) (found bool, err error) {
	path := filepath.Join(fsrv.root, relDir, name)
	packed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("shardedfile: read %s/%s: %w", relDir, name, err)
	}

	raw, err := fsrv.compressor.Decompress(packed)
	if err != nil {
		return false, fmt.Errorf("shardedfile: decompress %s/%s: %w", relDir, name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("shardedfile: decode %s/%s: %w", relDir, name, err)
	}
	return true, nil
}

func (fsrv *fileStore) removeFile(relDir, name string) error {
	err := os.Remove(filepath.Join(fsrv.root, relDir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("shardedfile: remove %s/%s: %w", relDir, name, err)
	}
	return nil
}

// walkFiles visits every regular file under relDir (which may not exist
// yet, in which case it visits nothing), passing each file's path relative
// to fsrv.root.
func (fsrv *fileStore) walkFiles(relDir string, visit func(relPath string) error) error {
	base := filepath.Join(fsrv.root, relDir)
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		rel, err := filepath.Rel(fsrv.root, path)
		if err != nil {
			return err
		}
		return visit(rel)
	})
}

func (fsrv *fileStore) removeAll(relDir string) error {
	if err := os.RemoveAll(filepath.Join(fsrv.root, relDir)); err != nil {
		return fmt.Errorf("shardedfile: remove all under %s: %w", relDir, err)
	}
	fsrv.dirCache.Clear()
	return nil
}
