package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// checksumCacheSize bounds the number of cached digests. At ~100 bytes per
// entry this keeps the cache under a few MiB.
const checksumCacheSize = 16384

// Scanner builds FileVersion snapshots from the local filesystem. Checksums
// are cached keyed by path, size and mtime, so unchanged files are never
// re-hashed across sweeps.
type Scanner struct {
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// NewScanner creates a scanner with a fresh checksum cache.
func NewScanner(logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](checksumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating checksum cache: %w", err)
	}
	return &Scanner{cache: cache, logger: logger}, nil
}

// Snapshot stats path and returns its FileVersion. A missing file yields
// the canonical Missing descriptor, not an error.
func (s *Scanner) Snapshot(path string) (FileVersion, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Missing(path), nil
	}
	if err != nil {
		return FileVersion{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileVersion{}, fmt.Errorf("%s is a directory", path)
	}

	checksum, err := s.checksum(path, info)
	if err != nil {
		return FileVersion{}, err
	}

	return FileVersion{
		Path:       path,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
		Checksum:   checksum,
		Exists:     true,
	}, nil
}

// Walk snapshots every regular file under root, returning versions keyed by
// slash-separated path relative to root.
func (s *Scanner) Walk(root string) (map[string]FileVersion, error) {
	out := make(map[string]FileVersion)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		v, err := s.Snapshot(path)
		if err != nil {
			s.logger.Warn("failed to snapshot file", "path", path, "error", err)
			return nil
		}
		out[filepath.ToSlash(rel)] = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return out, nil
}

// Purge drops every cached checksum. Returns the number of evicted entries.
func (s *Scanner) Purge() int {
	n := s.cache.Len()
	s.cache.Purge()
	return n
}

func (s *Scanner) checksum(path string, info os.FileInfo) (string, error) {
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if sum, ok := s.cache.Get(key); ok {
		return sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	s.cache.Add(key, sum)
	return sum, nil
}
