package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
)

// FilesystemCache stores one file per tile.
// Structure: {dir}/{sha256[:2]}/{sha256}.tile
type FilesystemCache struct {
	dir    string
	logger logger.Logger
}

func NewFilesystemCache(dir string, l logger.Logger) (*FilesystemCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	l = logger.OrNoOp(l)
	l.Info("filesystem cache initialized", "dir", dir)

	return &FilesystemCache{
		dir:    dir,
		logger: l,
	}, nil
}

var _ TileCache = (*FilesystemCache)(nil)

func (c *FilesystemCache) Get(k TileCacheKey) (TileCacheValue, bool, error) {
	content, err := os.ReadFile(c.keyToPath(k))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		c.logger.Error("filesystem cache get failed", "url", k, "error", err)
		return nil, false, err
	}

	return content, true, nil
}

// Set writes to a temporary file and renames it so readers never see a
// partial tile.
func (c *FilesystemCache) Set(k TileCacheKey, v TileCacheValue) error {
	path := c.keyToPath(k)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(v)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	c.logger.Debug("filesystem cache set", "url", k, "size", len(v))

	return nil
}

func (c *FilesystemCache) keyToPath(k TileCacheKey) string {
	sum := sha256.Sum256([]byte(k))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.dir, name[:2], name+".tile")
}
