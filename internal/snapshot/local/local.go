// Package local writes snapshots to the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/hellowork-crawler/internal/snapshot"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where snapshots are written.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes objects below a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
			return nil, fmt.Errorf("create base directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove probe file: %w", err)
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Put writes obj.Body to <base>/<key> and returns a file:// URI. Metadata is not persisted.
func (s *BlobStore) Put(_ context.Context, obj snapshot.Object) (string, error) {
	if strings.TrimSpace(obj.Key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, obj.Key))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the base directory", obj.Key)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, obj.Body, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return "file://" + fullPath, nil
}
