// Package buildpipeline walks a backup root directory and populates a
// chunk-index with its folder/file/chunk hierarchy, applying glob-based
// exclusion and content hashing along the way.
package buildpipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/chunkindex"
)

// ErrInvalidUnicode is returned when a path component is not valid UTF-8.
var ErrInvalidUnicode = errors.New("buildpipeline: path contains invalid UTF-8")

// Logger is the minimal logging surface the pipeline needs; satisfied by
// *observability.Logger in production and by a stub in tests.
type Logger interface {
	Warn(msg string)
}

// Build inserts a root folder for root and recursively populates idx with
// its contents, skipping any entry whose path (relative to root) matches
// one of excludes.
func Build(idx *chunkindex.Index, root string, excludes []string, logger Logger) error {
	rootFolder, err := idx.AddFolder(filepath.Base(root), nil)
	if err != nil {
		return fmt.Errorf("buildpipeline: add root folder: %w", err)
	}
	return walk(idx, root, root, rootFolder.ID, excludes, logger)
}

func walk(idx *chunkindex.Index, root, dir string, folderID int64, excludes []string, logger Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("buildpipeline: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		entryPath := filepath.Join(dir, entry.Name())
		relPath, err := filepath.Rel(root, entryPath)
		if err != nil {
			return fmt.Errorf("buildpipeline: relative path for %s: %w", entryPath, err)
		}
		if !utf8.ValidString(relPath) {
			return fmt.Errorf("%w: %s", ErrInvalidUnicode, relPath)
		}

		if matchesAny(excludes, relPath) {
			logWarn(logger, fmt.Sprintf("excluding %s (matched exclude pattern)", relPath))
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("buildpipeline: stat %s: %w", entryPath, err)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			logWarn(logger, fmt.Sprintf("skipping symlink %s", relPath))
		case entry.IsDir():
			folder, err := idx.AddFolder(entry.Name(), &folderID)
			if err != nil {
				return fmt.Errorf("buildpipeline: add folder %s: %w", relPath, err)
			}
			if err := walk(idx, root, entryPath, folder.ID, excludes, logger); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := addFile(idx, entryPath, entry.Name(), info, folderID); err != nil {
				return err
			}
		default:
			logWarn(logger, fmt.Sprintf("skipping non-regular entry %s", relPath))
		}
	}
	return nil
}

func addFile(idx *chunkindex.Index, path, name string, info os.FileInfo, folderID int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("buildpipeline: read file %s: %w", path, err)
	}

	file, err := idx.AddFile(name, info.ModTime(), folderID)
	if err != nil {
		return fmt.Errorf("buildpipeline: add file %s: %w", path, err)
	}

	identifier := blobstore.Identifier(data)
	if _, err := idx.AddChunk(identifier, file.ID, nil); err != nil {
		return fmt.Errorf("buildpipeline: add chunk for %s: %w", path, err)
	}
	return nil
}

// matchesAny reports whether relPath matches any of patterns, evaluated
// relative to the backup root so a pattern like "pictures/**/*.jpg" targets
// the correct subtree.
func matchesAny(patterns []string, relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

func logWarn(logger Logger, msg string) {
	if logger != nil {
		logger.Warn(msg)
	}
}
