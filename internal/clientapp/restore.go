package clientapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redbackup/backend/internal/chunkindex"
	"github.com/redbackup/backend/internal/progress"
	"github.com/redbackup/backend/internal/wire"
)

// RestoreOptions configures a single restore run.
type RestoreOptions struct {
	Node       NodeClient
	BackupID   string
	RestoreDir string
	Sink       chan<- progress.Snapshot
}

// Restore fetches the chunk-index manifest named by opts.BackupID, recreates
// its folder structure under opts.RestoreDir, then fetches and writes every
// file chunk it references.
func Restore(ctx context.Context, opts RestoreOptions) error {
	idx, indexPath, err := fetchManifest(ctx, opts.Node, opts.BackupID)
	if err != nil {
		return err
	}
	defer idx.Close()
	defer os.Remove(indexPath)

	if err := restoreFolders(idx, opts.RestoreDir, nil); err != nil {
		return err
	}

	chunks, err := idx.GetAllChunks()
	if err != nil {
		return fmt.Errorf("clientapp: get all chunks: %w", err)
	}
	prog := progress.New(len(chunks), opts.Sink)

	for _, c := range chunks {
		content, err := requestChunk(ctx, opts.Node, c.ChunkIdentifier)
		if err != nil {
			return err
		}
		relPath, err := idx.GetFilePath(c.File)
		if err != nil {
			return fmt.Errorf("clientapp: resolve path for chunk %s: %w", c.ChunkIdentifier, err)
		}
		dest := filepath.Join(opts.RestoreDir, relPath)
		if err := writeNewFile(dest, content); err != nil {
			return err
		}
		prog.Increment()
	}
	return nil
}

// writeNewFile writes content to dest, refusing to overwrite a pre-existing
// file there, mirroring the original restore's
// OpenOptions::new().write(true).create_new(true).
func writeNewFile(dest string, content []byte) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("clientapp: restore destination already exists: %s", dest)
		}
		return fmt.Errorf("clientapp: create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("clientapp: write %s: %w", dest, err)
	}
	return nil
}

func fetchManifest(ctx context.Context, node NodeClient, backupID string) (*chunkindex.Index, string, error) {
	resp, err := node.Send(ctx, wire.NewGetChunks([]string{backupID}))
	if err != nil {
		return nil, "", err
	}
	body, ok := resp.Body.(wire.ReturnChunks)
	if !ok {
		return nil, "", ErrNodeCommunicationError
	}
	if len(body.Chunks) == 0 {
		return nil, "", &RootHandleChunkNotAvailableError{Identifier: backupID}
	}

	indexPath := filepath.Join(os.TempDir(), fmt.Sprintf("chunk_index-restore-%s.db", time.Now().UTC().Format(time.RFC3339Nano)))
	if err := os.WriteFile(indexPath, body.Chunks[0].ChunkContent, 0o644); err != nil {
		return nil, "", fmt.Errorf("clientapp: write manifest: %w", err)
	}
	idx, err := chunkindex.Open(indexPath)
	if err != nil {
		os.Remove(indexPath)
		return nil, "", fmt.Errorf("clientapp: open manifest: %w", err)
	}
	return idx, indexPath, nil
}

// restoreFolders recreates every folder directly under parent and recurses.
func restoreFolders(idx *chunkindex.Index, rootPath string, parent *int64) error {
	folders, err := idx.GetFoldersByParent(parent)
	if err != nil {
		return fmt.Errorf("clientapp: get folders by parent: %w", err)
	}
	for _, f := range folders {
		path := filepath.Join(rootPath, f.Name)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("clientapp: create folder %s: %w", path, err)
		}
		id := f.ID
		if err := restoreFolders(idx, path, &id); err != nil {
			return err
		}
	}
	return nil
}

func requestChunk(ctx context.Context, node NodeClient, identifier string) ([]byte, error) {
	resp, err := node.Send(ctx, wire.NewGetChunks([]string{identifier}))
	if err != nil {
		return nil, err
	}
	body, ok := resp.Body.(wire.ReturnChunks)
	if !ok {
		return nil, ErrNodeCommunicationError
	}
	if len(body.Chunks) == 0 {
		return nil, &ChunkNotAvailableError{Identifier: identifier}
	}
	return body.Chunks[len(body.Chunks)-1].ChunkContent, nil
}
