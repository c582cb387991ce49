package clientapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/buildpipeline"
	"github.com/redbackup/backend/internal/chunkindex"
	"github.com/redbackup/backend/internal/progress"
	"github.com/redbackup/backend/internal/wire"
)

// CreateOptions configures a single backup creation run.
type CreateOptions struct {
	Node              NodeClient
	NodeAddr          string // used only for error messages
	BackupDir         string
	Excludes          []string
	Expiration        time.Time
	ChunkIndexStorage string
	Logger            buildpipeline.Logger
	Sink              chan<- progress.Snapshot
}

// Create indexes opts.BackupDir into a fresh chunk-index file, uploads every
// chunk the node does not already have, and finally uploads the chunk-index
// itself as the backup's root handle. It returns the root handle's
// identifier — the backup id used by List and Restore.
func Create(ctx context.Context, opts CreateOptions) (string, error) {
	indexPath := filepath.Join(opts.ChunkIndexStorage, fmt.Sprintf("chunk_index-%s.db", time.Now().UTC().Format(time.RFC3339)))
	idx, err := chunkindex.Open(indexPath)
	if err != nil {
		return "", fmt.Errorf("clientapp: open chunk index: %w", err)
	}
	defer idx.Close()

	if err := buildIndex(idx, opts); err != nil {
		return "", err
	}

	if err := requestDesignation(ctx, opts); err != nil {
		return "", err
	}

	chunks, err := idx.GetAllChunks()
	if err != nil {
		return "", fmt.Errorf("clientapp: get all chunks: %w", err)
	}

	elements := make([]wire.ChunkElement, 0, len(chunks))
	for _, c := range chunks {
		elements = append(elements, wire.ChunkElement{Identifier: c.ChunkIdentifier, Expiration: opts.Expiration, RootHandle: false})
	}

	known, err := getAvailableChunks(ctx, opts.Node, elements)
	if err != nil {
		return "", err
	}
	remaining := reduceByKnown(chunks, known)

	prog := progress.New(len(remaining)+1, opts.Sink)
	rootDirParent := filepath.Dir(opts.BackupDir)

	for _, c := range remaining {
		relPath, err := idx.GetFilePath(c.File)
		if err != nil {
			return "", fmt.Errorf("clientapp: resolve path for chunk %s: %w", c.ChunkIdentifier, err)
		}
		data, err := os.ReadFile(filepath.Join(rootDirParent, relPath))
		if err != nil {
			return "", fmt.Errorf("clientapp: read %s: %w", relPath, err)
		}
		if err := sendChunk(ctx, opts.Node, wire.ChunkContentElement{
			Identifier: c.ChunkIdentifier, Expiration: opts.Expiration, RootHandle: false, ChunkContent: data,
		}); err != nil {
			return "", err
		}
		prog.Increment()
	}

	if err := idx.Close(); err != nil {
		return "", fmt.Errorf("clientapp: close chunk index before upload: %w", err)
	}
	indexBytes, err := os.ReadFile(indexPath)
	if err != nil {
		return "", fmt.Errorf("clientapp: read chunk index for upload: %w", err)
	}
	rootHandle := blobstore.Identifier(indexBytes)
	if err := sendChunk(ctx, opts.Node, wire.ChunkContentElement{
		Identifier: rootHandle, Expiration: opts.Expiration, RootHandle: true, ChunkContent: indexBytes,
	}); err != nil {
		return "", err
	}
	prog.Increment()

	return rootHandle, nil
}

func buildIndex(idx *chunkindex.Index, opts CreateOptions) error {
	return buildpipeline.Build(idx, opts.BackupDir, opts.Excludes, opts.Logger)
}

func requestDesignation(ctx context.Context, opts CreateOptions) error {
	resp, err := opts.Node.Send(ctx, wire.NewGetDesignation(0, opts.Expiration))
	if err != nil {
		return err
	}
	body, ok := resp.Body.(wire.ReturnDesignation)
	if !ok {
		return ErrNodeCommunicationError
	}
	if !body.Granted {
		return &DesignationNotGrantedError{Addr: opts.NodeAddr}
	}
	return nil
}

func getAvailableChunks(ctx context.Context, node NodeClient, elements []wire.ChunkElement) ([]wire.ChunkElement, error) {
	resp, err := node.Send(ctx, wire.NewGetChunkStates(elements))
	if err != nil {
		return nil, err
	}
	body, ok := resp.Body.(wire.ReturnChunkStates)
	if !ok {
		return nil, ErrNodeCommunicationError
	}
	return body.Chunks, nil
}

func reduceByKnown(chunks []chunkindex.Chunk, known []wire.ChunkElement) []chunkindex.Chunk {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k.Identifier] = true
	}
	out := make([]chunkindex.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !knownSet[c.ChunkIdentifier] {
			out = append(out, c)
		}
	}
	return out
}

func sendChunk(ctx context.Context, node NodeClient, chunk wire.ChunkContentElement) error {
	resp, err := node.Send(ctx, wire.NewPostChunks([]wire.ChunkContentElement{chunk}))
	if err != nil {
		return err
	}
	body, ok := resp.Body.(wire.AcknowledgeChunks)
	if !ok {
		return ErrNodeCommunicationError
	}
	if len(body.Chunks) == 0 || body.Chunks[0].Identifier != chunk.Identifier {
		return &ChunkNotAcknowledgedError{Identifier: chunk.Identifier}
	}
	return nil
}
