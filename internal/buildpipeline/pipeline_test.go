package buildpipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/chunkindex"
)

type stubLogger struct{ warnings []string }

func (s *stubLogger) Warn(msg string) { s.warnings = append(s.warnings, msg) }

func newTestIndex(t *testing.T) *chunkindex.Index {
	t.Helper()
	idx, err := chunkindex.Open(filepath.Join(t.TempDir(), "chunk_index-test.db"))
	if err != nil {
		t.Fatalf("chunkindex.Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBuild_SingleFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("redbackup"), 0o644); err != nil {
		t.Fatalf("write test file failed: %v", err)
	}

	idx := newTestIndex(t)
	if err := Build(idx, root, nil, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	chunks, err := idx.GetAllChunks()
	if err != nil {
		t.Fatalf("GetAllChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	want := blobstore.Identifier([]byte("redbackup"))
	if chunks[0].ChunkIdentifier != want {
		t.Errorf("expected identifier %s, got %s", want, chunks[0].ChunkIdentifier)
	}
}

func TestBuild_ExcludesPattern(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "app"), 0o755)
	os.MkdirAll(filepath.Join(root, "documents"), 0o755)
	os.WriteFile(filepath.Join(root, "app", "hello_world.rs"), []byte("fn main() {}"), 0o644)
	os.WriteFile(filepath.Join(root, "documents", "redbackup.txt"), []byte("redbackup"), 0o644)

	idx := newTestIndex(t)
	logger := &stubLogger{}
	if err := Build(idx, root, []string{"app/*.rs"}, logger); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	chunks, err := idx.GetAllChunks()
	if err != nil {
		t.Fatalf("GetAllChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after exclusion, got %d", len(chunks))
	}
	want := blobstore.Identifier([]byte("redbackup"))
	if chunks[0].ChunkIdentifier != want {
		t.Errorf("expected %s, got %s", want, chunks[0].ChunkIdentifier)
	}
	if len(logger.warnings) == 0 {
		t.Error("expected a warning logged for the excluded file")
	}
}

func TestBuild_NestedFolders(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	os.MkdirAll(nested, 0o755)
	os.WriteFile(filepath.Join(nested, "c.txt"), []byte("deep"), 0o644)

	idx := newTestIndex(t)
	if err := Build(idx, root, nil, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	chunks, err := idx.GetAllChunks()
	if err != nil {
		t.Fatalf("GetAllChunks failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	path, err := idx.GetFilePath(chunks[0].File)
	if err != nil {
		t.Fatalf("GetFilePath failed: %v", err)
	}
	want := filepath.Join(filepath.Base(root), "a", "b", "c.txt")
	if path != want {
		t.Errorf("expected path %q, got %q", want, path)
	}
}
