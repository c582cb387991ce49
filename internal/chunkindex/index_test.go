package chunkindex

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk_index-test.db")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestAddFolder_RootAndChild(t *testing.T) {
	idx := openTestIndex(t)

	root, err := idx.AddFolder("x", nil)
	if err != nil {
		t.Fatalf("AddFolder (root) failed: %v", err)
	}
	child, err := idx.AddFolder("sub", &root.ID)
	if err != nil {
		t.Fatalf("AddFolder (child) failed: %v", err)
	}
	if child.ParentFolder == nil || *child.ParentFolder != root.ID {
		t.Errorf("expected child's parent to be root id %d, got %+v", root.ID, child.ParentFolder)
	}

	roots, err := idx.GetFoldersByParent(nil)
	if err != nil {
		t.Fatalf("GetFoldersByParent(nil) failed: %v", err)
	}
	if len(roots) != 1 || roots[0].ID != root.ID {
		t.Errorf("expected exactly [root], got %+v", roots)
	}

	children, err := idx.GetFoldersByParent(&root.ID)
	if err != nil {
		t.Fatalf("GetFoldersByParent(root) failed: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Errorf("expected exactly [child], got %+v", children)
	}
}

func TestAddFileAndChunk(t *testing.T) {
	idx := openTestIndex(t)
	root, _ := idx.AddFolder("x", nil)

	file, err := idx.AddFile("a.txt", time.Now(), root.ID)
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	chunk, err := idx.AddChunk("deadbeef", file.ID, nil)
	if err != nil {
		t.Fatalf("AddChunk failed: %v", err)
	}
	if chunk.Predecessor != nil {
		t.Error("expected predecessor to be nil")
	}

	all, err := idx.GetAllChunks()
	if err != nil {
		t.Fatalf("GetAllChunks failed: %v", err)
	}
	if len(all) != 1 || all[0].ChunkIdentifier != "deadbeef" {
		t.Errorf("unexpected chunks: %+v", all)
	}
}

func TestGetFilePath(t *testing.T) {
	idx := openTestIndex(t)
	root, _ := idx.AddFolder("x", nil)
	sub, _ := idx.AddFolder("documents", &root.ID)
	file, _ := idx.AddFile("a.txt", time.Now(), sub.ID)

	path, err := idx.GetFilePath(file.ID)
	if err != nil {
		t.Fatalf("GetFilePath failed: %v", err)
	}
	want := filepath.Join("x", "documents", "a.txt")
	if path != want {
		t.Errorf("expected %q, got %q", want, path)
	}
}

func TestGetFilePath_NotFound(t *testing.T) {
	idx := openTestIndex(t)
	if _, err := idx.GetFilePath(999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
