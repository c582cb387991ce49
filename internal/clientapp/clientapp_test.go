package clientapp_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/clientapp"
	"github.com/redbackup/backend/internal/metadata"
	"github.com/redbackup/backend/internal/nodeservice"
)

func startTestNode(t *testing.T) string {
	t.Helper()
	meta, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("metadata.Open failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	blobs, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.Open failed: %v", err)
	}

	svc := nodeservice.New(meta, blobs, nil, nil, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go svc.Serve(ln)
	return ln.Addr().String()
}

func TestCreateListRestore_RoundTrip(t *testing.T) {
	addr := startTestNode(t)

	backupDir := filepath.Join(t.TempDir(), "documents")
	if err := os.MkdirAll(filepath.Join(backupDir, "notes"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, "top.txt"), []byte("top level"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, "notes", "a.txt"), []byte("nested content"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	chunkIndexStorage := t.TempDir()
	node := clientapp.NewTCPNodeClient(addr, 5*time.Second)
	ctx := context.Background()

	backupID, err := clientapp.Create(ctx, clientapp.CreateOptions{
		Node:              node,
		NodeAddr:          addr,
		BackupDir:         backupDir,
		ChunkIndexStorage: chunkIndexStorage,
		Expiration:        time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(backupID) != 64 {
		t.Fatalf("expected a 64-char backup id, got %q", backupID)
	}

	entries, err := clientapp.List(ctx, node)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Identifier == backupID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected backup %s in list, got %+v", backupID, entries)
	}

	restoreDir := t.TempDir()
	if err := clientapp.Restore(ctx, clientapp.RestoreOptions{
		Node:       node,
		BackupID:   backupID,
		RestoreDir: restoreDir,
	}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	top, err := os.ReadFile(filepath.Join(restoreDir, "documents", "top.txt"))
	if err != nil {
		t.Fatalf("read restored top.txt failed: %v", err)
	}
	if string(top) != "top level" {
		t.Errorf("unexpected top.txt content: %q", top)
	}

	nested, err := os.ReadFile(filepath.Join(restoreDir, "documents", "notes", "a.txt"))
	if err != nil {
		t.Fatalf("read restored notes/a.txt failed: %v", err)
	}
	if string(nested) != "nested content" {
		t.Errorf("unexpected notes/a.txt content: %q", nested)
	}
}

func TestCreate_SkipsAlreadyUploadedChunks(t *testing.T) {
	addr := startTestNode(t)
	node := clientapp.NewTCPNodeClient(addr, 5*time.Second)
	ctx := context.Background()

	backupDir := filepath.Join(t.TempDir(), "docs")
	os.MkdirAll(backupDir, 0o755)
	os.WriteFile(filepath.Join(backupDir, "dup.txt"), []byte("same content"), 0o644)

	storage1, storage2 := t.TempDir(), t.TempDir()

	if _, err := clientapp.Create(ctx, clientapp.CreateOptions{
		Node: node, NodeAddr: addr, BackupDir: backupDir,
		ChunkIndexStorage: storage1, Expiration: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	if _, err := clientapp.Create(ctx, clientapp.CreateOptions{
		Node: node, NodeAddr: addr, BackupDir: backupDir,
		ChunkIndexStorage: storage2, Expiration: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
}
