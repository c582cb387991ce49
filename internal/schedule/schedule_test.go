package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redbackup/backend/internal/blobstore"
	"github.com/redbackup/backend/internal/metadata"
	"github.com/redbackup/backend/internal/wire"
)

type fakePeer struct {
	addr    string
	store   *metadata.Store
	blobs   *blobstore.Store
	postedN int
}

func (p *fakePeer) Address() string { return p.addr }

func (p *fakePeer) Send(_ context.Context, req wire.Message) (wire.Message, error) {
	switch body := req.Body.(type) {
	case wire.GetChunkStates:
		in := make([]metadata.Chunk, 0, len(body.Chunks))
		for _, c := range body.Chunks {
			in = append(in, metadata.Chunk{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
		}
		updated, err := p.store.GetAndUpdate(in)
		if err != nil {
			return wire.Message{}, err
		}
		out := make([]wire.ChunkElement, 0, len(updated))
		for _, c := range updated {
			out = append(out, wire.ChunkElement{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
		}
		return wire.NewReturnChunkStates(out), nil
	case wire.PostChunks:
		acked := make([]wire.ChunkElement, 0, len(body.Chunks))
		for _, c := range body.Chunks {
			if err := p.blobs.Persist(c.Identifier, c.ChunkContent); err != nil {
				continue
			}
			p.postedN++
			if _, err := p.store.Add(metadata.Chunk{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle}); err != nil {
				continue
			}
			acked = append(acked, wire.ChunkElement{Identifier: c.Identifier, Expiration: c.Expiration, RootHandle: c.RootHandle})
		}
		return wire.NewAcknowledgeChunks(acked), nil
	}
	return wire.Message{}, nil
}

func newTestRunner(t *testing.T) (*Runner, *fakePeer) {
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

	peerMeta, err := metadata.Open(filepath.Join(t.TempDir(), "peer_meta.db"))
	if err != nil {
		t.Fatalf("metadata.Open failed: %v", err)
	}
	t.Cleanup(func() { peerMeta.Close() })
	peerBlobs, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.Open failed: %v", err)
	}
	peer := &fakePeer{addr: "peer:9000", store: peerMeta, blobs: peerBlobs}

	return New(meta, blobs, []Peer{peer}, nil, nil), peer
}

func TestRunIntegrityCheck_NoCorruption(t *testing.T) {
	r, _ := newTestRunner(t)
	content := []byte("ok chunk")
	id := blobstore.Identifier(content)
	exp := time.Now().Add(time.Hour)
	if err := r.Blobs.Persist(id, content); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if _, err := r.Metadata.Add(metadata.Chunk{Identifier: id, Expiration: exp, RootHandle: false}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	checked, err := r.runIntegrityCheck(context.Background())
	if err != nil {
		t.Fatalf("runIntegrityCheck failed: %v", err)
	}
	if checked != 1 {
		t.Errorf("expected 1 chunk checked, got %d", checked)
	}
}

func TestRunReplication_PushesMissingChunk(t *testing.T) {
	r, peer := newTestRunner(t)
	content := []byte("replicate me")
	id := blobstore.Identifier(content)
	exp := time.Now().Add(time.Hour)
	if err := r.Blobs.Persist(id, content); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if _, err := r.Metadata.Add(metadata.Chunk{Identifier: id, Expiration: exp, RootHandle: false}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	replicated, err := r.runReplication(context.Background())
	if err != nil {
		t.Fatalf("runReplication failed: %v", err)
	}
	if replicated != 1 {
		t.Errorf("expected 1 chunk replicated, got %d", replicated)
	}
	if peer.postedN != 1 {
		t.Errorf("expected peer to receive 1 PostChunks entry, got %d", peer.postedN)
	}
}

func TestRunReplication_PushesToEveryPeer(t *testing.T) {
	r, firstPeer := newTestRunner(t)

	peerMeta2, err := metadata.Open(filepath.Join(t.TempDir(), "peer2_meta.db"))
	if err != nil {
		t.Fatalf("metadata.Open failed: %v", err)
	}
	t.Cleanup(func() { peerMeta2.Close() })
	peerBlobs2, err := blobstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.Open failed: %v", err)
	}
	secondPeer := &fakePeer{addr: "peer2:9000", store: peerMeta2, blobs: peerBlobs2}
	r.Peers = []Peer{firstPeer, secondPeer}

	content := []byte("replicate to everyone")
	id := blobstore.Identifier(content)
	exp := time.Now().Add(time.Hour)
	if err := r.Blobs.Persist(id, content); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if _, err := r.Metadata.Add(metadata.Chunk{Identifier: id, Expiration: exp, RootHandle: false}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	replicated, err := r.runReplication(context.Background())
	if err != nil {
		t.Fatalf("runReplication failed: %v", err)
	}
	if replicated != 2 {
		t.Errorf("expected 2 total replications across both peers, got %d", replicated)
	}
	if firstPeer.postedN != 1 {
		t.Errorf("expected first peer to receive 1 PostChunks entry, got %d", firstPeer.postedN)
	}
	if secondPeer.postedN != 1 {
		t.Errorf("expected second peer to receive 1 PostChunks entry, got %d", secondPeer.postedN)
	}
}

func TestRunReplication_NoPeers(t *testing.T) {
	r, _ := newTestRunner(t)
	r.Peers = nil
	n, err := r.runReplication(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 with no peers, got %d", n)
	}
}
