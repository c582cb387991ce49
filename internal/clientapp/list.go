package clientapp

import (
	"context"
	"time"

	"github.com/redbackup/backend/internal/wire"
)

// BackupEntry identifies one backup stored on a node: its root handle (the
// backup id used by Restore) and the expiration the client requested for it.
type BackupEntry struct {
	Identifier string
	Expiration time.Time
}

// List asks node for every chunk flagged as a backup manifest and returns
// each as a BackupEntry, discarding the manifest content itself.
func List(ctx context.Context, node NodeClient) ([]BackupEntry, error) {
	resp, err := node.Send(ctx, wire.NewGetRootHandles())
	if err != nil {
		return nil, err
	}
	body, ok := resp.Body.(wire.ReturnRootHandles)
	if !ok {
		return nil, ErrNodeCommunicationError
	}

	out := make([]BackupEntry, 0, len(body.Chunks))
	for _, c := range body.Chunks {
		out = append(out, BackupEntry{Identifier: c.Identifier, Expiration: c.Expiration})
	}
	return out, nil
}
